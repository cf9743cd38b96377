package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trogers1052/market-data-etl/internal/config"
	"github.com/trogers1052/market-data-etl/internal/models"
)

const validCSV = `Date,Open,High,Low,Close,Volume
2024-01-12,185.0,186.7,184.2,185.9,40444700
2024-01-15,186.0,188.5,185.1,187.4,55000000
2024-01-16,187.1,n/a,186.0,,61000000
`

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = value
	return nil
}

func testSourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		BaseURL:           baseURL,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		MaxRetries:        2,
	}
}

func TestStooqClientFetchDaily(t *testing.T) {
	t.Run("parses csv response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/q/d/l/", r.URL.Path)
			assert.Equal(t, "aapl.us", r.URL.Query().Get("s"))
			assert.Equal(t, "d", r.URL.Query().Get("i"))
			fmt.Fprint(w, validCSV)
		}))
		defer server.Close()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		batch, err := client.FetchDaily(context.Background(), "aapl.us")
		require.NoError(t, err)

		require.Len(t, batch.Rows, 3)
		assert.ElementsMatch(t, models.RequiredColumns, batch.Columns)
		assert.Equal(t, "aapl.us", batch.Rows[1].Symbol.String)
		assert.Equal(t, 187.4, batch.Rows[1].Close.Float64)
		assert.Equal(t, int64(55000000), batch.Rows[1].VolumeInt())

		assert.False(t, batch.Rows[2].High.Valid, "non-numeric value becomes null")
		assert.False(t, batch.Rows[2].Close.Valid, "empty value becomes null")
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, validCSV)
		}))
		defer server.Close()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		batch, err := client.FetchDaily(context.Background(), "aapl.us")
		require.NoError(t, err)
		assert.Len(t, batch.Rows, 3)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		_, err := client.FetchDaily(context.Background(), "aapl.us")

		var srcErr *SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, SourceErrStatus, srcErr.Kind)
		assert.Equal(t, http.StatusNotFound, srcErr.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("no data body is a parse failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "No data")
		}))
		defer server.Close()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		_, err := client.FetchDaily(context.Background(), "nope.us")

		var srcErr *SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, SourceErrParse, srcErr.Kind)
	})

	t.Run("header only is empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Date,Open,High,Low,Close,Volume\n")
		}))
		defer server.Close()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		_, err := client.FetchDaily(context.Background(), "aapl.us")

		var srcErr *SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, SourceErrEmpty, srcErr.Kind)
	})

	t.Run("unreachable host is a network failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		baseURL := server.URL
		server.Close()

		cfg := testSourceConfig(baseURL)
		cfg.MaxRetries = 0
		client := NewStooqClient(cfg, nil, 0, zaptest.NewLogger(t))
		_, err := client.FetchDaily(context.Background(), "aapl.us")

		var srcErr *SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, SourceErrNetwork, srcErr.Kind)
	})

	t.Run("cancelled context is not a source error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, validCSV)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewStooqClient(testSourceConfig(server.URL), nil, 0, zaptest.NewLogger(t))
		_, err := client.FetchDaily(ctx, "aapl.us")

		var srcErr *SourceError
		require.Error(t, err)
		assert.False(t, errors.As(err, &srcErr))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("serves repeated requests from cache", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			fmt.Fprint(w, validCSV)
		}))
		defer server.Close()

		cache := newMemoryCache()
		client := NewStooqClient(testSourceConfig(server.URL), cache, time.Hour, zaptest.NewLogger(t))

		for i := 0; i < 3; i++ {
			batch, err := client.FetchDaily(context.Background(), "aapl.us")
			require.NoError(t, err)
			assert.Len(t, batch.Rows, 3)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, 1, cache.sets)
	})
}

func TestParseDailyCSV(t *testing.T) {
	t.Run("missing volume column is reflected in schema", func(t *testing.T) {
		batch, err := ParseDailyCSV("x", []byte("Date,Open,High,Low,Close\n2024-01-15,1,2,0.5,1.5\n"))
		require.NoError(t, err)
		assert.False(t, batch.HasColumn(models.ColumnVolume))
		require.Len(t, batch.Rows, 1)
		assert.False(t, batch.Rows[0].Volume.Valid)
	})

	t.Run("unparseable date becomes null", func(t *testing.T) {
		batch, err := ParseDailyCSV("x", []byte("Date,Open,High,Low,Close,Volume\n15/01/2024,1,2,0.5,1.5,10\n"))
		require.NoError(t, err)
		require.Len(t, batch.Rows, 1)
		assert.False(t, batch.Rows[0].Date.Valid)
	})
}
