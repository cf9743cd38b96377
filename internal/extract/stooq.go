package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/guregu/null/v6"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trogers1052/market-data-etl/internal/config"
	"github.com/trogers1052/market-data-etl/internal/models"
)

const (
	dailyEndpoint = "/q/d/l/"

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
	maxBodyBytes      = 32 << 20
)

// StooqClient fetches daily bars from the Stooq CSV download endpoint
type StooqClient struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	maxRetries  int
	cache       ResponseCache
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewStooqClient creates a Stooq client. cache may be nil.
func NewStooqClient(cfg config.SourceConfig, cache ResponseCache, cacheTTL time.Duration, logger *zap.Logger) *StooqClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StooqClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxRetries:  cfg.MaxRetries,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger.Named("stooq"),
		now:         time.Now,
	}
}

// FetchDaily returns the daily history of symbol. Failures are *SourceError
// except for context cancellation.
func (c *StooqClient) FetchDaily(ctx context.Context, symbol string) (models.PriceBatch, error) {
	body, err := c.download(ctx, symbol)
	if err != nil {
		return models.PriceBatch{}, err
	}

	batch, err := ParseDailyCSV(symbol, body)
	if err != nil {
		return models.PriceBatch{}, &SourceError{Kind: SourceErrParse, Symbol: symbol, Err: err}
	}
	if batch.Len() == 0 {
		return models.PriceBatch{}, &SourceError{Kind: SourceErrEmpty, Symbol: symbol, Err: errors.New("no rows returned")}
	}

	c.logger.Debug("fetched daily history", zap.String("symbol", symbol), zap.Int("rows", batch.Len()))
	return batch, nil
}

func (c *StooqClient) cacheKey(symbol string) string {
	return "stooq:daily:" + symbol + ":" + c.now().UTC().Format(models.DateLayout)
}

func (c *StooqClient) download(ctx context.Context, symbol string) ([]byte, error) {
	key := c.cacheKey(symbol)
	if c.cache != nil {
		body, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("response cache read failed", zap.String("symbol", symbol), zap.Error(err))
		} else if ok {
			c.logger.Debug("response cache hit", zap.String("symbol", symbol))
			return body, nil
		}
	}

	q := url.Values{}
	q.Set("s", symbol)
	q.Set("i", "d")
	requestURL := c.baseURL + dailyEndpoint + "?" + q.Encode()

	body, err := c.getWithRetry(ctx, symbol, requestURL)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Warn("response cache write failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return body, nil
}

func (c *StooqClient) getWithRetry(ctx context.Context, symbol, requestURL string) ([]byte, error) {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialRetryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(backoffConfig, uint64(c.maxRetries)), ctx)

	operation := func() ([]byte, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, backoff.Permanent(&SourceError{Kind: SourceErrNetwork, Symbol: symbol, Err: err})
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, backoff.Permanent(&SourceError{Kind: SourceErrNetwork, Symbol: symbol, Err: err})
		}
		req.Header.Set("Accept", "text/csv")
		req.Header.Set("User-Agent", "market-data-etl/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, &SourceError{Kind: SourceErrNetwork, Symbol: symbol, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &SourceError{Kind: SourceErrNetwork, Symbol: symbol, Err: fmt.Errorf("failed to read response body: %w", err)}
		}

		if resp.StatusCode != http.StatusOK {
			srcErr := &SourceError{
				Kind:       SourceErrStatus,
				Symbol:     symbol,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
			}
			if srcErr.Retryable() {
				c.logger.Warn("retryable source status", zap.String("symbol", symbol), zap.Int("status", resp.StatusCode))
				return nil, srcErr
			}
			return nil, backoff.Permanent(srcErr)
		}

		return body, nil
	}

	body, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return body, nil
}

// ParseDailyCSV parses a Stooq daily CSV body. Header names are trimmed and
// lower-cased; the symbol column is added. Values that do not parse become
// nulls so the validator can count them.
func ParseDailyCSV(symbol string, body []byte) (models.PriceBatch, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewPriceBatch(), nil
		}
		return models.PriceBatch{}, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	columns := []string{models.ColumnSymbol}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		index[name] = i
		if name != models.ColumnSymbol {
			columns = append(columns, name)
		}
	}
	if _, ok := index[models.ColumnDate]; !ok {
		return models.PriceBatch{}, fmt.Errorf("unexpected response header %q", strings.Join(header, ","))
	}

	batch := models.PriceBatch{Columns: columns}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.PriceBatch{}, fmt.Errorf("failed to read record: %w", err)
		}

		field := func(name string) (string, bool) {
			i, ok := index[name]
			if !ok || i >= len(rec) {
				return "", false
			}
			v := strings.TrimSpace(rec[i])
			return v, v != ""
		}

		row := models.PriceRow{Symbol: null.StringFrom(symbol)}
		if v, ok := field(models.ColumnDate); ok {
			if d, err := time.Parse(models.DateLayout, v); err == nil {
				row.Date = null.TimeFrom(d)
			}
		}
		row.Open = parseFloat(field(models.ColumnOpen))
		row.High = parseFloat(field(models.ColumnHigh))
		row.Low = parseFloat(field(models.ColumnLow))
		row.Close = parseFloat(field(models.ColumnClose))
		row.Volume = parseFloat(field(models.ColumnVolume))

		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

func parseFloat(v string, ok bool) null.Float {
	if !ok {
		return null.Float{}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}
