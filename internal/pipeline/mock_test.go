package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/market-data-etl/internal/extract"
	"github.com/trogers1052/market-data-etl/internal/models"
)

type priceKey struct {
	symbol string
	date   time.Time
}

// MockWarehouse implements the Warehouse interface in memory
type MockWarehouse struct {
	mu         sync.Mutex
	runs       map[string]*models.RunAudit
	securities map[string]bool
	prices     map[priceKey]*models.PriceDaily
	returns    map[priceKey]float64
	volatility map[priceKey]float64

	// Failure injection
	StartRunErr     error
	UpsertPricesErr error
	PricesErrOn     time.Time

	// Track method calls for verification
	StartRunCalls  int
	FinishRunCalls int
}

func NewMockWarehouse() *MockWarehouse {
	return &MockWarehouse{
		runs:       make(map[string]*models.RunAudit),
		securities: make(map[string]bool),
		prices:     make(map[priceKey]*models.PriceDaily),
		returns:    make(map[priceKey]float64),
		volatility: make(map[priceKey]float64),
	}
}

func (m *MockWarehouse) StartRun(_ context.Context, runID string, symbols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartRunCalls++
	if m.StartRunErr != nil {
		return m.StartRunErr
	}
	if run, ok := m.runs[runID]; ok && !run.IsTerminal() {
		return nil
	}
	m.runs[runID] = &models.RunAudit{
		RunID:      runID,
		StartedAt:  time.Now(),
		Status:     models.RunStatusRunning,
		RunMetrics: models.RunMetrics{Symbols: symbols},
	}
	return nil
}

func (m *MockWarehouse) FinishRun(_ context.Context, runID, status string, metrics models.RunMetrics, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinishRunCalls++
	run, ok := m.runs[runID]
	if !ok {
		return errors.New("run not found: " + runID)
	}
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	run.RunMetrics = metrics
	run.Message = nil
	if message != "" {
		run.Message = &message
	}
	return nil
}

func (m *MockWarehouse) UpsertSecurities(_ context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.securities[s] = true
	}
	return nil
}

func (m *MockWarehouse) UpsertPrices(_ context.Context, rows []models.PriceRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertPricesErr != nil {
		return 0, m.UpsertPricesErr
	}
	for _, r := range rows {
		if !m.PricesErrOn.IsZero() && r.Date.Time.Equal(m.PricesErrOn) {
			return 0, errors.New("connection reset")
		}
	}
	for _, r := range rows {
		if !m.securities[r.Symbol.String] {
			return 0, errors.New("unknown security " + r.Symbol.String)
		}
		m.prices[priceKey{r.Symbol.String, r.Date.Time}] = &models.PriceDaily{
			Symbol:      r.Symbol.String,
			TradingDate: r.Date.Time,
			Open:        decimal.NewFromFloat(r.Open.Float64),
			High:        decimal.NewFromFloat(r.High.Float64),
			Low:         decimal.NewFromFloat(r.Low.Float64),
			Close:       decimal.NewFromFloat(r.Close.Float64),
			Volume:      r.VolumeInt(),
			Provenance:  r.Provenance,
			IngestedAt:  time.Now(),
		}
	}
	return len(rows), nil
}

func (m *MockWarehouse) UpsertReturns(_ context.Context, rows []models.ReturnRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.returns[priceKey{r.Symbol, r.TradingDate}] = r.DailyReturn
	}
	return len(rows), nil
}

func (m *MockWarehouse) UpsertVolatility(_ context.Context, rows []models.VolatilityRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.volatility[priceKey{r.Symbol, r.TradingDate}] = r.Vol30d
	}
	return len(rows), nil
}

func (m *MockWarehouse) GetPriceHistory(_ context.Context, symbols []string, through time.Time, limit int) ([]*models.PriceDaily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.PriceDaily
	for _, s := range symbols {
		var rows []*models.PriceDaily
		for k, p := range m.prices {
			if k.symbol == s && !k.date.After(through) {
				rows = append(rows, p)
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].TradingDate.Before(rows[j].TradingDate) })
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (m *MockWarehouse) Run(runID string) *models.RunAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID]
}

func (m *MockWarehouse) PriceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

// stubExtractor returns canned results or runs a hook
type stubExtractor struct {
	results []extract.Result
	err     error
	hook    func()
}

func (s *stubExtractor) FetchAll(context.Context, []string, time.Time) ([]extract.Result, error) {
	if s.hook != nil {
		s.hook()
	}
	return s.results, s.err
}

type stubStagedWriter struct {
	err    error
	writes int
}

func (s *stubStagedWriter) WriteStaged(time.Time, models.PriceBatch) (string, error) {
	s.writes++
	if s.err != nil {
		return "", s.err
	}
	return "staged.parquet", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.RunEvent
	err    error
}

func (r *recordingPublisher) PublishRunCompleted(_ context.Context, event *models.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}
