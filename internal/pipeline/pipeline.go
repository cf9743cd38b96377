// Package pipeline runs one trading date through extract, validate, stage,
// load and transform, recording the outcome in the run audit table.
package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/config"
	"github.com/trogers1052/market-data-etl/internal/extract"
	"github.com/trogers1052/market-data-etl/internal/models"
	"github.com/trogers1052/market-data-etl/internal/quality"
	"github.com/trogers1052/market-data-etl/internal/snapshot"
	"github.com/trogers1052/market-data-etl/internal/transform"
)

// ErrConfiguration is returned by New when settings or dependencies are unusable
var ErrConfiguration = errors.New("invalid pipeline configuration")

// EmptyRunMessage is the audit message of a run that extracted nothing
const EmptyRunMessage = "no rows extracted for process date"

// Stage names the step a run is in
type Stage string

// Run stages in execution order
const (
	StageStarted        Stage = "STARTED"
	StageExtracting     Stage = "EXTRACTING"
	StageValidating     Stage = "VALIDATING"
	StageStaging        Stage = "STAGING"
	StageLoadingPrices  Stage = "LOADING_PRICES"
	StageTransforming   Stage = "TRANSFORMING"
	StageLoadingDerived Stage = "LOADING_DERIVED"
	StageSuccess        Stage = "SUCCESS"
	StageFailed         Stage = "FAILED"
)

// ErrorKind classifies a fatal run failure
type ErrorKind string

const (
	KindSchemaViolation ErrorKind = "schema_violation"
	KindStorageWrite    ErrorKind = "storage_write"
	KindWarehouse       ErrorKind = "warehouse"
	KindInternal        ErrorKind = "internal"
)

// StageError is the error returned by Run. Its message is what the audit row records.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Warehouse is the subset of the database layer a run needs
type Warehouse interface {
	StartRun(ctx context.Context, runID string, symbols int) error
	FinishRun(ctx context.Context, runID, status string, metrics models.RunMetrics, message string) error
	UpsertSecurities(ctx context.Context, symbols []string) error
	UpsertPrices(ctx context.Context, rows []models.PriceRow) (int, error)
	UpsertReturns(ctx context.Context, rows []models.ReturnRow) (int, error)
	UpsertVolatility(ctx context.Context, rows []models.VolatilityRow) (int, error)
	GetPriceHistory(ctx context.Context, symbols []string, through time.Time, limit int) ([]*models.PriceDaily, error)
}

// Extractor fetches one date of rows for every symbol
type Extractor interface {
	FetchAll(ctx context.Context, symbols []string, date time.Time) ([]extract.Result, error)
}

// StagedWriter persists the cleaned batch of a date
type StagedWriter interface {
	WriteStaged(date time.Time, batch models.PriceBatch) (string, error)
}

// EventPublisher announces finished runs
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event *models.RunEvent) error
}

// Settings are the per-run parameters. They do not change during a run.
type Settings struct {
	Symbols          []string
	VolatilityWindow int
}

// SettingsFromConfig extracts the run settings from the application config
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Symbols:          cfg.Pipeline.Symbols,
		VolatilityWindow: cfg.Transform.VolatilityWindow,
	}
}

// Deps are the collaborators of a pipeline. Events and Logger are optional.
type Deps struct {
	Warehouse Warehouse
	Extractor Extractor
	Staged    StagedWriter
	Events    EventPublisher
	Logger    *zap.Logger
}

// Report summarizes one run
type Report struct {
	RunID            string            `json:"run_id"`
	Date             time.Time         `json:"date"`
	Status           string            `json:"status"`
	Stage            Stage             `json:"stage"`
	Metrics          models.RunMetrics `json:"metrics"`
	Message          string            `json:"message,omitempty"`
	StagedPath       string            `json:"staged_path,omitempty"`
	Fallbacks        []string          `json:"fallbacks,omitempty"`
	ReturnsLoaded    int               `json:"returns_loaded"`
	VolatilityLoaded int               `json:"volatility_loaded"`
}

// Pipeline orchestrates daily runs
type Pipeline struct {
	settings  Settings
	warehouse Warehouse
	extractor Extractor
	staged    StagedWriter
	events    EventPublisher
	logger    *zap.Logger
}

// New validates settings and dependencies. Nothing is written on failure.
func New(settings Settings, deps Deps) (*Pipeline, error) {
	if len(settings.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols configured", ErrConfiguration)
	}
	seen := make(map[string]bool, len(settings.Symbols))
	for _, s := range settings.Symbols {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty symbol", ErrConfiguration)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrConfiguration, s)
		}
		seen[s] = true
	}
	if settings.VolatilityWindow < 2 {
		return nil, fmt.Errorf("%w: volatility window must be at least 2, got %d", ErrConfiguration, settings.VolatilityWindow)
	}
	if deps.Warehouse == nil || deps.Extractor == nil || deps.Staged == nil {
		return nil, fmt.Errorf("%w: warehouse, extractor and staged writer are required", ErrConfiguration)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		settings:  Settings{Symbols: slices.Clone(settings.Symbols), VolatilityWindow: settings.VolatilityWindow},
		warehouse: deps.Warehouse,
		extractor: deps.Extractor,
		staged:    deps.Staged,
		events:    deps.Events,
		logger:    logger.Named("pipeline"),
	}, nil
}

// RunID derives the deterministic id of a run from its date and symbol set
func RunID(date time.Time, symbols []string) string {
	sorted := slices.Clone(symbols)
	slices.Sort(sorted)
	sum := sha1.Sum([]byte(date.Format(models.DateLayout) + "|" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// Run processes one date. The audit row is always finalized once it has been
// created, including when the run panics or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, date time.Time) (report Report, err error) {
	date = models.TruncateDate(date)
	report = Report{
		RunID:   RunID(date, p.settings.Symbols),
		Date:    date,
		Status:  models.RunStatusRunning,
		Stage:   StageStarted,
		Metrics: models.RunMetrics{Symbols: len(p.settings.Symbols)},
	}
	logger := p.logger.With(zap.String("run_id", report.RunID), zap.String("date", date.Format(models.DateLayout)))

	if err := p.warehouse.StartRun(ctx, report.RunID, len(p.settings.Symbols)); err != nil {
		report.Status = models.RunStatusFailed
		return report, &StageError{Stage: StageStarted, Kind: KindWarehouse, Err: err}
	}
	logger.Info("run started", zap.Strings("symbols", p.settings.Symbols))

	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: report.Stage, Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
		err = p.finish(ctx, &report, err, logger)
	}()

	err = p.execute(ctx, date, &report, logger)
	return report, err
}

func (p *Pipeline) execute(ctx context.Context, date time.Time, report *Report, logger *zap.Logger) error {
	report.Stage = StageExtracting
	results, err := p.extractor.FetchAll(ctx, p.settings.Symbols, date)
	if err != nil {
		return stageError(report.Stage, err)
	}

	var batches []models.PriceBatch
	for _, res := range results {
		if res.Failure != nil {
			report.Fallbacks = append(report.Fallbacks, res.Symbol)
		}
		if res.Empty() {
			continue
		}
		report.Metrics.ExtractedRows += res.Batch.Len()
		batches = append(batches, res.Batch)
	}

	if len(batches) == 0 {
		report.Message = EmptyRunMessage
		logger.Info("no rows extracted")
		return nil
	}
	raw := models.Concat(batches...)

	report.Stage = StageValidating
	counts, err := quality.Validate(raw)
	if err != nil {
		return stageError(report.Stage, err)
	}
	report.Metrics.AddViolations(counts)
	if counts.Total() > 0 {
		logger.Warn("data quality violations",
			zap.Int("null", counts.NullViolations),
			zap.Int("duplicate", counts.DuplicateViolations),
			zap.Int("nonpositive_price", counts.NonPositivePrice))
	}
	cleaned := quality.Clean(raw)

	report.Stage = StageStaging
	path, err := p.staged.WriteStaged(date, cleaned)
	if err != nil {
		return stageError(report.Stage, err)
	}
	report.StagedPath = path

	report.Stage = StageLoadingPrices
	symbols := cleaned.Symbols()
	slices.Sort(symbols)
	if err := p.warehouse.UpsertSecurities(ctx, symbols); err != nil {
		return stageError(report.Stage, err)
	}
	loaded, err := p.warehouse.UpsertPrices(ctx, cleaned.Rows)
	if err != nil {
		return stageError(report.Stage, err)
	}
	report.Metrics.LoadedPrices = loaded

	if len(symbols) == 0 {
		return nil
	}

	report.Stage = StageTransforming
	history, err := p.warehouse.GetPriceHistory(ctx, symbols, date, p.settings.VolatilityWindow+1)
	if err != nil {
		return &StageError{Stage: report.Stage, Kind: KindWarehouse, Err: err}
	}
	batch := models.PriceHistoryBatch(history)
	returns := transform.ReturnsOnDate(transform.DailyReturns(batch), date)
	vol := transform.VolatilityOnDate(transform.RollingVolatility(batch, p.settings.VolatilityWindow), date)

	report.Stage = StageLoadingDerived
	if report.ReturnsLoaded, err = p.warehouse.UpsertReturns(ctx, returns); err != nil {
		return stageError(report.Stage, err)
	}
	if report.VolatilityLoaded, err = p.warehouse.UpsertVolatility(ctx, vol); err != nil {
		return stageError(report.Stage, err)
	}
	return nil
}

// finish writes the terminal audit state and announces the run
func (p *Pipeline) finish(ctx context.Context, report *Report, runErr error, logger *zap.Logger) error {
	ctx = context.WithoutCancel(ctx)

	status := models.RunStatusSuccess
	if runErr != nil {
		status = models.RunStatusFailed
		report.Message = runErr.Error()
	}

	if err := p.warehouse.FinishRun(ctx, report.RunID, status, report.Metrics, report.Message); err != nil {
		logger.Error("failed to finalize run audit", zap.Error(err))
		if runErr == nil {
			status = models.RunStatusFailed
			runErr = &StageError{Stage: report.Stage, Kind: KindWarehouse, Err: err}
			report.Message = runErr.Error()
		}
	}

	report.Status = status
	if status == models.RunStatusSuccess {
		report.Stage = StageSuccess
		logger.Info("run succeeded",
			zap.Int("extracted_rows", report.Metrics.ExtractedRows),
			zap.Int("loaded_prices", report.Metrics.LoadedPrices),
			zap.Int("returns", report.ReturnsLoaded),
			zap.Int("volatility", report.VolatilityLoaded),
			zap.Strings("fallbacks", report.Fallbacks))
	} else {
		logger.Error("run failed", zap.String("stage", string(report.Stage)), zap.Error(runErr))
		report.Stage = StageFailed
	}

	p.publish(ctx, report, logger)
	return runErr
}

func (p *Pipeline) publish(ctx context.Context, report *Report, logger *zap.Logger) {
	if p.events == nil {
		return
	}
	event := &models.RunEvent{
		EventType:   models.EventRunCompleted,
		RunID:       report.RunID,
		ProcessDate: report.Date.Format(models.DateLayout),
		Status:      report.Status,
		Metrics:     report.Metrics,
		Message:     report.Message,
		Timestamp:   time.Now().UTC(),
	}
	if err := p.events.PublishRunCompleted(ctx, event); err != nil {
		logger.Warn("failed to publish run event", zap.Error(err))
	}
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: classify(stage, err), Err: err}
}

func classify(stage Stage, err error) ErrorKind {
	switch {
	case errors.Is(err, quality.ErrMissingColumns):
		return KindSchemaViolation
	case errors.Is(err, snapshot.ErrWrite):
		return KindStorageWrite
	case stage == StageLoadingPrices || stage == StageLoadingDerived:
		return KindWarehouse
	default:
		return KindInternal
	}
}
