package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// RawWriter persists the raw rows of one symbol and date
type RawWriter interface {
	WriteRaw(symbol string, date time.Time, provenance string, batch models.PriceBatch) (string, error)
}

// Result is the outcome of extracting one symbol. Failure is nil when the
// primary source answered and holds the reason when the synthetic fallback
// supplied the rows instead.
type Result struct {
	Symbol     string
	Batch      models.PriceBatch
	Provenance string
	Failure    *SourceError
	RawPath    string
}

// Empty reports whether no rows were extracted for the requested date
func (r Result) Empty() bool {
	return r.Batch.Len() == 0
}

// Extractor fetches one date of rows per symbol and records raw snapshots
type Extractor struct {
	primary     Source
	fallback    *SyntheticGenerator
	raw         RawWriter
	concurrency int
	logger      *zap.Logger
}

// NewExtractor creates an Extractor. A nil primary means the synthetic
// generator always supplies the data.
func NewExtractor(primary Source, fallback *SyntheticGenerator, raw RawWriter, concurrency int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Extractor{
		primary:     primary,
		fallback:    fallback,
		raw:         raw,
		concurrency: concurrency,
		logger:      logger.Named("extract"),
	}
}

// Fetch extracts the rows of symbol dated exactly on date. An empty result is
// not an error and writes no snapshot.
func (e *Extractor) Fetch(ctx context.Context, symbol string, date time.Time) (Result, error) {
	date = models.TruncateDate(date)
	res := Result{Symbol: symbol, Provenance: models.ProvenancePrimary}

	batch, err := e.fetchPrimary(ctx, symbol)
	if err != nil {
		var srcErr *SourceError
		if !errors.As(err, &srcErr) {
			return res, fmt.Errorf("failed to fetch %s: %w", symbol, err)
		}
		e.logger.Warn("primary source failed, using synthetic data",
			zap.String("symbol", symbol),
			zap.String("kind", string(srcErr.Kind)),
			zap.Error(err))

		res.Failure = srcErr
		res.Provenance = models.ProvenanceSynthetic
		batch = e.fallback.Bar(symbol, date)
	}

	res.Batch = batch.FilterDate(date)
	for i := range res.Batch.Rows {
		res.Batch.Rows[i].Provenance = res.Provenance
	}

	if res.Empty() {
		e.logger.Info("no rows for date", zap.String("symbol", symbol), zap.Time("date", date))
		return res, nil
	}

	path, err := e.raw.WriteRaw(symbol, date, res.Provenance, res.Batch)
	if err != nil {
		return res, fmt.Errorf("failed to write raw snapshot for %s: %w", symbol, err)
	}
	res.RawPath = path

	e.logger.Info("extracted rows",
		zap.String("symbol", symbol),
		zap.Int("rows", res.Batch.Len()),
		zap.String("provenance", res.Provenance))
	return res, nil
}

// FetchAll extracts every symbol for date. Results are returned in symbol
// order regardless of concurrency.
func (e *Extractor) FetchAll(ctx context.Context, symbols []string, date time.Time) ([]Result, error) {
	results := make([]Result, len(symbols))

	if e.concurrency == 1 {
		for i, symbol := range symbols {
			res, err := e.Fetch(ctx, symbol, date)
			if err != nil {
				return results[:i], err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			res, err := e.Fetch(gctx, symbol, date)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Extractor) fetchPrimary(ctx context.Context, symbol string) (models.PriceBatch, error) {
	if e.primary == nil {
		return models.PriceBatch{}, &SourceError{Kind: SourceErrDisabled, Symbol: symbol, Err: errors.New("primary source disabled")}
	}
	return e.primary.FetchDaily(ctx, symbol)
}
