// Package snapshot persists raw and staged price batches as Parquet files.
//
// Layout:
//
//	<raw_dir>/symbol=<SYMBOL>/dt=<YYYY-MM-DD>.parquet
//	<raw_dir>/symbol=<SYMBOL>/dt=<YYYY-MM-DD>.synthetic.parquet
//	<staged_dir>/dt=<YYYY-MM-DD>.parquet
//
// Files are immutable. A snapshot is written to a temporary file and then
// hard-linked into place, so readers never see a partial file and an existing
// snapshot is never replaced.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guregu/null/v6"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// ErrWrite marks a failure to persist a snapshot file
var ErrWrite = errors.New("snapshot write failed")

// ErrNotFound is returned when reading a snapshot that was never written
var ErrNotFound = errors.New("snapshot not found")

// record is the on-disk row; columns are exactly the required batch columns
type record struct {
	Symbol string   `parquet:"symbol"`
	Date   string   `parquet:"date"`
	Open   *float64 `parquet:"open,optional"`
	High   *float64 `parquet:"high,optional"`
	Low    *float64 `parquet:"low,optional"`
	Close  *float64 `parquet:"close,optional"`
	Volume *int64   `parquet:"volume,optional"`
}

// Store writes and reads snapshot files
type Store struct {
	rawDir    string
	stagedDir string
	logger    *zap.Logger
}

// NewStore creates a snapshot store rooted at the given directories
func NewStore(rawDir, stagedDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rawDir:    rawDir,
		stagedDir: stagedDir,
		logger:    logger.Named("snapshot"),
	}
}

// RawPath returns the raw snapshot path for one symbol and date
func (s *Store) RawPath(symbol string, date time.Time, provenance string) string {
	name := "dt=" + date.Format(models.DateLayout)
	if provenance == models.ProvenanceSynthetic {
		name += ".synthetic"
	}
	return filepath.Join(s.rawDir, "symbol="+symbol, name+".parquet")
}

// StagedPath returns the staged snapshot path for a date
func (s *Store) StagedPath(date time.Time) string {
	return filepath.Join(s.stagedDir, "dt="+date.Format(models.DateLayout)+".parquet")
}

// WriteRaw persists the extracted rows of one symbol for one date
func (s *Store) WriteRaw(symbol string, date time.Time, provenance string, batch models.PriceBatch) (string, error) {
	path := s.RawPath(symbol, date, provenance)
	return path, s.write(path, batch)
}

// WriteStaged persists the cleaned batch for a date
func (s *Store) WriteStaged(date time.Time, batch models.PriceBatch) (string, error) {
	path := s.StagedPath(date)
	return path, s.write(path, batch)
}

// ReadRaw loads a raw snapshot
func (s *Store) ReadRaw(symbol string, date time.Time, provenance string) (models.PriceBatch, error) {
	return s.read(s.RawPath(symbol, date, provenance), provenance)
}

// ReadStaged loads a staged snapshot. Provenance is not stored in staged files.
func (s *Store) ReadStaged(date time.Time) (models.PriceBatch, error) {
	return s.read(s.StagedPath(date), "")
}

func (s *Store) write(path string, batch models.PriceBatch) error {
	if _, err := os.Stat(path); err == nil {
		s.logger.Info("snapshot already exists, keeping original", zap.String("path", path))
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %w", ErrWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file in %s: %w", ErrWrite, dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := parquet.Write(tmp, toRecords(batch)); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to encode %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", ErrWrite, path, err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			s.logger.Info("snapshot written concurrently, keeping original", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("%w: failed to publish %s: %w", ErrWrite, path, err)
	}

	s.logger.Debug("snapshot written", zap.String("path", path), zap.Int("rows", batch.Len()))
	return nil
}

func (s *Store) read(path, provenance string) (models.PriceBatch, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return models.PriceBatch{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	recs, err := parquet.ReadFile[record](path)
	if err != nil {
		return models.PriceBatch{}, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	batch := models.NewPriceBatch()
	for _, rec := range recs {
		row, err := rec.toRow()
		if err != nil {
			return models.PriceBatch{}, fmt.Errorf("invalid row in %s: %w", path, err)
		}
		row.Provenance = provenance
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

func toRecords(batch models.PriceBatch) []record {
	recs := make([]record, 0, len(batch.Rows))
	for _, r := range batch.Rows {
		rec := record{
			Symbol: r.Symbol.ValueOrZero(),
			Open:   r.Open.Ptr(),
			High:   r.High.Ptr(),
			Low:    r.Low.Ptr(),
			Close:  r.Close.Ptr(),
		}
		if r.Date.Valid {
			rec.Date = r.Date.Time.Format(models.DateLayout)
		}
		if r.Volume.Valid {
			v := r.VolumeInt()
			rec.Volume = &v
		}
		recs = append(recs, rec)
	}
	return recs
}

func (rec record) toRow() (models.PriceRow, error) {
	row := models.PriceRow{
		Open:  null.FloatFromPtr(rec.Open),
		High:  null.FloatFromPtr(rec.High),
		Low:   null.FloatFromPtr(rec.Low),
		Close: null.FloatFromPtr(rec.Close),
	}
	if rec.Symbol != "" {
		row.Symbol = null.StringFrom(rec.Symbol)
	}
	if rec.Date != "" {
		d, err := time.Parse(models.DateLayout, rec.Date)
		if err != nil {
			return row, fmt.Errorf("bad date %q: %w", rec.Date, err)
		}
		row.Date = null.TimeFrom(d)
	}
	if rec.Volume != nil {
		row.Volume = null.FloatFrom(float64(*rec.Volume))
	}
	return row, nil
}
