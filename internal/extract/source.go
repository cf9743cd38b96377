// Package extract obtains daily price rows per symbol from the primary quote
// source, falling back to a deterministic synthetic series when the source
// cannot answer.
package extract

import (
	"context"
	"fmt"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// Source returns the full daily history of one symbol
type Source interface {
	FetchDaily(ctx context.Context, symbol string) (models.PriceBatch, error)
}

// SourceErrorKind classifies primary source failures
type SourceErrorKind string

// Source error kinds. All of them are recovered by the synthetic fallback.
const (
	SourceErrNetwork  SourceErrorKind = "network"
	SourceErrStatus   SourceErrorKind = "status"
	SourceErrParse    SourceErrorKind = "parse"
	SourceErrEmpty    SourceErrorKind = "empty"
	SourceErrDisabled SourceErrorKind = "disabled"
)

// SourceError is the only error kind a Source may return that triggers the
// fallback. Anything else, such as context cancellation, aborts extraction.
type SourceError struct {
	Kind       SourceErrorKind
	Symbol     string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s error for %s (status %d): %v", e.Kind, e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s error for %s: %v", e.Kind, e.Symbol, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed
func (e *SourceError) Retryable() bool {
	switch e.Kind {
	case SourceErrNetwork:
		return true
	case SourceErrStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}
