package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// TradingDates returns the weekdays in [start, end], oldest first
func TradingDates(start, end time.Time) []time.Time {
	var dates []time.Time
	for d := models.TruncateDate(start); !d.After(models.TruncateDate(end)); d = d.AddDate(0, 0, 1) {
		if models.IsTradingDate(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// RunRange runs every weekday in [start, end]. A failed date does not stop
// the remaining dates; the returned error joins the failure of every date.
// Cancelling ctx stops before the next date.
func (p *Pipeline) RunRange(ctx context.Context, start, end time.Time) ([]Report, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			end.Format(models.DateLayout), start.Format(models.DateLayout))
	}

	dates := TradingDates(start, end)
	reports := make([]Report, 0, len(dates))
	var errs []error

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := p.Run(ctx, date)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", date.Format(models.DateLayout), err))
		}
	}

	failed := len(errs)
	p.logger.Info("range finished",
		zap.Int("dates", len(dates)),
		zap.Int("failed", failed))
	return reports, errors.Join(errs...)
}
