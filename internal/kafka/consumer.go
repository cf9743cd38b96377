package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/models"
	"github.com/trogers1052/market-data-etl/internal/pipeline"
)

// ErrInvalidRequest marks a run request that names no usable date
var ErrInvalidRequest = errors.New("invalid run request")

// Runner executes pipeline runs
type Runner interface {
	Run(ctx context.Context, date time.Time) (pipeline.Report, error)
	RunRange(ctx context.Context, start, end time.Time) ([]pipeline.Report, error)
}

// Consumer handles consuming run requests from Kafka. Requests are processed
// one at a time in partition order.
type Consumer struct {
	reader *kafka.Reader
	runner Runner
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer for run requests
func NewConsumer(brokers []string, topic, groupID string, runner Runner, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Consumer{
		reader: reader,
		runner: runner,
		logger: logger.Named("kafka"),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting kafka consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				c.logger.Error("error reading message", zap.Error(err))
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Error("error processing message",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	c.logger.Debug("received message",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("key", string(msg.Key)))

	var req models.RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("failed to unmarshal run request: %w", err)
	}

	// Only process RUN_REQUESTED events
	if req.EventType != models.EventRunRequested {
		c.logger.Debug("ignoring event type", zap.String("event_type", req.EventType))
		return nil
	}

	start, end, err := parseRequestDates(req)
	if err != nil {
		return err
	}

	if start.Equal(end) {
		report, err := c.runner.Run(ctx, start)
		if err != nil {
			return fmt.Errorf("run %s failed: %w", report.RunID, err)
		}
		c.logger.Info("run completed", zap.String("run_id", report.RunID), zap.String("status", report.Status))
		return nil
	}

	reports, err := c.runner.RunRange(ctx, start, end)
	if err != nil {
		return fmt.Errorf("range run failed: %w", err)
	}
	c.logger.Info("range completed", zap.Int("runs", len(reports)))
	return nil
}

// parseRequestDates resolves a request into an inclusive date range. A single
// date takes precedence over start and end.
func parseRequestDates(req models.RunRequest) (time.Time, time.Time, error) {
	if req.Date != "" {
		d, err := time.Parse(models.DateLayout, req.Date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad date %q: %w", ErrInvalidRequest, req.Date, err)
		}
		return d, d, nil
	}

	if req.Start == "" || req.End == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date or start and end required", ErrInvalidRequest)
	}
	start, err := time.Parse(models.DateLayout, req.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad start %q: %w", ErrInvalidRequest, req.Start, err)
	}
	end, err := time.Parse(models.DateLayout, req.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad end %q: %w", ErrInvalidRequest, req.End, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest, req.End, req.Start)
	}
	return start, end, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
