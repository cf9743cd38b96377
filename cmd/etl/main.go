// Market data ETL CLI.
//
// Usage:
//
//	etl run [--date YYYY-MM-DD | --start YYYY-MM-DD --end YYYY-MM-DD | --backfill]
//	etl serve
//	etl listen
//	etl migrate
//
// Configuration is read from config/pipeline.yml, or the file named by
// ETL_CONFIG or --config, and overridden by environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/api"
	"github.com/trogers1052/market-data-etl/internal/config"
	"github.com/trogers1052/market-data-etl/internal/kafka"
	"github.com/trogers1052/market-data-etl/internal/models"
	"github.com/trogers1052/market-data-etl/internal/pipeline"
)

const AppName = "etl"

// Exit codes
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return ExitUsageError
	}

	command, args := args[0], args[1:]
	switch command {
	case "run":
		return cmdRun(ctx, args, stdout, stderr)
	case "serve":
		return cmdServe(ctx, args, stderr)
	case "listen":
		return cmdListen(ctx, args, stderr)
	case "migrate":
		return cmdMigrate(args, stderr)
	case "--help", "-h", "help":
		printUsage(stdout)
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage(stderr)
		return ExitUsageError
	}
}

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	date := fs.String("date", "", "process a single date (YYYY-MM-DD)")
	start := fs.String("start", "", "first date of an inclusive range (YYYY-MM-DD)")
	end := fs.String("end", "", "last date of an inclusive range (YYYY-MM-DD)")
	backfill := fs.Bool("backfill", false, "process the start_date..end_date range from the config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	a, code := newApp(*configPath, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	flags := runFlags{Date: *date, Start: *start, End: *end, Backfill: *backfill}
	from, to, err := resolveDates(flags, a.cfg.Pipeline, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	if err := a.db.Migrate(); err != nil {
		a.logger.Error("failed to apply schema", zap.Error(err))
		return ExitConnectionErr
	}

	p, err := a.pipeline()
	if err != nil {
		a.logger.Error("invalid pipeline configuration", zap.Error(err))
		return ExitConfigError
	}

	var reports []pipeline.Report
	if from.Equal(to) {
		var report pipeline.Report
		report, err = p.Run(ctx, from)
		reports = append(reports, report)
	} else {
		reports, err = p.RunRange(ctx, from, to)
	}

	enc := json.NewEncoder(stdout)
	for _, r := range reports {
		enc.Encode(r)
	}

	if err != nil {
		a.logger.Error("run failed", zap.Error(err))
		return ExitDataError
	}
	return ExitSuccess
}

func cmdServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	a, code := newApp(*configPath, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	var requester api.RunRequester
	if a.cfg.Kafka.Enabled && a.cfg.Kafka.RunRequestsTopic != "" {
		producer := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.RunRequestsTopic)
		defer producer.Close()
		requester = producer
	}

	handler := api.NewHandler(a.db, requester, a.logger)
	server := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
			return ExitConnectionErr
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown failed", zap.Error(err))
		}
	}
	return ExitSuccess
}

func cmdListen(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	a, code := newApp(*configPath, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	if !a.cfg.Kafka.Enabled || a.cfg.Kafka.RunRequestsTopic == "" {
		a.logger.Error("listen requires kafka.enabled and kafka.run_requests_topic")
		return ExitConfigError
	}

	if err := a.db.Migrate(); err != nil {
		a.logger.Error("failed to apply schema", zap.Error(err))
		return ExitConnectionErr
	}

	p, err := a.pipeline()
	if err != nil {
		a.logger.Error("invalid pipeline configuration", zap.Error(err))
		return ExitConfigError
	}

	consumer := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.RunRequestsTopic, a.cfg.Kafka.GroupID, p, a.logger)
	if err := consumer.Start(ctx); err != nil {
		a.logger.Error("consumer stopped", zap.Error(err))
		return ExitConnectionErr
	}
	return ExitSuccess
}

func cmdMigrate(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	a, code := newApp(*configPath, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	if err := a.db.Migrate(); err != nil {
		a.logger.Error("failed to apply schema", zap.Error(err))
		return ExitConnectionErr
	}
	a.logger.Info("schema is up to date")
	return ExitSuccess
}

// runFlags are the date selectors of the run command
type runFlags struct {
	Date     string
	Start    string
	End      string
	Backfill bool
}

// resolveDates turns the run flags into an inclusive date range. With no
// selector the range is yesterday in UTC.
func resolveDates(f runFlags, cfg config.PipelineConfig, now time.Time) (time.Time, time.Time, error) {
	selectors := 0
	if f.Date != "" {
		selectors++
	}
	if f.Start != "" || f.End != "" {
		selectors++
	}
	if f.Backfill {
		selectors++
	}
	if selectors > 1 {
		return time.Time{}, time.Time{}, errors.New("use only one of --date, --start/--end or --backfill")
	}

	switch {
	case f.Date != "":
		d, err := time.Parse(models.DateLayout, f.Date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --date, use YYYY-MM-DD: %w", err)
		}
		return d, d, nil
	case f.Start != "" || f.End != "":
		return parseRange(f.Start, f.End, "--start", "--end")
	case f.Backfill:
		return parseRange(cfg.StartDate, cfg.EndDate, "pipeline.start_date", "pipeline.end_date")
	default:
		y := models.TruncateDate(now.UTC()).AddDate(0, 0, -1)
		return y, y, nil
	}
}

func parseRange(start, end, startName, endName string) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("both %s and %s are required", startName, endName)
	}
	from, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s, use YYYY-MM-DD: %w", startName, err)
	}
	to, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s, use YYYY-MM-DD: %w", endName, err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s cannot be before %s", endName, startName)
	}
	return from, to, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `%[1]s - daily market data ETL

USAGE:
    %[1]s <command> [options]

COMMANDS:
    run        Process one date, an inclusive weekday range, or yesterday (default)
    serve      Serve the run audit and warehouse read API over HTTP
    listen     Consume RUN_REQUESTED events from Kafka and run them
    migrate    Apply the warehouse schema

RUN OPTIONS:
    --date YYYY-MM-DD                   Single date
    --start YYYY-MM-DD --end YYYY-MM-DD Inclusive range, weekends skipped
    --backfill                          Range from pipeline.start_date/end_date
    --config PATH                       Config file (default %[2]s or $ETL_CONFIG)

EXIT CODES:
    0  success
    1  usage error
    2  configuration error
    3  warehouse or broker unreachable
    4  at least one date failed
`, AppName, "config/pipeline.yml")
}
