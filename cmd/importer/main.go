// Command importer runs one job against one file and exits non-zero unless
// every destination committed.
//
//	importer -job jobs/orders.yaml -file orders.csv [-report failures.csv]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/recimport/internal/config"
	"github.com/JonMunkholm/recimport/internal/importer"
	"github.com/JonMunkholm/recimport/internal/logging"
	_ "github.com/JonMunkholm/recimport/internal/tables" // Register all tables
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jobPath := fs.String("job", "", "job definition (YAML)")
	filePath := fs.String("file", "", "CSV file to import")
	reportPath := fs.String("report", "", "write rejected records to this CSV file")
	maxFailures := fs.Int("show", 20, "rejected records to print")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *jobPath == "" || *filePath == "" {
		fmt.Fprintln(stderr, "usage: importer -job job.yaml -file data.csv [-report failures.csv]")
		return 2
	}

	godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format)

	job, err := importer.LoadJob(*jobPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resources := &importer.Resources{}
	defer resources.Close()
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer pool.Close()
		resources.Postgres = pool
	}

	service, err := importer.NewService([]*importer.Job{job}, importer.Options{
		MaxConcurrentRuns:   1,
		MaxConcurrentWrites: cfg.Import.MaxConcurrentWrites,
		Timeout:             cfg.Import.Timeout,
		Resources:           resources,
		Logger:              logger,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	sum, err := service.Run(ctx, job.Name, importer.Input{Name: filepath.Base(*filePath), Path: *filePath})
	if err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		return 1
	}

	printSummary(stdout, sum, *maxFailures)

	if *reportPath != "" && len(sum.Failures) > 0 {
		if err := writeReport(*reportPath, sum); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "failure report: %s\n", *reportPath)
	}

	if sum.Status != importer.StatusSucceeded {
		return 1
	}
	return 0
}

func printSummary(w io.Writer, sum *importer.Summary, maxFailures int) {
	fmt.Fprintf(w, "run %s: %s\n", sum.RunID, sum.Status)
	fmt.Fprintf(w, "  job:          %s (table %s)\n", sum.Job, sum.Table)
	fmt.Fprintf(w, "  file:         %s\n", sum.FileName)
	fmt.Fprintf(w, "  destinations: %v\n", sum.Destinations)
	fmt.Fprintf(w, "  records:      %d read, %d written, %d rejected\n", sum.Records, sum.Written, sum.Rejected)
	fmt.Fprintf(w, "  duration:     %d ms\n", sum.DurationMs)
	if sum.UserError != nil {
		fmt.Fprintf(w, "  error:        %s (%s). %s\n", sum.UserError.Message, sum.UserError.Code, sum.UserError.Action)
	}

	for i, f := range sum.Failures {
		if i == maxFailures {
			fmt.Fprintf(w, "  ... %d more\n", len(sum.Failures)-maxFailures)
			break
		}
		fmt.Fprintf(w, "  record %d (%s): %s\n", f.Index+1, f.Stage, f.Fields.Error())
	}
}

func writeReport(path string, sum *importer.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	werr := importer.WriteFailureReport(f, sum.Failures)
	return errors.Join(werr, f.Close())
}
