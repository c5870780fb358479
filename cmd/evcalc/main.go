package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/export"
	"github.com/stitts-dev/survivor-ev/internal/intake"
	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/internal/services"
	"github.com/stitts-dev/survivor-ev/pkg/config"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], cfg, os.Stdin, os.Stdout, log); err != nil {
		log.WithError(err).Error("evcalc failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, cfg *config.Config, stdin io.Reader, stdout io.Writer, log *logrus.Logger) error {
	fs := flag.NewFlagSet("evcalc", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "player table CSV (Player,Prob_20+,Ownership); - reads stdin, empty uses the example table")
	out := fs.String("out", "", "output CSV path; empty writes to stdout")
	pool := fs.Float64("pool", cfg.DefaultPoolSize, "pool size (total simulated entrants)")
	modeFlag := fs.String("mode", string(models.ModeExact), "exact or monte_carlo")
	iterations := fs.Int("iterations", 0, "Monte Carlo iterations; 0 uses MONTE_CARLO_ITERATIONS")
	seed := fs.Int64("seed", 0, "Monte Carlo seed; 0 seeds from the clock")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	mode, ok := models.ParseMode(*modeFlag)
	if !ok {
		return fmt.Errorf("unknown mode %q", *modeFlag)
	}

	rows, err := readRows(*in, stdin)
	if err != nil {
		return err
	}

	service := services.NewEVService(cfg, cache.NewMemoryStore(), log)
	inst, err := intake.BuildInstance(rows, *pool, service.MaxPlayersFor(mode))
	if err != nil {
		return err
	}

	result, err := service.Compute(ctx, inst, services.RunOptions{
		Mode:       mode,
		Iterations: *iterations,
		Seed:       *seed,
	})
	if err != nil {
		return fmt.Errorf("failed to compute EV: %w", err)
	}

	if err := writeResults(*out, stdout, result.Players); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"run_id":                  result.ID,
		"mode":                    result.Mode,
		"players":                 len(result.Players),
		"outcomes":                result.Summary.OutcomesProcessed,
		"best_player":             result.Summary.BestPlayer,
		"no_survivor_probability": result.Summary.NoSurvivorProbability,
		"execution_time":          result.ExecutionTime,
	}).Info("EV export written")

	return nil
}

// writeResults writes the export CSV to path, or to stdout when path is empty.
func writeResults(path string, stdout io.Writer, results []models.ResultRecord) error {
	if path == "" {
		return export.WriteCSV(stdout, results)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := export.WriteCSV(f, results); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func readRows(path string, stdin io.Reader) ([]intake.RawRow, error) {
	switch path {
	case "":
		return intake.DefaultRows(), nil
	case "-":
		return export.ReadPlayerTable(stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return export.ReadPlayerTable(f)
}
