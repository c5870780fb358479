package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/cache"
	"github.com/stitts-dev/survivor-ev/internal/export"
	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/internal/simulator"
	"github.com/stitts-dev/survivor-ev/pkg/config"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

// RunOptions selects the computation mode for one request. Zero values fall
// back to configuration.
type RunOptions struct {
	Mode       models.Mode
	Iterations int
	Seed       int64
}

// EVService runs EV computations and memoizes their results.
type EVService struct {
	config     *config.Config
	store      cache.Store
	enumerator *simulator.Enumerator
	logger     *logrus.Logger
}

func NewEVService(cfg *config.Config, store cache.Store, log *logrus.Logger) *EVService {
	enumerator := simulator.NewEnumerator(simulator.EnumeratorConfig{
		MaxPlayers:        cfg.MaxEnumerationPlayers,
		Workers:           cfg.Workers(),
		ParallelThreshold: cfg.ParallelThreshold,
	}, log)

	return &EVService{
		config:     cfg,
		store:      store,
		enumerator: enumerator,
		logger:     log,
	}
}

// MaxPlayersFor is the table size accepted from callers for mode.
func (s *EVService) MaxPlayersFor(mode models.Mode) int {
	if mode == models.ModeMonteCarlo {
		return s.config.MaxMonteCarloPlayers
	}
	return s.config.MaxExactPlayers
}

// Compute returns the EV result for inst, from the cache when the same
// instance was computed before with the same options.
func (s *EVService) Compute(ctx context.Context, inst *models.ProblemInstance, opts RunOptions) (*models.EVResult, error) {
	if opts.Mode == "" {
		opts.Mode = models.ModeExact
	}
	if opts.Mode == models.ModeMonteCarlo && opts.Iterations == 0 {
		opts.Iterations = s.config.MonteCarloIterations
	}

	memoKey := s.memoKey(inst, opts)
	if memoKey != "" {
		if cached := s.lookup(ctx, memoKey); cached != nil {
			return cached, nil
		}
	}

	start := time.Now()
	runID := uuid.New().String()
	log := logger.WithRunContext(s.logger, runID, string(opts.Mode)).WithField("players", inst.N())

	var (
		enum *simulator.Enumeration
		seed int64
		err  error
	)
	switch opts.Mode {
	case models.ModeExact:
		enum, err = s.enumerator.Compute(ctx, inst)
	case models.ModeMonteCarlo:
		if opts.Iterations < 1 || opts.Iterations > s.config.MaxMonteCarloIterations {
			return nil, &simulator.ComputationError{
				Precondition: simulator.ErrInvalidIterations,
				Index:        -1,
				Value:        float64(opts.Iterations),
				Limit:        s.config.MaxMonteCarloIterations,
			}
		}
		estimator := simulator.NewMonteCarloEstimator(simulator.MonteCarloConfig{
			Iterations: opts.Iterations,
			MaxPlayers: s.config.MaxMonteCarloPlayers,
			Workers:    s.config.Workers(),
			Seed:       opts.Seed,
		}, s.logger)
		seed = estimator.Seed()
		enum, err = estimator.Estimate(ctx, inst)
	default:
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	players := make([]models.ResultRecord, len(enum.Results))
	copy(players, enum.Results)
	export.SortByEVIndex(players)

	result := &models.EVResult{
		ID:            runID,
		Mode:          opts.Mode,
		PoolSize:      inst.PoolSize,
		Players:       players,
		Summary:       simulator.Summarize(inst, enum),
		Seed:          seed,
		ExecutionTime: time.Since(start),
		CreatedAt:     time.Now().UTC(),
	}
	if opts.Mode == models.ModeMonteCarlo {
		result.Iterations = opts.Iterations
	}

	log.WithFields(logrus.Fields{
		"outcomes":       result.Summary.OutcomesProcessed,
		"workers":        result.Summary.Workers,
		"best_player":    result.Summary.BestPlayer,
		"execution_time": result.ExecutionTime,
	}).Info("EV computation completed")

	if err := s.store.SaveResult(ctx, result, memoKey, s.config.CacheTTL); err != nil {
		log.WithError(err).Warn("Failed to cache EV result")
	}

	return result, nil
}

// GetResult loads a previously computed result by id.
func (s *EVService) GetResult(ctx context.Context, id string) (*models.EVResult, error) {
	result, err := s.store.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Cached = true
	return result, nil
}

// memoKey is empty when the run must not be memoized: a clock-seeded
// sample is not reproducible.
func (s *EVService) memoKey(inst *models.ProblemInstance, opts RunOptions) string {
	fingerprint := inst.Fingerprint()
	switch opts.Mode {
	case models.ModeExact:
		return fmt.Sprintf("%s:%s", opts.Mode, fingerprint)
	case models.ModeMonteCarlo:
		if opts.Seed == 0 {
			return ""
		}
		return fmt.Sprintf("%s:%d:%d:%d:%s", opts.Mode, opts.Iterations, opts.Seed, s.config.Workers(), fingerprint)
	default:
		return ""
	}
}

func (s *EVService) lookup(ctx context.Context, key string) *models.EVResult {
	id, err := s.store.LookupInstance(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.WithError(err).Warn("EV cache lookup failed")
		}
		return nil
	}

	result, err := s.store.GetResult(ctx, id)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.WithError(err).Warn("EV cache read failed")
		}
		return nil
	}

	result.Cached = true
	s.logger.WithFields(logrus.Fields{
		"run_id": id,
		"mode":   result.Mode,
	}).Debug("Serving memoized EV result")
	return result
}
