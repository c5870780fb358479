package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

const (
	DefaultMonteCarloIterations = 100000
	DefaultMonteCarloMaxPlayers = 100
)

// MonteCarloConfig controls the sampled estimator. A zero Seed draws one
// from the clock; any other value makes runs repeatable for a fixed worker
// count.
type MonteCarloConfig struct {
	Iterations int
	MaxPlayers int
	Workers    int
	Seed       int64
}

// MonteCarloEstimator approximates the same expectation as Enumerator by
// sampling outcomes, for pools too large to enumerate.
type MonteCarloEstimator struct {
	config MonteCarloConfig
	logger *logrus.Logger
}

func NewMonteCarloEstimator(config MonteCarloConfig, log *logrus.Logger) *MonteCarloEstimator {
	if config.MaxPlayers <= 0 {
		config.MaxPlayers = DefaultMonteCarloMaxPlayers
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &MonteCarloEstimator{
		config: config,
		logger: log,
	}
}

// Seed reports the seed actually used, so a sampled run can be replayed.
func (m *MonteCarloEstimator) Seed() int64 {
	return m.config.Seed
}

// Estimate samples Iterations outcomes and averages each player's payout.
func (m *MonteCarloEstimator) Estimate(ctx context.Context, inst *models.ProblemInstance) (*Enumeration, error) {
	if err := Validate(inst, m.config.MaxPlayers); err != nil {
		return nil, err
	}
	iterations := m.config.Iterations
	if iterations < 1 {
		return nil, &ComputationError{Precondition: ErrInvalidIterations, Index: -1, Value: float64(iterations)}
	}

	start := time.Now()
	probs := inst.HitProbabilities()
	mass := stakeMass(inst)
	n := len(probs)
	workers := min(m.config.Workers, iterations)

	partials := make([][]float64, workers)
	per := iterations / workers
	extra := iterations % workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		count := per
		if w < extra {
			count++
		}
		rng := rand.New(rand.NewSource(m.config.Seed + int64(w)))
		g.Go(func() error {
			acc := make([]float64, n)
			partials[w] = acc
			return sampleOutcomes(gctx, rng, probs, mass, count, acc)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ev := make([]float64, n)
	for _, acc := range partials {
		for j, v := range acc {
			ev[j] += v
		}
	}
	for j := range ev {
		ev[j] /= float64(iterations)
	}

	m.logger.WithFields(logrus.Fields{
		"players":    n,
		"iterations": iterations,
		"workers":    workers,
		"seed":       m.config.Seed,
		"elapsed":    time.Since(start),
	}).Debug("Monte Carlo estimate finished")

	return &Enumeration{
		Results:           buildResults(inst, ev),
		OutcomesProcessed: uint64(iterations),
		Workers:           workers,
	}, nil
}

// sampleOutcomes draws count independent outcomes and adds each hitter's
// payout into acc.
func sampleOutcomes(ctx context.Context, rng *rand.Rand, probs, mass []float64, count int, acc []float64) error {
	hits := make([]int, 0, len(probs))
	for i := 0; i < count; i++ {
		if i&cancelCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		hits = hits[:0]
		survivors := 0.0
		for j, p := range probs {
			if rng.Float64() < p {
				hits = append(hits, j)
				survivors += mass[j]
			}
		}
		if survivors <= 0 {
			continue
		}
		payout := 1.0 / survivors
		for _, j := range hits {
			acc[j] += payout
		}
	}
	return nil
}
