// Package simulator computes survivor-pool expected values, exactly by
// enumerating every hit/miss outcome or approximately by sampling.
package simulator

import (
	"context"
	"math/bits"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/models"
	"github.com/stitts-dev/survivor-ev/pkg/logger"
)

const (
	// DefaultMaxPlayers is the hard ceiling for exact enumeration. The caller
	// cap (15 by default) sits below it.
	DefaultMaxPlayers = 20

	// MaxSupportedPlayers keeps 1<<n inside a uint64 outcome counter.
	MaxSupportedPlayers = 62

	DefaultParallelThreshold = 14

	// cancelCheckMask sets how often the outcome loop polls its context.
	cancelCheckMask = 1<<12 - 1
)

// EnumeratorConfig controls the exact enumerator.
type EnumeratorConfig struct {
	MaxPlayers        int
	Workers           int
	ParallelThreshold int
}

func DefaultEnumeratorConfig() EnumeratorConfig {
	return EnumeratorConfig{
		MaxPlayers:        DefaultMaxPlayers,
		Workers:           1,
		ParallelThreshold: DefaultParallelThreshold,
	}
}

// Enumeration is the raw output of one computation, in input order.
type Enumeration struct {
	Results           []models.ResultRecord
	OutcomesProcessed uint64
	Workers           int
}

// Enumerator runs the exact 2^N expectation.
type Enumerator struct {
	config EnumeratorConfig
	logger *logrus.Logger
}

func NewEnumerator(config EnumeratorConfig, log *logrus.Logger) *Enumerator {
	if config.MaxPlayers <= 0 {
		config.MaxPlayers = DefaultMaxPlayers
	}
	if config.MaxPlayers > MaxSupportedPlayers {
		config.MaxPlayers = MaxSupportedPlayers
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Enumerator{
		config: config,
		logger: log,
	}
}

func (e *Enumerator) MaxPlayers() int {
	return e.config.MaxPlayers
}

// ComputeEV is the sequential entry point: one result per player, in input order.
func ComputeEV(players []models.PlayerRecord, poolSize float64) ([]models.ResultRecord, error) {
	enum, err := NewEnumerator(DefaultEnumeratorConfig(), nil).
		Compute(context.Background(), models.NewProblemInstance(players, poolSize))
	if err != nil {
		return nil, err
	}
	return enum.Results, nil
}

// Compute validates inst and enumerates every outcome. The sequential path
// visits outcomes in increasing order and players in increasing index, so
// its output is bit-reproducible for a given input.
func (e *Enumerator) Compute(ctx context.Context, inst *models.ProblemInstance) (*Enumeration, error) {
	if err := Validate(inst, e.config.MaxPlayers); err != nil {
		return nil, err
	}

	start := time.Now()
	probs := inst.HitProbabilities()
	mass := stakeMass(inst)
	n := len(probs)
	total := uint64(1) << uint(n)
	workers := e.workersFor(n, total)

	var (
		ev        []float64
		processed uint64
		err       error
	)
	if workers == 1 {
		ev = make([]float64, n)
		processed, err = enumerateRange(ctx, probs, mass, 0, total, ev)
	} else {
		ev, processed, err = enumerateParallel(ctx, probs, mass, total, workers)
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"players":  n,
		"outcomes": processed,
		"workers":  workers,
		"elapsed":  time.Since(start),
	}).Debug("Exact enumeration finished")

	return &Enumeration{
		Results:           buildResults(inst, ev),
		OutcomesProcessed: processed,
		Workers:           workers,
	}, nil
}

func (e *Enumerator) workersFor(n int, total uint64) int {
	if e.config.Workers <= 1 || n < e.config.ParallelThreshold {
		return 1
	}
	if uint64(e.config.Workers) > total {
		return int(total)
	}
	return e.config.Workers
}

// ScenarioProbability is the probability of the single outcome s, where bit j
// of s set means player j hit.
func ScenarioProbability(probs []float64, s uint64) float64 {
	prob := 1.0
	for j, p := range probs {
		if s>>uint(j)&1 == 1 {
			prob *= p
		} else {
			prob *= 1.0 - p
		}
	}
	return prob
}

// stakeMass is each player's simulated entrant count, normalizedStake*poolSize.
func stakeMass(inst *models.ProblemInstance) []float64 {
	norm := inst.NormalizedStakes()
	mass := make([]float64, len(norm))
	for j, s := range norm {
		mass[j] = s * inst.PoolSize
	}
	return mass
}

// enumerateRange accumulates outcomes [lo, hi) into ev and returns how many
// outcomes it visited. An outcome contributes only when its survivors hold
// positive stake and it has positive probability, so the all-miss outcome
// pays nobody.
func enumerateRange(ctx context.Context, probs, mass []float64, lo, hi uint64, ev []float64) (uint64, error) {
	var processed uint64
	for s := lo; s < hi; s++ {
		if (s-lo)&cancelCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
		}

		prob := 1.0
		survivors := 0.0
		for j, p := range probs {
			if s>>uint(j)&1 == 1 {
				prob *= p
				survivors += mass[j]
			} else {
				prob *= 1.0 - p
			}
		}
		processed++

		if survivors > 0 && prob > 0 {
			payout := 1.0 / survivors
			for m := s; m != 0; m &= m - 1 {
				ev[bits.TrailingZeros64(m)] += prob * payout
			}
		}
	}
	return processed, nil
}

func buildResults(inst *models.ProblemInstance, ev []float64) []models.ResultRecord {
	results := make([]models.ResultRecord, len(inst.Players))
	for j, player := range inst.Players {
		results[j] = models.ResultRecord{
			Name:           player.Name,
			HitProbability: player.HitProbability,
			StakeShare:     player.StakeShare,
			ExactEV:        ev[j],
			EVIndex:        ev[j] * inst.PoolSize,
		}
	}
	return results
}
