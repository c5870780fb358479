package simulator

import (
	"gonum.org/v1/gonum/floats"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

// Summarize computes pool-level aggregates for an enumeration of inst.
//
// WeightedEVIndex is the stake-weighted EV index. The pool always pays out
// in full unless no staked player hits, so for exact runs it equals
// 1 - NoSurvivorProbability.
func Summarize(inst *models.ProblemInstance, enum *Enumeration) models.Summary {
	norm := inst.NormalizedStakes()

	noSurvivor := 1.0
	for j, player := range inst.Players {
		if norm[j] > 0 {
			noSurvivor *= 1.0 - player.HitProbability
		}
	}

	evs := make([]float64, len(enum.Results))
	weighted := make([]float64, len(enum.Results))
	for j, r := range enum.Results {
		evs[j] = r.ExactEV
		weighted[j] = norm[j] * r.EVIndex
	}

	summary := models.Summary{
		OutcomesProcessed:     enum.OutcomesProcessed,
		NoSurvivorProbability: noSurvivor,
		WeightedEVIndex:       floats.Sum(weighted),
		TotalEV:               floats.Sum(evs),
		Workers:               enum.Workers,
	}
	if len(evs) > 0 {
		summary.BestPlayer = enum.Results[floats.MaxIdx(evs)].Name
	}
	return summary
}
