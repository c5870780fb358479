package simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

var (
	ErrInstanceSize       = errors.New("instance too large/small for exact enumeration")
	ErrInvalidProbability = errors.New("invalid probability")
	ErrInvalidStake       = errors.New("invalid stake distribution")
	ErrInvalidPoolSize    = errors.New("invalid pool size")
	ErrInvalidIterations  = errors.New("invalid iteration count")
)

// ComputationError reports which precondition an instance violated.
// Index is the offending player, or -1 when the violation is instance-wide.
type ComputationError struct {
	Precondition error
	Index        int
	Value        float64
	Limit        int
}

func (e *ComputationError) Error() string {
	switch {
	case e.Index >= 0:
		return fmt.Sprintf("%v: player %d has value %v", e.Precondition, e.Index, e.Value)
	case e.Limit > 0:
		return fmt.Sprintf("%v: got %v, limit %d", e.Precondition, e.Value, e.Limit)
	default:
		return fmt.Sprintf("%v: got %v", e.Precondition, e.Value)
	}
}

func (e *ComputationError) Unwrap() error {
	return e.Precondition
}

// Validate checks an instance against the kernel preconditions.
func Validate(inst *models.ProblemInstance, maxPlayers int) error {
	if inst == nil {
		return &ComputationError{Precondition: ErrInstanceSize, Index: -1, Limit: maxPlayers}
	}

	n := inst.N()
	if n < 1 || n > maxPlayers {
		return &ComputationError{Precondition: ErrInstanceSize, Index: -1, Value: float64(n), Limit: maxPlayers}
	}

	for i, player := range inst.Players {
		p := player.HitProbability
		if math.IsNaN(p) || p < 0 || p > 1 {
			return &ComputationError{Precondition: ErrInvalidProbability, Index: i, Value: p}
		}
	}

	for i, player := range inst.Players {
		s := player.StakeShare
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return &ComputationError{Precondition: ErrInvalidStake, Index: i, Value: s}
		}
	}
	if total := inst.TotalStake(); !(total > 0) || math.IsInf(total, 0) {
		return &ComputationError{Precondition: ErrInvalidStake, Index: -1, Value: total}
	}

	if pool := inst.PoolSize; !(pool > 0) || math.IsInf(pool, 0) {
		return &ComputationError{Precondition: ErrInvalidPoolSize, Index: -1, Value: pool}
	}

	return nil
}
