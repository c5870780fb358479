package intake

import (
	"fmt"
	"math"
	"strings"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

const DefaultPoolSize = 1000.0

const (
	CodeEmptyPlayerList    = "EMPTY_PLAYER_LIST"
	CodeTooManyPlayers     = "TOO_MANY_PLAYERS"
	CodeInvalidProbability = "INVALID_PROBABILITY"
	CodeInvalidOwnership   = "INVALID_OWNERSHIP"
	CodeInvalidPoolSize    = "INVALID_POOL_SIZE"
)

// RawRow is one row of the editable player table as submitted.
type RawRow struct {
	Player    string `json:"player"`
	Prob      Cell   `json:"prob_20"`
	Ownership Cell   `json:"ownership"`
}

// ValidationError is a user-facing rejection of the submitted table.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DefaultRows is the example table a new session starts with.
func DefaultRows() []RawRow {
	return []RawRow{
		{Player: "wemby", Prob: 0.8, Ownership: 0.2},
		{Player: "cade", Prob: 0.8, Ownership: 0.3},
		{Player: "durant", Prob: 0.8, Ownership: 0.2},
		{Player: "sengun", Prob: 0.6, Ownership: 0.08},
	}
}

// Clean trims names and drops rows without one. Numeric cells are already
// coerced by Cell.
func Clean(rows []RawRow) []models.PlayerRecord {
	players := make([]models.PlayerRecord, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.Player)
		if name == "" {
			continue
		}
		players = append(players, models.PlayerRecord{
			Name:           name,
			HitProbability: row.Prob.Float64(),
			StakeShare:     row.Ownership.Float64(),
		})
	}
	return players
}

// BuildInstance cleans rows and validates them against the caller cap.
func BuildInstance(rows []RawRow, poolSize float64, maxPlayers int) (*models.ProblemInstance, error) {
	if math.IsNaN(poolSize) || math.IsInf(poolSize, 0) || poolSize <= 0 {
		return nil, &ValidationError{
			Code:    CodeInvalidPoolSize,
			Message: "Pool size must be a positive number.",
			Field:   "pool_size",
		}
	}

	players := Clean(rows)
	if len(players) == 0 {
		return nil, &ValidationError{
			Code:    CodeEmptyPlayerList,
			Message: "Add at least one player.",
			Field:   "players",
		}
	}
	if maxPlayers > 0 && len(players) > maxPlayers {
		return nil, &ValidationError{
			Code:    CodeTooManyPlayers,
			Message: fmt.Sprintf("Max %d players for exact enumeration. Reduce the list or add a Monte Carlo mode.", maxPlayers),
			Field:   "players",
		}
	}

	total := 0.0
	for i, p := range players {
		if math.IsNaN(p.HitProbability) || p.HitProbability < 0 || p.HitProbability > 1 {
			return nil, &ValidationError{
				Code:    CodeInvalidProbability,
				Message: "Prob_20+ must be between 0 and 1.",
				Field:   fmt.Sprintf("players[%d].prob_20", i),
			}
		}
		if math.IsInf(p.StakeShare, 0) {
			return nil, &ValidationError{
				Code:    CodeInvalidOwnership,
				Message: "Ownership must be a finite number.",
				Field:   fmt.Sprintf("players[%d].ownership", i),
			}
		}
		if p.StakeShare < 0 {
			return nil, &ValidationError{
				Code:    CodeInvalidOwnership,
				Message: "Ownership must not be negative.",
				Field:   fmt.Sprintf("players[%d].ownership", i),
			}
		}
		total += p.StakeShare
	}
	if total <= 0 || math.IsInf(total, 0) {
		return nil, &ValidationError{
			Code:    CodeInvalidOwnership,
			Message: "Total ownership must be > 0.",
			Field:   "ownership",
		}
	}

	return models.NewProblemInstance(players, poolSize), nil
}
