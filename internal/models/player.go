package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// PlayerRecord is one validated row of the player table.
type PlayerRecord struct {
	Name           string  `json:"player"`
	HitProbability float64 `json:"prob_20"`
	StakeShare     float64 `json:"ownership"`
}

// ProblemInstance is an ordered set of players competing for one pool.
// Construct it with NewProblemInstance and treat it as read-only afterwards.
type ProblemInstance struct {
	Players  []PlayerRecord `json:"players"`
	PoolSize float64        `json:"pool_size"`
}

// NewProblemInstance copies players so later edits by the caller cannot leak in.
func NewProblemInstance(players []PlayerRecord, poolSize float64) *ProblemInstance {
	copied := make([]PlayerRecord, len(players))
	copy(copied, players)
	return &ProblemInstance{
		Players:  copied,
		PoolSize: poolSize,
	}
}

func (p *ProblemInstance) N() int {
	return len(p.Players)
}

func (p *ProblemInstance) HitProbabilities() []float64 {
	out := make([]float64, len(p.Players))
	for i, player := range p.Players {
		out[i] = player.HitProbability
	}
	return out
}

func (p *ProblemInstance) StakeShares() []float64 {
	out := make([]float64, len(p.Players))
	for i, player := range p.Players {
		out[i] = player.StakeShare
	}
	return out
}

// TotalStake sums raw stake shares in player order.
func (p *ProblemInstance) TotalStake() float64 {
	total := 0.0
	for _, player := range p.Players {
		total += player.StakeShare
	}
	return total
}

// NormalizedStakes divides every share by the total. Callers must have
// checked TotalStake() > 0.
func (p *ProblemInstance) NormalizedStakes() []float64 {
	total := p.TotalStake()
	out := make([]float64, len(p.Players))
	for i, player := range p.Players {
		out[i] = player.StakeShare / total
	}
	return out
}

// Fingerprint is a stable digest of the instance contents, used as a cache key.
func (p *ProblemInstance) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(p.PoolSize, 'g', -1, 64))
	for _, player := range p.Players {
		b.WriteByte('\x1e')
		b.WriteString(player.Name)
		b.WriteByte('\x1f')
		b.WriteString(strconv.FormatFloat(player.HitProbability, 'g', -1, 64))
		b.WriteByte('\x1f')
		b.WriteString(strconv.FormatFloat(player.StakeShare, 'g', -1, 64))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ResultRecord is the computed value for one player. ExactEV is the expected
// share of the unit pool won by one entrant holding the player, EVIndex the
// same value scaled by pool size (1.0 is a fair share).
type ResultRecord struct {
	Name           string  `json:"player"`
	HitProbability float64 `json:"prob_20"`
	StakeShare     float64 `json:"ownership"`
	ExactEV        float64 `json:"exact_ev"`
	EVIndex        float64 `json:"ev_index"`
}

// Mode selects how expected values are computed.
type Mode string

const (
	ModeExact      Mode = "exact"
	ModeMonteCarlo Mode = "monte_carlo"
)

// ParseMode maps user input to a Mode; empty input means exact.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeExact:
		return ModeExact, true
	case ModeMonteCarlo:
		return ModeMonteCarlo, true
	default:
		return "", false
	}
}

// Summary holds pool-level aggregates of one run.
type Summary struct {
	OutcomesProcessed     uint64  `json:"outcomes_processed"`
	NoSurvivorProbability float64 `json:"no_survivor_probability"`
	WeightedEVIndex       float64 `json:"weighted_ev_index"`
	TotalEV               float64 `json:"total_ev"`
	BestPlayer            string  `json:"best_player,omitempty"`
	Workers               int     `json:"workers"`
}

// EVResult is the envelope returned to API and CLI callers.
type EVResult struct {
	ID            string         `json:"id"`
	Mode          Mode           `json:"mode"`
	PoolSize      float64        `json:"pool_size"`
	Players       []ResultRecord `json:"players"`
	Summary       Summary        `json:"summary"`
	Iterations    int            `json:"iterations,omitempty"`
	Seed          int64          `json:"seed,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Cached        bool           `json:"cached"`
	CreatedAt     time.Time      `json:"created_at"`
}
