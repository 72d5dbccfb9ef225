// Package elo implements the logistic expected-score rating update.
//
//	expected_a = 1 / (1 + 10^((rating_b - rating_a) / 400))
//	new_a      = round(rating_a + K * (actual_a - expected_a))
//
// Both sides are rounded independently, so the two deltas need not sum to
// zero.
package elo

import (
	"fmt"
	"math"
	"strings"
)

const (
	// DefaultKFactor is the maximum rating change per match
	DefaultKFactor = 32
	// InitialRating is the rating of a player with no recorded matches
	InitialRating = 1500
)

// Rounding selects how fractional ratings are rounded
type Rounding string

const (
	RoundHalfAwayFromZero Rounding = "half_away_from_zero"
	RoundHalfEven         Rounding = "half_even"
)

// ParseRounding validates a rounding policy name; "" selects the default
func ParseRounding(s string) (Rounding, error) {
	switch r := Rounding(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RoundHalfAwayFromZero, nil
	case RoundHalfAwayFromZero, RoundHalfEven:
		return r, nil
	default:
		return "", fmt.Errorf("unknown rounding policy %q", s)
	}
}

func (r Rounding) round(x float64) float64 {
	if r == RoundHalfEven {
		return math.RoundToEven(x)
	}
	return math.Round(x)
}

// Winner designates the side that won
type Winner int

const (
	WinnerA Winner = iota + 1
	WinnerB
)

// Result holds both updated ratings and their deltas
type Result struct {
	NewA   int `json:"new_rating_a"`
	NewB   int `json:"new_rating_b"`
	DeltaA int `json:"delta_a"`
	DeltaB int `json:"delta_b"`
}

// Engine computes rating updates. The zero value is not usable; use New or Default.
type Engine struct {
	k        float64
	rounding Rounding
}

// New returns an engine with the given K factor and rounding policy
func New(k float64, rounding Rounding) (*Engine, error) {
	if k <= 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return nil, fmt.Errorf("k factor must be positive, got %v", k)
	}
	if rounding == "" {
		rounding = RoundHalfAwayFromZero
	}
	if _, err := ParseRounding(string(rounding)); err != nil {
		return nil, err
	}
	return &Engine{k: k, rounding: rounding}, nil
}

// Default returns an engine with K=32 and half-away-from-zero rounding
func Default() *Engine {
	return &Engine{k: DefaultKFactor, rounding: RoundHalfAwayFromZero}
}

// KFactor returns the engine's K
func (e *Engine) KFactor() float64 { return e.k }

// Rounding returns the engine's rounding policy
func (e *Engine) Rounding() Rounding { return e.rounding }

// ExpectedScore returns the probability that a beats b
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1 / (1 + math.Pow(10, float64(ratingB-ratingA)/400))
}

// Calculate returns new ratings for a and b after winner won
func (e *Engine) Calculate(ratingA, ratingB int, winner Winner) Result {
	expectedA := ExpectedScore(ratingA, ratingB)
	expectedB := 1 - expectedA

	actualA := 0.0
	if winner == WinnerA {
		actualA = 1
	}
	actualB := 1 - actualA

	newA := int(e.rounding.round(float64(ratingA) + e.k*(actualA-expectedA)))
	newB := int(e.rounding.round(float64(ratingB) + e.k*(actualB-expectedB)))

	return Result{
		NewA:   newA,
		NewB:   newB,
		DeltaA: newA - ratingA,
		DeltaB: newB - ratingB,
	}
}

// Rate adapts Calculate to the match lifecycle, with a as the challenger
func (e *Engine) Rate(challengerBefore, opponentBefore int, challengerWon bool) (int, int) {
	w := WinnerB
	if challengerWon {
		w = WinnerA
	}
	r := e.Calculate(challengerBefore, opponentBefore, w)
	return r.NewA, r.NewB
}
