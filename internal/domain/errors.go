package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("not authorized for this match")
	ErrMatchNotFound    = errors.New("match not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("match is not in a state that allows this action")
	ErrChallengeExpired = errors.New("this challenge has expired")
	ErrVersionConflict  = errors.New("match was modified concurrently")
	ErrInfrastructure   = errors.New("infrastructure failure")
	ErrInternalError    = errors.New("internal server error")
)

// Input errors. Each one wraps ErrInvalidInput.
var (
	ErrMissingOpponent      = fmt.Errorf("%w: opponent_id is required", ErrInvalidInput)
	ErrMissingWinner        = fmt.Errorf("%w: winner_id is required", ErrInvalidInput)
	ErrSelfChallenge        = fmt.Errorf("%w: cannot play against yourself", ErrInvalidInput)
	ErrInvalidGameKind      = fmt.Errorf("%w: unknown game type", ErrInvalidInput)
	ErrWinnerNotParticipant = fmt.Errorf("%w: winner must be one of the players", ErrInvalidInput)
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsInvalidInput reports whether err was caused by malformed caller input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether the caller may safely replay the action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInfrastructure) || errors.Is(err, ErrVersionConflict)
}

// Infra wraps a persistence or transport failure so that it classifies as
// ErrInfrastructure while keeping the underlying cause.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}

// ErrNotRanked is returned by the leaderboard cache for users without a cached rating
var ErrNotRanked = errors.New("user is not ranked")
