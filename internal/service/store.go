package service

import (
	"context"

	"github.com/NotIan11/TechELO/internal/domain"
)

// MatchStore persists matches with per-row compare-and-swap on Version.
//
// Update methods write m only if the stored version equals expectedVersion,
// returning domain.ErrVersionConflict otherwise. On success m.Version is
// advanced by one.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	UpdateMatch(ctx context.Context, m *domain.Match, expectedVersion int64) error
	// CompleteMatch writes the match and applies both rating changes atomically.
	// Counters are incremented on the stored records, not overwritten.
	CompleteMatch(ctx context.Context, m *domain.Match, expectedVersion int64, changes []domain.RatingChange) error
	// DisputeMatch writes the match and the dispute record atomically.
	DisputeMatch(ctx context.Context, m *domain.Match, expectedVersion int64, dispute domain.Dispute) error
	// ListActiveMatches returns the non-terminal matches userID takes part in.
	ListActiveMatches(ctx context.Context, userID string) ([]*domain.Match, error)
	// ListMatchesByUser returns userID's matches, newest first.
	ListMatchesByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Match, error)
}

// RatingStore persists per-user, per-game rating records
type RatingStore interface {
	// GetRating returns nil and no error when the user has never played kind.
	GetRating(ctx context.Context, userID string, kind domain.GameKind) (*domain.RatingRecord, error)
	ListRatings(ctx context.Context, kind domain.GameKind) ([]domain.RatingRecord, error)
	TopRatings(ctx context.Context, kind domain.GameKind, limit, offset int) ([]domain.LeaderboardEntry, error)
	CountRatings(ctx context.Context, kind domain.GameKind) (int64, error)
}

// UserDirectory answers whether a user id is known to the identity provider
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Store is everything the services need from persistence
type Store interface {
	MatchStore
	RatingStore
	UserDirectory
}

// RatingCache is a ranked view of rating records, one per game kind
type RatingCache interface {
	UpsertRatings(ctx context.Context, records ...domain.RatingRecord) error
	ReplaceRatings(ctx context.Context, kind domain.GameKind, records []domain.RatingRecord) error
	GetRange(ctx context.Context, kind domain.GameKind, offset, limit int) ([]domain.LeaderboardEntry, error)
	GetCount(ctx context.Context, kind domain.GameKind) (int64, error)
	// GetRank returns the 1-based rank, or domain.ErrNotRanked.
	GetRank(ctx context.Context, kind domain.GameKind, userID string) (int64, error)
}

// Notifier delivers match events to participants
type Notifier interface {
	Notify(ctx context.Context, event domain.MatchEvent) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event domain.MatchEvent) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, event domain.MatchEvent) error {
	return f(ctx, event)
}

// NopNotifier drops every event
type NopNotifier struct{}

// Notify does nothing
func (NopNotifier) Notify(context.Context, domain.MatchEvent) error { return nil }
