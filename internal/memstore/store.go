// Package memstore is an in-process Store used for local development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/NotIan11/TechELO/internal/domain"
)

type ratingKey struct {
	userID string
	kind   domain.GameKind
}

// Store keeps matches, ratings and disputes in memory behind a mutex
type Store struct {
	mu       sync.RWMutex
	matches  map[string]*domain.Match
	ratings  map[ratingKey]domain.RatingRecord
	disputes []domain.Dispute
	users    map[string]struct{}
	open     bool
}

// Option configures a Store
type Option func(*Store)

// WithUsers registers known user ids
func WithUsers(ids ...string) Option {
	return func(s *Store) {
		for _, id := range ids {
			s.users[id] = struct{}{}
		}
	}
}

// WithOpenDirectory makes every non-empty user id count as known
func WithOpenDirectory() Option {
	return func(s *Store) { s.open = true }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		matches: make(map[string]*domain.Match),
		ratings: make(map[ratingKey]domain.RatingRecord),
		users:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUser registers a user id
func (s *Store) AddUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = struct{}{}
}

// UserExists reports whether id is a registered user
func (s *Store) UserExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open {
		return id != "", nil
	}
	_, ok := s.users[id]
	return ok, nil
}

// CreateMatch stores a new match at version 1
func (s *Store) CreateMatch(_ context.Context, m *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("match %s already exists", m.ID)
	}
	m.Version = 1
	s.matches[m.ID] = m.Clone()
	return nil
}

// GetMatch returns a copy of the stored match
func (s *Store) GetMatch(_ context.Context, id string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return m.Clone(), nil
}

// UpdateMatch replaces the match if its version is unchanged
func (s *Store) UpdateMatch(_ context.Context, m *domain.Match, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(m.ID, expectedVersion); err != nil {
		return err
	}
	s.put(m, expectedVersion)
	return nil
}

// CompleteMatch replaces the match and folds each change into the stored record
func (s *Store) CompleteMatch(_ context.Context, m *domain.Match, expectedVersion int64, changes []domain.RatingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(m.ID, expectedVersion); err != nil {
		return err
	}
	s.put(m, expectedVersion)
	for _, c := range changes {
		key := ratingKey{c.UserID, c.GameKind}
		rec, ok := s.ratings[key]
		if !ok {
			rec = domain.NewRatingRecord(c.UserID, c.GameKind, c.Rating)
		}
		rec.Apply(c.Rating, c.Won, c.UpdatedAt)
		s.ratings[key] = rec
	}
	return nil
}

// DisputeMatch replaces the match and records the dispute
func (s *Store) DisputeMatch(_ context.Context, m *domain.Match, expectedVersion int64, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(m.ID, expectedVersion); err != nil {
		return err
	}
	s.put(m, expectedVersion)
	s.disputes = append(s.disputes, d)
	return nil
}

func (s *Store) checkVersion(id string, expected int64) error {
	cur, ok := s.matches[id]
	if !ok {
		return domain.ErrMatchNotFound
	}
	if cur.Version != expected {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *Store) put(m *domain.Match, expected int64) {
	m.Version = expected + 1
	s.matches[m.ID] = m.Clone()
}

// ListActiveMatches returns userID's non-terminal matches, oldest first
func (s *Store) ListActiveMatches(_ context.Context, userID string) ([]*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(m *domain.Match) bool {
		return m.IsParticipant(userID) && !m.Status.IsTerminal()
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListMatchesByUser returns userID's matches, newest first
func (s *Store) ListMatchesByUser(_ context.Context, userID string, limit, offset int) ([]*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(m *domain.Match) bool { return m.IsParticipant(userID) })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) filter(keep func(*domain.Match) bool) []*domain.Match {
	var out []*domain.Match
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Disputes returns all recorded disputes for matchID
func (s *Store) Disputes(matchID string) []domain.Dispute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Dispute
	for _, d := range s.disputes {
		if d.MatchID == matchID {
			out = append(out, d)
		}
	}
	return out
}

// GetRating returns the stored record, or nil if the user never played kind
func (s *Store) GetRating(_ context.Context, userID string, kind domain.GameKind) (*domain.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[ratingKey{userID, kind}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// PutRating stores a record directly
func (s *Store) PutRating(r domain.RatingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ratingKey{r.UserID, r.GameKind}] = r
}

// ListRatings returns every record for kind, best first
func (s *Store) ListRatings(_ context.Context, kind domain.GameKind) ([]domain.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranked(kind), nil
}

// TopRatings returns a ranked page of kind's leaderboard
func (s *Store) TopRatings(_ context.Context, kind domain.GameKind, limit, offset int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := page(s.ranked(kind), limit, offset)
	entries := make([]domain.LeaderboardEntry, 0, len(records))
	for i, r := range records {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:          int64(offset + i + 1),
			UserID:        r.UserID,
			Rating:        r.Rating,
			MatchesPlayed: r.MatchesPlayed,
			Wins:          r.Wins,
			Losses:        r.Losses,
		})
	}
	return entries, nil
}

// CountRatings returns how many users have a record for kind
func (s *Store) CountRatings(_ context.Context, kind domain.GameKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for k := range s.ratings {
		if k.kind == kind {
			n++
		}
	}
	return n, nil
}

func (s *Store) ranked(kind domain.GameKind) []domain.RatingRecord {
	var out []domain.RatingRecord
	for k, r := range s.ratings {
		if k.kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating == out[j].Rating {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Rating > out[j].Rating
	})
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
