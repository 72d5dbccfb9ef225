package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NotIan11/TechELO/internal/domain"
)

func newMatch(t *testing.T, id string, created time.Time) *domain.Match {
	t.Helper()
	m, err := domain.NewChallenge(id, "alice", "bob", domain.GamePool, 1500, 1500, created)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	return m
}

func TestCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMatch(t, "m1", time.Now())
	if err := s.CreateMatch(ctx, m); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.Version != 1 {
		t.Fatalf("expected version 1, got %d", m.Version)
	}

	a, _ := s.GetMatch(ctx, "m1")
	b, _ := s.GetMatch(ctx, "m1")

	a.Status = domain.StatusCancelled
	if err := s.UpdateMatch(ctx, a, 1); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	b.Status = domain.StatusInProgress
	if err := s.UpdateMatch(ctx, b, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("second writer: expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.GetMatch(ctx, "m1")
	if got.Status != domain.StatusCancelled || got.Version != 2 {
		t.Fatalf("unexpected stored match: %s v%d", got.Status, got.Version)
	}
}

func TestGetMatchReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateMatch(ctx, newMatch(t, "m1", time.Now()))

	m, _ := s.GetMatch(ctx, "m1")
	m.Status = domain.StatusCompleted
	again, _ := s.GetMatch(ctx, "m1")
	if again.Status != domain.StatusPendingStart {
		t.Fatalf("mutating a returned match leaked into the store")
	}
	if _, err := s.GetMatch(ctx, "nope"); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestCompleteMatchWritesRatings(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMatch(t, "m1", time.Now())
	s.CreateMatch(ctx, m)

	ratings := []domain.RatingChange{
		{UserID: "alice", GameKind: domain.GamePool, Rating: 1516, Won: true},
		{UserID: "bob", GameKind: domain.GamePool, Rating: 1484},
	}
	if err := s.CompleteMatch(ctx, m, 5, ratings); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale version: expected ErrVersionConflict, got %v", err)
	}
	if r, _ := s.GetRating(ctx, "alice", domain.GamePool); r != nil {
		t.Fatalf("rejected completion must not write ratings")
	}

	if err := s.CompleteMatch(ctx, m, 1, ratings); err != nil {
		t.Fatalf("CompleteMatch: %v", err)
	}
	if r, _ := s.GetRating(ctx, "alice", domain.GamePool); r == nil || r.Rating != 1516 || r.MatchesPlayed != 1 || r.Wins != 1 {
		t.Fatalf("expected alice at 1516 with one win, got %+v", r)
	}
	if r, _ := s.GetRating(ctx, "bob", domain.GamePool); r == nil || r.Rating != 1484 || r.Losses != 1 {
		t.Fatalf("expected bob at 1484 with one loss, got %+v", r)
	}
	if n, _ := s.CountRatings(ctx, domain.GamePool); n != 2 {
		t.Fatalf("expected 2 ratings, got %d", n)
	}
	if n, _ := s.CountRatings(ctx, domain.GamePingPong); n != 0 {
		t.Fatalf("expected no ping_pong ratings, got %d", n)
	}
}

func TestCompleteMatchIncrementsCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutRating(domain.RatingRecord{UserID: "alice", GameKind: domain.GamePool, Rating: 1530, MatchesPlayed: 3, Wins: 2, Losses: 1})

	var wg sync.WaitGroup
	for _, id := range []string{"m1", "m2"} {
		m := newMatch(t, id, time.Now())
		s.CreateMatch(ctx, m)
		wg.Add(1)
		go func(m *domain.Match) {
			defer wg.Done()
			changes := []domain.RatingChange{
				{UserID: "alice", GameKind: domain.GamePool, Rating: 1546, Won: true},
				{UserID: "bob", GameKind: domain.GamePool, Rating: 1484},
			}
			if err := s.CompleteMatch(ctx, m, 1, changes); err != nil {
				t.Errorf("CompleteMatch %s: %v", m.ID, err)
			}
		}(m)
	}
	wg.Wait()

	r, _ := s.GetRating(ctx, "alice", domain.GamePool)
	if r == nil || r.MatchesPlayed != 5 || r.Wins != 4 || r.Losses != 1 {
		t.Fatalf("expected both completions counted for alice, got %+v", r)
	}
	b, _ := s.GetRating(ctx, "bob", domain.GamePool)
	if b == nil || b.MatchesPlayed != 2 || b.Losses != 2 {
		t.Fatalf("expected two losses for bob, got %+v", b)
	}
}

func TestListings(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		s.CreateMatch(ctx, newMatch(t, id, base.Add(time.Duration(i)*time.Hour)))
	}
	done, _ := s.GetMatch(ctx, "m2")
	done.Status = domain.StatusCancelled
	s.UpdateMatch(ctx, done, done.Version)

	active, _ := s.ListActiveMatches(ctx, "bob")
	if len(active) != 2 || active[0].ID != "m1" || active[1].ID != "m3" {
		t.Fatalf("unexpected active matches: %v", ids(active))
	}

	history, _ := s.ListMatchesByUser(ctx, "alice", 2, 0)
	if len(history) != 2 || history[0].ID != "m3" || history[1].ID != "m2" {
		t.Fatalf("unexpected history: %v", ids(history))
	}
	history, _ = s.ListMatchesByUser(ctx, "alice", 2, 2)
	if len(history) != 1 || history[0].ID != "m1" {
		t.Fatalf("unexpected second page: %v", ids(history))
	}
	if history, _ = s.ListMatchesByUser(ctx, "carol", 10, 0); len(history) != 0 {
		t.Fatalf("carol has no matches, got %v", ids(history))
	}
}

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	s := New(WithUsers("alice"))
	if ok, _ := s.UserExists(ctx, "alice"); !ok {
		t.Fatalf("alice should exist")
	}
	if ok, _ := s.UserExists(ctx, "bob"); ok {
		t.Fatalf("bob should not exist")
	}

	open := New(WithOpenDirectory())
	if ok, _ := open.UserExists(ctx, "anyone"); !ok {
		t.Fatalf("open directory should know everyone")
	}
	if ok, _ := open.UserExists(ctx, ""); ok {
		t.Fatalf("empty id is never a user")
	}
}

func ids(ms []*domain.Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
