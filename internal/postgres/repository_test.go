package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ service.Store = (*Repository)(nil)

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Fatalf("empty string must map to NULL")
	}
	if p := nullable("alice"); p == nil || *p != "alice" {
		t.Fatalf("unexpected pointer %v", p)
	}
}

// newTestRepository connects to TECHELO_TEST_DATABASE_URL or skips
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("TECHELO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TECHELO_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(pool.Close)

	r := &Repository{pool: pool, usersTable: pgx.Identifier{"users"}.Sanitize(), logger: zap.NewNop()}
	if err := r.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS users (id VARCHAR(64) PRIMARY KEY)`); err != nil {
		t.Fatalf("creating users: %v", err)
	}
	return r
}

func TestRepositoryMatchLifecycle(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	challenger, opponent := "u-"+uuid.NewString()[:8], "u-"+uuid.NewString()[:8]
	m, err := domain.NewChallenge(uuid.NewString(), challenger, opponent, domain.GamePool, 1500, 1500, now)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	if err := r.CreateMatch(ctx, m); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	got, err := r.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != domain.StatusPendingStart || got.Version != 1 || got.WinnerID != "" {
		t.Fatalf("unexpected match: %+v", got)
	}

	if _, err := got.AcceptStart(opponent, now, 48*time.Hour); err != nil {
		t.Fatalf("AcceptStart: %v", err)
	}
	if err := r.UpdateMatch(ctx, got, 1); err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	if err := r.UpdateMatch(ctx, got, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale write: expected ErrVersionConflict, got %v", err)
	}

	active, err := r.ListActiveMatches(ctx, challenger)
	if err != nil || len(active) != 1 || active[0].Status != domain.StatusInProgress {
		t.Fatalf("unexpected active matches: %v %v", active, err)
	}

	if _, err := r.GetMatch(ctx, "missing"); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestRepositoryCompleteMatchIncrementsCounters(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	winner := "u-" + uuid.NewString()[:8]
	for i := 0; i < 2; i++ {
		loser := "u-" + uuid.NewString()[:8]
		m, err := domain.NewChallenge(uuid.NewString(), winner, loser, domain.GamePool, 1500, 1500, now)
		if err != nil {
			t.Fatalf("NewChallenge: %v", err)
		}
		if err := r.CreateMatch(ctx, m); err != nil {
			t.Fatalf("CreateMatch: %v", err)
		}
		m.Status = domain.StatusCompleted
		m.WinnerID = winner
		changes := []domain.RatingChange{
			{UserID: winner, GameKind: domain.GamePool, Rating: 1516 + i, Won: true, UpdatedAt: now},
			{UserID: loser, GameKind: domain.GamePool, Rating: 1484, UpdatedAt: now},
		}
		if err := r.CompleteMatch(ctx, m, 1, changes); err != nil {
			t.Fatalf("CompleteMatch: %v", err)
		}
	}

	rec, err := r.GetRating(ctx, winner, domain.GamePool)
	if err != nil || rec == nil {
		t.Fatalf("GetRating: %v %v", rec, err)
	}
	if rec.Rating != 1517 || rec.MatchesPlayed != 2 || rec.Wins != 2 || rec.Losses != 0 {
		t.Fatalf("expected both completions counted, got %+v", rec)
	}
}
