package worker

import (
	"context"
	"testing"
	"time"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/memstore"
	rediscache "github.com/NotIan11/TechELO/internal/redis"
	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newWorker(t *testing.T, interval time.Duration) (*SyncWorker, *memstore.Store, *rediscache.LeaderboardCache) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := rediscache.NewFromClient(client, zap.NewNop())
	store := memstore.New()
	cfg := &config.SyncConfig{Interval: interval, Enabled: true}
	return NewSyncWorker(cache, store, cfg, zap.NewNop()), store, cache
}

func TestRunOnceRebuildsEveryGame(t *testing.T) {
	w, store, cache := newWorker(t, time.Hour)
	ctx := context.Background()

	store.PutRating(domain.RatingRecord{UserID: "alice", GameKind: domain.GamePool, Rating: 1516, MatchesPlayed: 1, Wins: 1})
	store.PutRating(domain.RatingRecord{UserID: "bob", GameKind: domain.GamePingPong, Rating: 1490, MatchesPlayed: 2, Wins: 1, Losses: 1})
	cache.UpsertRatings(ctx, domain.RatingRecord{UserID: "ghost", GameKind: domain.GamePool, Rating: 9999})

	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	pool, _ := cache.GetRange(ctx, domain.GamePool, 0, 10)
	if len(pool) != 1 || pool[0].UserID != "alice" {
		t.Fatalf("pool ranking not rebuilt: %+v", pool)
	}
	pingPong, _ := cache.GetRange(ctx, domain.GamePingPong, 0, 10)
	if len(pingPong) != 1 || pingPong[0].UserID != "bob" || pingPong[0].Losses != 1 {
		t.Fatalf("ping_pong ranking not rebuilt: %+v", pingPong)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	w, store, cache := newWorker(t, time.Hour)
	ctx := context.Background()
	store.PutRating(domain.RatingRecord{UserID: "alice", GameKind: domain.GamePool, Rating: 1516})

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()
	if !w.IsRunning() {
		t.Fatalf("worker should be running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if n, _ := cache.GetCount(ctx, domain.GamePool); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("initial sync did not run")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.IsRunning() {
		t.Fatalf("worker should be stopped")
	}
}
