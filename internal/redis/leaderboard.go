package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LeaderboardCache keeps a sorted set of ratings and a stats hash per user for each game
type LeaderboardCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLeaderboardCache connects to Redis and returns a cache
func NewLeaderboardCache(cfg *config.RedisConfig, logger *zap.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewFromClient(client, logger), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, logger *zap.Logger) *LeaderboardCache {
	return &LeaderboardCache{client: client, logger: logger}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func ratingsKey(kind domain.GameKind) string {
	return fmt.Sprintf("elo:%s:ratings", kind)
}

func statsKey(kind domain.GameKind, userID string) string {
	return fmt.Sprintf("elo:%s:stats:%s", kind, userID)
}

func addRecord(ctx context.Context, pipe redis.Pipeliner, key string, r domain.RatingRecord) {
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(r.Rating), Member: r.UserID})
	pipe.HSet(ctx, statsKey(r.GameKind, r.UserID),
		"matches_played", r.MatchesPlayed,
		"wins", r.Wins,
		"losses", r.Losses,
		"updated_at", r.UpdatedAt.UTC().Format(time.RFC3339),
	)
}

// UpsertRatings writes records into their game's ranking
func (c *LeaderboardCache) UpsertRatings(ctx context.Context, records ...domain.RatingRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			addRecord(ctx, pipe, ratingsKey(r.GameKind), r)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting ratings: %w", err)
	}
	return nil
}

// ReplaceRatings swaps a game's ranking for records in one transaction.
// Stats hashes of users that drop out of the ranking are deleted with it.
func (c *LeaderboardCache) ReplaceRatings(ctx context.Context, kind domain.GameKind, records []domain.RatingRecord) error {
	key := ratingsKey(kind)
	tmp := key + ":rebuild"

	current, err := c.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("reading current ranking: %w", err)
	}
	keep := make(map[string]struct{}, len(records))
	for _, r := range records {
		keep[r.UserID] = struct{}{}
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tmp)
		for _, member := range current {
			if _, ok := keep[member]; !ok {
				pipe.Del(ctx, statsKey(kind, member))
			}
		}
		if len(records) == 0 {
			pipe.Del(ctx, key)
			return nil
		}
		for _, r := range records {
			addRecord(ctx, pipe, tmp, r)
		}
		pipe.Rename(ctx, tmp, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing ratings: %w", err)
	}
	c.logger.Debug("leaderboard cache rebuilt", zap.String("game_type", string(kind)), zap.Int("players", len(records)))
	return nil
}

// GetRange returns up to limit entries starting at the 0-based offset
func (c *LeaderboardCache) GetRange(ctx context.Context, kind domain.GameKind, offset, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	results, err := c.client.ZRevRangeWithScores(ctx, ratingsKey(kind), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}

	// Use pipeline to fetch all stats hashes at once
	pipe := c.client.Pipeline()
	stats := make([]*redis.MapStringStringCmd, len(results))
	for i, z := range results {
		stats[i] = pipe.HGetAll(ctx, statsKey(kind, z.Member.(string)))
	}
	if len(results) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, z := range results {
		h := stats[i].Val()
		entries[i] = domain.LeaderboardEntry{
			Rank:          int64(offset + i + 1), // Convert to 1-indexed rank
			UserID:        z.Member.(string),
			Rating:        int(z.Score),
			MatchesPlayed: atoi(h["matches_played"]),
			Wins:          atoi(h["wins"]),
			Losses:        atoi(h["losses"]),
		}
	}
	return entries, nil
}

// GetCount returns the number of ranked users for kind
func (c *LeaderboardCache) GetCount(ctx context.Context, kind domain.GameKind) (int64, error) {
	count, err := c.client.ZCard(ctx, ratingsKey(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// GetRank returns userID's 1-based rank
func (c *LeaderboardCache) GetRank(ctx context.Context, kind domain.GameKind, userID string) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, ratingsKey(kind), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotRanked
	}
	if err != nil {
		return 0, fmt.Errorf("getting rank: %w", err)
	}
	return rank + 1, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
