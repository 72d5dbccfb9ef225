package service

import (
	"context"
	"errors"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"go.uber.org/zap"
)

// LeaderboardService provides ranked views of ratings per game
type LeaderboardService struct {
	cache         RatingCache
	store         RatingStore
	config        *config.LeaderboardConfig
	initialRating int
	logger        *zap.Logger
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(
	cache RatingCache,
	store RatingStore,
	cfg *config.LeaderboardConfig,
	initialRating int,
	logger *zap.Logger,
) *LeaderboardService {
	if initialRating <= 0 {
		initialRating = domain.DefaultRating
	}
	return &LeaderboardService{
		cache:         cache,
		store:         store,
		config:        cfg,
		initialRating: initialRating,
		logger:        logger,
	}
}

// GetLeaderboard returns one page of a game's ranking
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, kind domain.GameKind, limit, offset int) (*domain.LeaderboardPage, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidGameKind
	}

	// Validate limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	page := &domain.LeaderboardPage{GameKind: kind, Limit: limit, Offset: offset}

	if s.cache != nil {
		entries, total, err := s.fromCache(ctx, kind, limit, offset)
		if err == nil {
			page.Entries, page.TotalPlayers = entries, total
			return page, nil
		}
		s.logger.Warn("leaderboard cache unavailable, reading from store",
			zap.String("game_type", string(kind)),
			zap.Error(err),
		)
	}

	entries, err := s.store.TopRatings(ctx, kind, limit, offset)
	if err != nil {
		return nil, storeErr("listing ratings", err)
	}
	total, err := s.store.CountRatings(ctx, kind)
	if err != nil {
		return nil, storeErr("counting ratings", err)
	}
	page.Entries, page.TotalPlayers = entries, total
	return page, nil
}

func (s *LeaderboardService) fromCache(ctx context.Context, kind domain.GameKind, limit, offset int) ([]domain.LeaderboardEntry, int64, error) {
	total, err := s.cache.GetCount(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.cache.GetRange(ctx, kind, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetStanding returns a user's rating in one game, with rank when cached
func (s *LeaderboardService) GetStanding(ctx context.Context, userID string, kind domain.GameKind) (*domain.Standing, error) {
	if userID == "" {
		return nil, domain.ErrUserNotFound
	}
	if !kind.Valid() {
		return nil, domain.ErrInvalidGameKind
	}

	rec, err := s.store.GetRating(ctx, userID, kind)
	if err != nil {
		return nil, storeErr("loading rating", err)
	}
	standing := &domain.Standing{}
	if rec == nil {
		standing.RatingRecord = domain.NewRatingRecord(userID, kind, s.initialRating)
		return standing, nil
	}
	standing.RatingRecord = *rec

	if s.cache != nil {
		rank, err := s.cache.GetRank(ctx, kind, userID)
		switch {
		case err == nil:
			standing.Rank = rank
		case errors.Is(err, domain.ErrNotRanked):
		default:
			s.logger.Warn("failed to read rank from cache", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return standing, nil
}
