package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/elo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// MatchService drives matches through their lifecycle
type MatchService struct {
	store    Store
	engine   *elo.Engine
	notifier Notifier
	cache    RatingCache
	config   *config.MatchConfig
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewMatchService creates a new match service
func NewMatchService(
	store Store,
	engine *elo.Engine,
	notifier Notifier,
	cfg *config.MatchConfig,
	logger *zap.Logger,
) *MatchService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MatchService{
		store:    store,
		engine:   engine,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetRatingCache sets the cache that receives ratings after each completion
func (s *MatchService) SetRatingCache(cache RatingCache) {
	s.cache = cache
}

// SetClock replaces the time source
func (s *MatchService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateChallenge opens a match between challengerID and opponentID
func (s *MatchService) CreateChallenge(ctx context.Context, challengerID, opponentID string, kind domain.GameKind) (*domain.Match, error) {
	if err := domain.ValidateChallenge(challengerID, opponentID, kind); err != nil {
		return nil, err
	}

	exists, err := s.store.UserExists(ctx, opponentID)
	if err != nil {
		return nil, storeErr("looking up opponent", err)
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	challenger, err := s.currentRating(ctx, challengerID, kind)
	if err != nil {
		return nil, err
	}
	opponent, err := s.currentRating(ctx, opponentID, kind)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m, err := domain.NewChallenge(s.newID(), challengerID, opponentID, kind, challenger.Rating, opponent.Rating, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return nil, storeErr("creating match", err)
	}

	s.logger.Info("challenge created",
		zap.String("match_id", m.ID),
		zap.String("game_type", string(kind)),
		zap.String("challenger_id", challengerID),
		zap.String("opponent_id", opponentID),
	)
	s.notify(ctx, domain.NewMatchEvent(domain.EventChallengeCreated, m, challengerID, now))
	return m, nil
}

// AcceptStart records the caller's start confirmation
func (s *MatchService) AcceptStart(ctx context.Context, matchID, callerID string) (*domain.Match, error) {
	return s.transition(ctx, "accepting start", matchID, callerID, func(m *domain.Match, now time.Time) (domain.Transition, error) {
		return m.AcceptStart(callerID, now, s.config.ChallengeExpiry)
	})
}

// DeclineStart cancels a pending challenge on behalf of the opponent
func (s *MatchService) DeclineStart(ctx context.Context, matchID, callerID string) (*domain.Match, error) {
	return s.transition(ctx, "declining start", matchID, callerID, func(m *domain.Match, now time.Time) (domain.Transition, error) {
		return m.DeclineStart(callerID, now)
	})
}

// ReportResult records the caller's claimed winner
func (s *MatchService) ReportResult(ctx context.Context, matchID, callerID, winnerID string) (*domain.Match, error) {
	return s.transition(ctx, "reporting result", matchID, callerID, func(m *domain.Match, now time.Time) (domain.Transition, error) {
		return m.ReportResult(callerID, winnerID, now, s.engine.Rate)
	})
}

// GetMatch returns a match visible to callerID
func (s *MatchService) GetMatch(ctx context.Context, matchID, callerID string) (*domain.Match, error) {
	if callerID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, storeErr("loading match", err)
	}
	if !m.IsParticipant(callerID) {
		return nil, domain.ErrNotAuthorized
	}
	return m, nil
}

// ListMatches returns the caller's match history, newest first
func (s *MatchService) ListMatches(ctx context.Context, callerID string, limit, offset int) ([]*domain.Match, error) {
	if callerID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	matches, err := s.store.ListMatchesByUser(ctx, callerID, limit, offset)
	if err != nil {
		return nil, storeErr("listing matches", err)
	}
	return matches, nil
}

// Inbox returns active matches waiting on the caller, oldest first.
// Pending challenges past the expiry window are left out.
func (s *MatchService) Inbox(ctx context.Context, callerID string) ([]*domain.Match, error) {
	if callerID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	active, err := s.store.ListActiveMatches(ctx, callerID)
	if err != nil {
		return nil, storeErr("listing active matches", err)
	}
	now := s.now()
	waiting := make([]*domain.Match, 0, len(active))
	for _, m := range active {
		if m.Expired(now, s.config.ChallengeExpiry) {
			continue
		}
		if m.AwaitingAction(callerID) {
			waiting = append(waiting, m)
		}
	}
	return waiting, nil
}

// InboxCount returns how many active matches wait on the caller
func (s *MatchService) InboxCount(ctx context.Context, callerID string) (int, error) {
	waiting, err := s.Inbox(ctx, callerID)
	if err != nil {
		return 0, err
	}
	return len(waiting), nil
}

type applyFunc func(m *domain.Match, now time.Time) (domain.Transition, error)

// transition runs read, validate and compare-and-swap write, retrying on
// version conflicts.
func (s *MatchService) transition(ctx context.Context, op, matchID, callerID string, apply applyFunc) (*domain.Match, error) {
	if callerID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if matchID == "" {
		return nil, fmt.Errorf("%w: match_id is required", domain.ErrInvalidInput)
	}

	attempts := s.config.MaxUpdateRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		current, err := s.store.GetMatch(ctx, matchID)
		if err != nil {
			return nil, storeErr("loading match", err)
		}

		m := current.Clone()
		now := s.now()
		t, applyErr := apply(m, now)
		if applyErr != nil && !errors.Is(applyErr, domain.ErrChallengeExpired) {
			return nil, applyErr
		}

		err = s.persist(ctx, m, current.Version, t, callerID, now)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < attempts {
			s.logger.Debug("version conflict, retrying",
				zap.String("match_id", matchID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, storeErr(op, err)
		}

		s.afterTransition(ctx, m, t, callerID, now)
		if applyErr != nil {
			return nil, applyErr
		}
		return m, nil
	}
}

func (s *MatchService) persist(ctx context.Context, m *domain.Match, expected int64, t domain.Transition, callerID string, now time.Time) error {
	switch {
	case t.Completed():
		return s.store.CompleteMatch(ctx, m, expected, domain.RatingChanges(m))
	case t.Disputed():
		dispute := domain.Dispute{
			ID:         s.newID(),
			MatchID:    m.ID,
			DisputedBy: callerID,
			Reason:     fmt.Sprintf("conflicting results: %s recorded as winner, %s claimed", t.PriorWinner, t.ClaimedWinner),
			CreatedAt:  now,
		}
		return s.store.DisputeMatch(ctx, m, expected, dispute)
	default:
		return s.store.UpdateMatch(ctx, m, expected)
	}
}

func (s *MatchService) afterTransition(ctx context.Context, m *domain.Match, t domain.Transition, callerID string, now time.Time) {
	fields := []zap.Field{
		zap.String("match_id", m.ID),
		zap.String("caller_id", callerID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	}

	switch {
	case t.Completed():
		fields = append(fields,
			zap.String("winner_id", m.WinnerID),
			zap.Int("challenger_elo_after", *m.ChallengerRatingPost),
			zap.Int("opponent_elo_after", *m.OpponentRatingPost),
		)
		s.logger.Info("match completed", fields...)
		s.refreshCache(ctx, m)
	case t.Disputed():
		s.logger.Warn("match disputed", fields...)
	default:
		s.logger.Info("match updated", fields...)
	}

	s.notify(ctx, domain.NewMatchEvent(t.Event, m, callerID, now))
}

// refreshCache pushes the stored records of both players into the cache
func (s *MatchService) refreshCache(ctx context.Context, m *domain.Match) {
	if s.cache == nil {
		return
	}
	records := make([]domain.RatingRecord, 0, 2)
	for _, userID := range m.Participants() {
		rec, err := s.currentRating(ctx, userID, m.GameKind)
		if err != nil {
			s.logger.Warn("failed to load rating for cache", zap.String("user_id", userID), zap.Error(err))
			return
		}
		records = append(records, rec)
	}
	if err := s.cache.UpsertRatings(ctx, records...); err != nil {
		s.logger.Warn("failed to update leaderboard cache", zap.String("match_id", m.ID), zap.Error(err))
	}
}

// notify is best-effort; delivery failures never fail the action
func (s *MatchService) notify(ctx context.Context, event domain.MatchEvent) {
	if s.config.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
		defer cancel()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("failed to send notification",
			zap.String("event", string(event.Type)),
			zap.String("match_id", event.MatchID),
			zap.Error(err),
		)
	}
}

// currentRating returns the stored record or the implicit initial one
func (s *MatchService) currentRating(ctx context.Context, userID string, kind domain.GameKind) (domain.RatingRecord, error) {
	rec, err := s.store.GetRating(ctx, userID, kind)
	if err != nil {
		return domain.RatingRecord{}, storeErr("loading rating", err)
	}
	if rec == nil {
		return domain.NewRatingRecord(userID, kind, s.initialRating()), nil
	}
	return *rec, nil
}

func (s *MatchService) initialRating() int {
	if s.config.InitialRating > 0 {
		return s.config.InitialRating
	}
	return domain.DefaultRating
}

// storeErr classifies a persistence failure, leaving domain errors intact
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInfrastructure),
		errors.Is(err, domain.ErrMatchNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return err
	}
	return domain.Infra(op, err)
}
