package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool       *pgxpool.Pool
	usersTable string
	logger     *zap.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *zap.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:       pool,
		usersTable: pgx.Identifier{cfg.UsersTable}.Sanitize(),
		logger:     logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(64) PRIMARY KEY,
			game_type VARCHAR(20) NOT NULL,
			challenger_id VARCHAR(64) NOT NULL,
			opponent_id VARCHAR(64) NOT NULL,
			challenger_elo_before INT NOT NULL,
			opponent_elo_before INT NOT NULL,
			challenger_elo_after INT,
			opponent_elo_after INT,
			status VARCHAR(20) NOT NULL,
			winner_id VARCHAR(64),
			challenger_start_accepted BOOLEAN NOT NULL DEFAULT FALSE,
			opponent_start_accepted BOOLEAN NOT NULL DEFAULT FALSE,
			challenger_result_accepted BOOLEAN NOT NULL DEFAULT FALSE,
			opponent_result_accepted BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS elo_ratings (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			game_type VARCHAR(20) NOT NULL,
			rating INT NOT NULL,
			matches_played INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, game_type)
		)`,
		`CREATE TABLE IF NOT EXISTS match_disputes (
			id VARCHAR(64) PRIMARY KEY,
			match_id VARCHAR(64) NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			disputed_by VARCHAR(64) NOT NULL,
			reason TEXT NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_challenger ON matches(challenger_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_opponent ON matches(opponent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_elo_ratings_board ON elo_ratings(game_type, rating DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_disputes_match ON match_disputes(match_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UserExists looks the id up in the identity provider's user table
func (r *Repository) UserExists(ctx context.Context, userID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id::text = $1)`, r.usersTable)
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return exists, nil
}

const matchColumns = `id, game_type, challenger_id, opponent_id,
	challenger_elo_before, opponent_elo_before, challenger_elo_after, opponent_elo_after,
	status, winner_id,
	challenger_start_accepted, opponent_start_accepted, challenger_result_accepted, opponent_result_accepted,
	version, created_at, updated_at, started_at, completed_at`

// CreateMatch inserts a new match at version 1
func (r *Repository) CreateMatch(ctx context.Context, m *domain.Match) error {
	query := `INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15, $16, $17, $18)`
	_, err := r.pool.Exec(ctx, query,
		m.ID,
		string(m.GameKind),
		m.ChallengerID,
		m.OpponentID,
		m.ChallengerRatingPre,
		m.OpponentRatingPre,
		m.ChallengerRatingPost,
		m.OpponentRatingPost,
		string(m.Status),
		nullable(m.WinnerID),
		m.Evidence.ChallengerStartAccepted,
		m.Evidence.OpponentStartAccepted,
		m.Evidence.ChallengerResultAccepted,
		m.Evidence.OpponentResultAccepted,
		m.CreatedAt,
		m.UpdatedAt,
		m.StartedAt,
		m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	m.Version = 1
	return nil
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// UpdateMatch writes m if the stored version equals expectedVersion
func (r *Repository) UpdateMatch(ctx context.Context, m *domain.Match, expectedVersion int64) error {
	if err := r.swapMatch(ctx, r.pool, m, expectedVersion); err != nil {
		return err
	}
	m.Version = expectedVersion + 1
	return nil
}

// CompleteMatch writes the completed match and applies both rating changes in one
// transaction. Counters are incremented in SQL so concurrent completions for
// the same user both count.
func (r *Repository) CompleteMatch(ctx context.Context, m *domain.Match, expectedVersion int64, changes []domain.RatingChange) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.swapMatch(ctx, tx, m, expectedVersion); err != nil {
			return err
		}
		query := `
			INSERT INTO elo_ratings (user_id, game_type, rating, matches_played, wins, losses, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5, $6)
			ON CONFLICT (user_id, game_type)
			DO UPDATE SET rating = EXCLUDED.rating,
				matches_played = elo_ratings.matches_played + 1,
				wins = elo_ratings.wins + EXCLUDED.wins,
				losses = elo_ratings.losses + EXCLUDED.losses,
				updated_at = EXCLUDED.updated_at
		`
		batch := &pgx.Batch{}
		for _, c := range changes {
			wins, losses := 0, 1
			if c.Won {
				wins, losses = 1, 0
			}
			batch.Queue(query, c.UserID, string(c.GameKind), c.Rating, wins, losses, c.UpdatedAt)
		}
		br := tx.SendBatch(ctx, batch)
		for range changes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upserting rating: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return err
	}
	m.Version = expectedVersion + 1
	return nil
}

// DisputeMatch writes the disputed match and the dispute record in one transaction
func (r *Repository) DisputeMatch(ctx context.Context, m *domain.Match, expectedVersion int64, d domain.Dispute) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.swapMatch(ctx, tx, m, expectedVersion); err != nil {
			return err
		}
		query := `
			INSERT INTO match_disputes (id, match_id, disputed_by, reason, resolved, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, query, d.ID, d.MatchID, d.DisputedBy, d.Reason, d.Resolved, d.CreatedAt); err != nil {
			return fmt.Errorf("recording dispute: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.Version = expectedVersion + 1
	return nil
}

// ListActiveMatches returns userID's non-terminal matches, oldest first
func (r *Repository) ListActiveMatches(ctx context.Context, userID string) ([]*domain.Match, error) {
	statuses := make([]string, len(domain.ActiveStatuses))
	for i, s := range domain.ActiveStatuses {
		statuses[i] = string(s)
	}
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE (challenger_id = $1 OR opponent_id = $1) AND status = ANY($2)
		ORDER BY created_at ASC, id ASC`
	return r.queryMatches(ctx, query, userID, statuses)
}

// ListMatchesByUser returns userID's matches, newest first
func (r *Repository) ListMatchesByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE challenger_id = $1 OR opponent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	return r.queryMatches(ctx, query, userID, limit, offset)
}

// GetRating returns the stored record, or nil if the user never played kind
func (r *Repository) GetRating(ctx context.Context, userID string, kind domain.GameKind) (*domain.RatingRecord, error) {
	query := `
		SELECT user_id, game_type, rating, matches_played, wins, losses, updated_at
		FROM elo_ratings
		WHERE user_id = $1 AND game_type = $2
	`
	var rec domain.RatingRecord
	err := r.pool.QueryRow(ctx, query, userID, string(kind)).Scan(
		&rec.UserID,
		&rec.GameKind,
		&rec.Rating,
		&rec.MatchesPlayed,
		&rec.Wins,
		&rec.Losses,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting rating: %w", err)
	}
	return &rec, nil
}

// ListRatings returns every record for kind, best first
func (r *Repository) ListRatings(ctx context.Context, kind domain.GameKind) ([]domain.RatingRecord, error) {
	query := `
		SELECT user_id, game_type, rating, matches_played, wins, losses, updated_at
		FROM elo_ratings
		WHERE game_type = $1
		ORDER BY rating DESC, user_id ASC
	`
	rows, err := r.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing ratings: %w", err)
	}
	defer rows.Close()

	var records []domain.RatingRecord
	for rows.Next() {
		var rec domain.RatingRecord
		if err := rows.Scan(&rec.UserID, &rec.GameKind, &rec.Rating, &rec.MatchesPlayed, &rec.Wins, &rec.Losses, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TopRatings returns a ranked page of kind's leaderboard
func (r *Repository) TopRatings(ctx context.Context, kind domain.GameKind, limit, offset int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT user_id, rating, matches_played, wins, losses
		FROM elo_ratings
		WHERE game_type = $1
		ORDER BY rating DESC, user_id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	rank := int64(offset)
	for rows.Next() {
		rank++
		e := domain.LeaderboardEntry{Rank: rank}
		if err := rows.Scan(&e.UserID, &e.Rating, &e.MatchesPlayed, &e.Wins, &e.Losses); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountRatings returns how many users have a record for kind
func (r *Repository) CountRatings(ctx context.Context, kind domain.GameKind) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM elo_ratings WHERE game_type = $1`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting ratings: %w", err)
	}
	return count, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// swapMatch updates every mutable column guarded by the version
func (r *Repository) swapMatch(ctx context.Context, q execer, m *domain.Match, expectedVersion int64) error {
	query := `
		UPDATE matches SET
			challenger_elo_after = $3,
			opponent_elo_after = $4,
			status = $5,
			winner_id = $6,
			challenger_start_accepted = $7,
			opponent_start_accepted = $8,
			challenger_result_accepted = $9,
			opponent_result_accepted = $10,
			updated_at = $11,
			started_at = $12,
			completed_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	tag, err := q.Exec(ctx, query,
		m.ID,
		expectedVersion,
		m.ChallengerRatingPost,
		m.OpponentRatingPost,
		string(m.Status),
		nullable(m.WinnerID),
		m.Evidence.ChallengerStartAccepted,
		m.Evidence.OpponentStartAccepted,
		m.Evidence.ChallengerResultAccepted,
		m.Evidence.OpponentResultAccepted,
		m.UpdatedAt,
		m.StartedAt,
		m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating match: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking match existence: %w", err)
	}
	if !exists {
		return domain.ErrMatchNotFound
	}
	return domain.ErrVersionConflict
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *Repository) queryMatches(ctx context.Context, query string, args ...any) ([]*domain.Match, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	matches := []*domain.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var (
		m      domain.Match
		winner *string
	)
	err := row.Scan(
		&m.ID,
		&m.GameKind,
		&m.ChallengerID,
		&m.OpponentID,
		&m.ChallengerRatingPre,
		&m.OpponentRatingPre,
		&m.ChallengerRatingPost,
		&m.OpponentRatingPost,
		&m.Status,
		&winner,
		&m.Evidence.ChallengerStartAccepted,
		&m.Evidence.OpponentStartAccepted,
		&m.Evidence.ChallengerResultAccepted,
		&m.Evidence.OpponentResultAccepted,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.StartedAt,
		&m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		m.WinnerID = *winner
	}
	return &m, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
