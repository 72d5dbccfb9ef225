package domain

import (
	"time"
)

// DefaultRating is assigned to a (user, game) pair never seen before
const DefaultRating = 1500

// RatingRecord is a user's standing in one game
type RatingRecord struct {
	UserID        string    `json:"user_id"`
	GameKind      GameKind  `json:"game_type"`
	Rating        int       `json:"rating"`
	MatchesPlayed int       `json:"matches_played"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewRatingRecord returns the implicit record for a user who has not played kind
func NewRatingRecord(userID string, kind GameKind, initial int) RatingRecord {
	return RatingRecord{
		UserID:   userID,
		GameKind: kind,
		Rating:   initial,
	}
}

// Apply folds one decided match into the record
func (r *RatingRecord) Apply(newRating int, won bool, now time.Time) {
	r.Rating = newRating
	r.MatchesPlayed++
	if won {
		r.Wins++
	} else {
		r.Losses++
	}
	r.UpdatedAt = now
}

// RatingChange is one participant's outcome of a completed match. Stores fold
// it into the current record inside the completion write.
type RatingChange struct {
	UserID    string
	GameKind  GameKind
	Rating    int
	Won       bool
	UpdatedAt time.Time
}

// RatingChanges returns both participants' outcomes of a completed match
func RatingChanges(m *Match) []RatingChange {
	if m.Status != StatusCompleted || m.ChallengerRatingPost == nil || m.OpponentRatingPost == nil {
		return nil
	}
	at := m.UpdatedAt
	if m.CompletedAt != nil {
		at = *m.CompletedAt
	}
	challengerWon := m.WinnerID == m.ChallengerID
	return []RatingChange{
		{UserID: m.ChallengerID, GameKind: m.GameKind, Rating: *m.ChallengerRatingPost, Won: challengerWon, UpdatedAt: at},
		{UserID: m.OpponentID, GameKind: m.GameKind, Rating: *m.OpponentRatingPost, Won: !challengerWon, UpdatedAt: at},
	}
}

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	Rank          int64  `json:"rank"`
	UserID        string `json:"user_id"`
	Rating        int    `json:"rating"`
	MatchesPlayed int    `json:"matches_played"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
}

// Standing is a rating record with its leaderboard position, if known
type Standing struct {
	RatingRecord
	Rank int64 `json:"rank,omitempty"`
}

// LeaderboardPage is one slice of a game's ranking
type LeaderboardPage struct {
	GameKind     GameKind           `json:"game_type"`
	Entries      []LeaderboardEntry `json:"entries"`
	TotalPlayers int64              `json:"total_players"`
	Limit        int                `json:"limit"`
	Offset       int                `json:"offset"`
}
