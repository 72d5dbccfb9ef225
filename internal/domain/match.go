package domain

import (
	"strings"
	"time"
)

// GameKind identifies which game a match or rating belongs to
type GameKind string

const (
	GamePool     GameKind = "pool"
	GamePingPong GameKind = "ping_pong"
)

// GameKinds lists every supported game in display order
var GameKinds = []GameKind{GamePool, GamePingPong}

// ParseGameKind normalizes and validates a game identifier
func ParseGameKind(s string) (GameKind, error) {
	k := GameKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", ErrInvalidGameKind
	}
	return k, nil
}

// Valid reports whether k is one of the supported games
func (k GameKind) Valid() bool {
	return k == GamePool || k == GamePingPong
}

// Status is the lifecycle state of a match
type Status string

const (
	StatusPendingStart     Status = "pending_start"
	StatusInProgress       Status = "in_progress"
	StatusPendingResult    Status = "pending_result"
	StatusCompleted        Status = "completed"
	StatusDisputed         Status = "disputed"
	StatusCancelled        Status = "cancelled"
	StatusChallengeExpired Status = "challenge_expired"
)

// ActiveStatuses are the non-terminal states, in lifecycle order
var ActiveStatuses = []Status{StatusPendingStart, StatusInProgress, StatusPendingResult}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDisputed, StatusCancelled, StatusChallengeExpired:
		return true
	}
	return false
}

// AcceptsResults reports whether result reports are allowed
func (s Status) AcceptsResults() bool {
	return s == StatusInProgress || s == StatusPendingResult
}

// Side identifies a participant position within a match
type Side int

const (
	SideNone Side = iota
	SideChallenger
	SideOpponent
)

// Evidence holds the per-side confirmations that drive transitions.
// Only the functions in lifecycle.go set these.
type Evidence struct {
	ChallengerStartAccepted  bool `json:"challenger_start_accepted"`
	OpponentStartAccepted    bool `json:"opponent_start_accepted"`
	ChallengerResultAccepted bool `json:"challenger_result_accepted"`
	OpponentResultAccepted   bool `json:"opponent_result_accepted"`
}

// Match is a challenge between two users and its outcome
type Match struct {
	ID                   string     `json:"id"`
	GameKind             GameKind   `json:"game_type"`
	ChallengerID         string     `json:"challenger_id"`
	OpponentID           string     `json:"opponent_id"`
	ChallengerRatingPre  int        `json:"challenger_elo_before"`
	OpponentRatingPre    int        `json:"opponent_elo_before"`
	ChallengerRatingPost *int       `json:"challenger_elo_after,omitempty"`
	OpponentRatingPost   *int       `json:"opponent_elo_after,omitempty"`
	Status               Status     `json:"status"`
	WinnerID             string     `json:"winner_id,omitempty"`
	Evidence             Evidence   `json:"evidence"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// SideOf returns the position userID holds in the match
func (m *Match) SideOf(userID string) Side {
	switch {
	case userID == "":
		return SideNone
	case userID == m.ChallengerID:
		return SideChallenger
	case userID == m.OpponentID:
		return SideOpponent
	}
	return SideNone
}

// IsParticipant reports whether userID is one of the two players
func (m *Match) IsParticipant(userID string) bool {
	return m.SideOf(userID) != SideNone
}

// OtherParticipant returns the player facing userID, or "" if userID is not playing
func (m *Match) OtherParticipant(userID string) string {
	switch m.SideOf(userID) {
	case SideChallenger:
		return m.OpponentID
	case SideOpponent:
		return m.ChallengerID
	}
	return ""
}

// Participants returns challenger and opponent
func (m *Match) Participants() []string {
	return []string{m.ChallengerID, m.OpponentID}
}

// AwaitingAction reports whether the match is waiting on userID.
// An opponent who has not accepted a pending challenge, or a player who has
// not reported a result for a running match, is being waited on.
func (m *Match) AwaitingAction(userID string) bool {
	side := m.SideOf(userID)
	if side == SideNone {
		return false
	}
	switch m.Status {
	case StatusPendingStart:
		return side == SideOpponent && !m.Evidence.OpponentStartAccepted
	case StatusInProgress, StatusPendingResult:
		if side == SideChallenger {
			return !m.Evidence.ChallengerResultAccepted
		}
		return !m.Evidence.OpponentResultAccepted
	}
	return false
}

// Clone returns a deep copy safe to mutate
func (m *Match) Clone() *Match {
	c := *m
	if m.ChallengerRatingPost != nil {
		v := *m.ChallengerRatingPost
		c.ChallengerRatingPost = &v
	}
	if m.OpponentRatingPost != nil {
		v := *m.OpponentRatingPost
		c.OpponentRatingPost = &v
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Dispute captures conflicting result reports for a match
type Dispute struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"match_id"`
	DisputedBy string    `json:"disputed_by"`
	Reason     string    `json:"reason"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateMatchRequest is the body of a challenge request
type CreateMatchRequest struct {
	OpponentID string `json:"opponent_id" validate:"required,max=64"`
	GameKind   string `json:"game_type" validate:"required,oneof=pool ping_pong"`
}

// ReportResultRequest is the body of a result report
type ReportResultRequest struct {
	WinnerID string `json:"winner_id" validate:"required,max=64"`
}
