package domain

import (
	"fmt"
	"time"
)

// RateFunc computes post-match ratings for challenger and opponent
type RateFunc func(challengerBefore, opponentBefore int, challengerWon bool) (challengerAfter, opponentAfter int)

// Transition describes the effect of an accepted action on a match
type Transition struct {
	From  Status
	To    Status
	Event EventType
	// PriorWinner is the winner recorded before a result report.
	PriorWinner string
	// ClaimedWinner is the winner named by a result report.
	ClaimedWinner string
}

// Completed reports whether the transition finished the match
func (t Transition) Completed() bool { return t.To == StatusCompleted }

// Disputed reports whether the transition moved the match into dispute
func (t Transition) Disputed() bool { return t.To == StatusDisputed }

// NewChallenge builds a match in pending_start. The challenger accepts by initiating.
func NewChallenge(id, challengerID, opponentID string, kind GameKind, challengerRating, opponentRating int, now time.Time) (*Match, error) {
	if err := ValidateChallenge(challengerID, opponentID, kind); err != nil {
		return nil, err
	}
	return &Match{
		ID:                  id,
		GameKind:            kind,
		ChallengerID:        challengerID,
		OpponentID:          opponentID,
		ChallengerRatingPre: challengerRating,
		OpponentRatingPre:   opponentRating,
		Status:              StatusPendingStart,
		Evidence:            Evidence{ChallengerStartAccepted: true},
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// ValidateChallenge checks the inputs of a new challenge
func ValidateChallenge(challengerID, opponentID string, kind GameKind) error {
	switch {
	case challengerID == "":
		return ErrNotAuthenticated
	case opponentID == "":
		return ErrMissingOpponent
	case challengerID == opponentID:
		return ErrSelfChallenge
	case !kind.Valid():
		return ErrInvalidGameKind
	}
	return nil
}

// Expired reports whether a pending challenge is older than window
func (m *Match) Expired(now time.Time, window time.Duration) bool {
	return m.Status == StatusPendingStart && window > 0 && now.Sub(m.CreatedAt) > window
}

// AcceptStart records caller's start confirmation.
//
// An expired challenge is moved to challenge_expired and ErrChallengeExpired
// is returned together with the transition; the caller must persist it.
func (m *Match) AcceptStart(callerID string, now time.Time, window time.Duration) (Transition, error) {
	side := m.SideOf(callerID)
	if side == SideNone {
		return Transition{}, ErrNotAuthorized
	}
	if m.Status != StatusPendingStart {
		return Transition{}, fmt.Errorf("%w: status is %s", ErrInvalidState, m.Status)
	}
	if m.Expired(now, window) {
		t := Transition{From: m.Status, To: StatusChallengeExpired, Event: EventChallengeExpired}
		m.Status = StatusChallengeExpired
		m.UpdatedAt = now
		return t, ErrChallengeExpired
	}

	switch side {
	case SideChallenger:
		if m.Evidence.ChallengerStartAccepted {
			return Transition{}, fmt.Errorf("%w: start already accepted", ErrInvalidState)
		}
		m.Evidence.ChallengerStartAccepted = true
	case SideOpponent:
		if m.Evidence.OpponentStartAccepted {
			return Transition{}, fmt.Errorf("%w: start already accepted", ErrInvalidState)
		}
		m.Evidence.OpponentStartAccepted = true
	}

	t := Transition{From: m.Status, To: m.Status, Event: EventStartAccepted}
	if m.Evidence.ChallengerStartAccepted && m.Evidence.OpponentStartAccepted {
		started := now
		m.Status = StatusInProgress
		m.StartedAt = &started
		t.To = StatusInProgress
		t.Event = EventMatchStarted
	}
	m.UpdatedAt = now
	return t, nil
}

// DeclineStart cancels a pending challenge. Only the opponent may decline.
func (m *Match) DeclineStart(callerID string, now time.Time) (Transition, error) {
	if m.SideOf(callerID) != SideOpponent {
		return Transition{}, fmt.Errorf("%w: only the challenged player can decline", ErrNotAuthorized)
	}
	if m.Status != StatusPendingStart {
		return Transition{}, fmt.Errorf("%w: only pending challenges can be declined", ErrInvalidState)
	}
	t := Transition{From: m.Status, To: StatusCancelled, Event: EventChallengeDeclined}
	m.Status = StatusCancelled
	m.UpdatedAt = now
	return t, nil
}

// ReportResult records caller's claimed winner and result confirmation.
//
// The first report fixes the winner. Once both sides have confirmed, the
// match is evaluated immediately: a claim that contradicts the already
// recorded winner disputes the match, otherwise rate is applied and the match
// completes.
func (m *Match) ReportResult(callerID, claimedWinnerID string, now time.Time, rate RateFunc) (Transition, error) {
	if !m.Status.AcceptsResults() {
		return Transition{}, fmt.Errorf("%w: status is %s", ErrInvalidState, m.Status)
	}
	side := m.SideOf(callerID)
	if side == SideNone {
		return Transition{}, ErrNotAuthorized
	}
	if claimedWinnerID == "" {
		return Transition{}, ErrMissingWinner
	}
	if !m.IsParticipant(claimedWinnerID) {
		return Transition{}, ErrWinnerNotParticipant
	}

	prior := m.WinnerID
	if prior == "" {
		m.WinnerID = claimedWinnerID
	}
	if side == SideChallenger {
		m.Evidence.ChallengerResultAccepted = true
	} else {
		m.Evidence.OpponentResultAccepted = true
	}

	t := Transition{From: m.Status, PriorWinner: prior, ClaimedWinner: claimedWinnerID}
	m.UpdatedAt = now

	if !(m.Evidence.ChallengerResultAccepted && m.Evidence.OpponentResultAccepted) {
		m.Status = StatusPendingResult
		t.To = StatusPendingResult
		t.Event = EventResultReported
		return t, nil
	}

	if prior != "" && claimedWinnerID != prior {
		m.Status = StatusDisputed
		t.To = StatusDisputed
		t.Event = EventMatchDisputed
		return t, nil
	}

	challengerAfter, opponentAfter := rate(m.ChallengerRatingPre, m.OpponentRatingPre, m.WinnerID == m.ChallengerID)
	completed := now
	m.ChallengerRatingPost = &challengerAfter
	m.OpponentRatingPost = &opponentAfter
	m.CompletedAt = &completed
	m.Status = StatusCompleted
	t.To = StatusCompleted
	t.Event = EventMatchCompleted
	return t, nil
}

// LoserID returns the non-winning participant of a decided match
func (m *Match) LoserID() string {
	if m.WinnerID == "" {
		return ""
	}
	return m.OtherParticipant(m.WinnerID)
}
