package domain

import "time"

// EventType names a match notification
type EventType string

const (
	EventChallengeCreated  EventType = "challenge_created"
	EventStartAccepted     EventType = "start_accepted"
	EventMatchStarted      EventType = "match_started"
	EventChallengeDeclined EventType = "challenge_declined"
	EventChallengeExpired  EventType = "challenge_expired"
	EventResultReported    EventType = "result_reported"
	EventMatchCompleted    EventType = "match_completed"
	EventMatchDisputed     EventType = "match_disputed"
)

// MatchEvent is published after every accepted match transition
type MatchEvent struct {
	Type       EventType `json:"type"`
	MatchID    string    `json:"match_id"`
	GameKind   GameKind  `json:"game_type"`
	ActorID    string    `json:"actor_id"`
	Recipients []string  `json:"recipients"`
	Status     Status    `json:"status"`
	Match      *Match    `json:"match,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMatchEvent builds the event for a transition performed by actorID.
// Terminal outcomes reach both players; everything else reaches the other side.
func NewMatchEvent(t EventType, m *Match, actorID string, now time.Time) MatchEvent {
	var recipients []string
	switch t {
	case EventMatchCompleted, EventMatchDisputed, EventChallengeExpired:
		recipients = m.Participants()
	default:
		if other := m.OtherParticipant(actorID); other != "" {
			recipients = []string{other}
		}
	}
	return MatchEvent{
		Type:       t,
		MatchID:    m.ID,
		GameKind:   m.GameKind,
		ActorID:    actorID,
		Recipients: recipients,
		Status:     m.Status,
		Match:      m.Clone(),
		OccurredAt: now,
	}
}
