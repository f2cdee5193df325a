package combat

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies one discrete occurrence in a combat session.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventRoundStart    EventType = "round_start"
	EventRoundEnd      EventType = "round_end"
	EventJoin          EventType = "join"
	EventFlee          EventType = "flee"
	EventFleeFailed    EventType = "flee_failed"
	EventDrag          EventType = "drag"
	EventAbility       EventType = "ability"
	EventDamage        EventType = "damage"
	EventMiss          EventType = "miss"
	EventHeal          EventType = "heal"
	EventStatusApplied EventType = "status_applied"
	EventStatusRemoved EventType = "status_removed"
	EventStatusTick    EventType = "status_tick"
	EventDowned        EventType = "downed"
	EventRevived       EventType = "revived"
	EventDied          EventType = "died"
	EventRejected      EventType = "action_rejected"
)

// Event is one append-only audit record. Events are emitted by the resolver,
// shown to clients, and persisted to the event log sink; gameplay logic never
// reads them back.
type Event struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	LocationID   string    `json:"locationId"`
	LocationName string    `json:"locationName,omitempty"`
	Type         EventType `json:"eventType"`
	RoundNumber  int       `json:"roundNumber"`
	Message      string    `json:"message"`
	// ActorSnapshot and TargetSnapshot capture before/after state around the
	// occurrence for replay and debugging.
	ActorSnapshot  *Snapshot `json:"actorSnapshot,omitempty"`
	TargetSnapshot *Snapshot `json:"targetSnapshot,omitempty"`
	// AllCombatants is populated on session-level events (start, end, round end).
	AllCombatants []Snapshot `json:"allCombatantsSnapshot,omitempty"`
	// Data carries type-specific extras: damage dealt, roll values, end reason.
	Data      map[string]any `json:"eventData,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent constructs an Event stamped with the session's identity and the
// current round.
func (s *Session) NewEvent(t EventType, msg string) Event {
	return Event{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		LocationID:  s.LocationID,
		Type:        t,
		RoundNumber: s.CurrentRound,
		Message:     msg,
		Timestamp:   time.Now().UTC(),
	}
}

// withActor attaches an actor snapshot.
func (e Event) withActor(c *Combatant) Event {
	snap := c.Snap()
	e.ActorSnapshot = &snap
	return e
}

// withTarget attaches a target snapshot.
func (e Event) withTarget(c *Combatant) Event {
	snap := c.Snap()
	e.TargetSnapshot = &snap
	return e
}

// withData attaches type-specific extras.
func (e Event) withData(data map[string]any) Event {
	e.Data = data
	return e
}
