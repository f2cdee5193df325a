package combat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the session lifecycle state. Transitions only move forward:
// WAITING → ACTIVE → ENDED.
type State string

const (
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// EndReason records why a session reached ENDED. It is set exactly once.
type EndReason string

const (
	EndHostilesDefeated EndReason = "hostiles_defeated"
	EndPlayersDefeated  EndReason = "players_defeated"
	EndPlayersFled      EndReason = "players_fled"
	EndRoundLimit       EndReason = "round_limit"
	EndSessionTimeout   EndReason = "session_timeout"
	EndTerminated       EndReason = "terminated"
)

// ErrSessionEnded is returned by mutations attempted on an ENDED session.
var ErrSessionEnded = errors.New("combat session has ended")

// ErrUnknownActor is returned when an action names a combatant not in the session.
var ErrUnknownActor = errors.New("actor is not a combatant in this session")

// ErrActorCannotAct is returned when a dead, downed, or departed combatant submits.
var ErrActorCannotAct = errors.New("actor cannot act")

// Session is the aggregate coordinating one battle at one location. It is the
// single source of truth for combat state between snapshots; the engine
// runner owns it and serialises all access.
type Session struct {
	ID         string `json:"id"`
	LocationID string `json:"locationId"`
	State      State  `json:"state"`
	// CurrentRound is 0 while WAITING and counts from 1 once ACTIVE. It only
	// increases, by exactly 1 per resolved round.
	CurrentRound int `json:"currentRound"`
	// RoundStartTime anchors the current round's submission deadline.
	RoundStartTime time.Time    `json:"roundStartTime"`
	Combatants     []*Combatant `json:"combatants"`
	// Pending maps actor ID to that actor's action for the current round
	// only; a later submission replaces an earlier one until the round
	// closes. Cleared after resolution.
	Pending map[string]Action `json:"pendingActions"`
	// Log is the human-readable combat log kept for client display; the
	// structured audit trail lives in the event log sink.
	Log       []string  `json:"combatLog"`
	EndReason EndReason `json:"endReason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession creates a WAITING session at locationID with the initial roster.
//
// Precondition: locationID must be non-empty; initial combatant IDs must be unique.
// Postcondition: State == StateWaiting, CurrentRound == 0.
func NewSession(locationID string, initial []*Combatant) (*Session, error) {
	if locationID == "" {
		return nil, fmt.Errorf("location id must not be empty")
	}
	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		LocationID: locationID,
		State:      StateWaiting,
		Pending:    make(map[string]Action),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, c := range initial {
		if err := s.Join(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Combatant returns the participant with the given ID, or nil.
func (s *Session) Combatant(id string) *Combatant {
	for _, c := range s.Combatants {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Join adds a combatant to a non-ENDED session. Joining with an ID already in
// the roster replaces that combatant's resource snapshot in place
// (reconnection) rather than duplicating the entry.
//
// Precondition: c must not be nil and must have a non-empty ID.
// Postcondition: Returns ErrSessionEnded if State == StateEnded; otherwise
// the roster contains exactly one combatant with c.ID.
func (s *Session) Join(c *Combatant) error {
	if s.State == StateEnded {
		return fmt.Errorf("joining session %s: %w", s.ID, ErrSessionEnded)
	}
	if c == nil || c.ID == "" {
		return fmt.Errorf("combatant must have an id")
	}
	for i, existing := range s.Combatants {
		if existing.ID == c.ID {
			s.Combatants[i] = c
			s.touch()
			return nil
		}
	}
	s.Combatants = append(s.Combatants, c)
	s.touch()
	return nil
}

// StartIfReady transitions WAITING → ACTIVE once at least one combatant on
// each opposing side can act, and opens round 1.
//
// Postcondition: Returns true iff the transition happened on this call.
func (s *Session) StartIfReady() bool {
	if s.State != StateWaiting {
		return false
	}
	if !s.hasActing(KindPlayer) || !s.hasActing(KindCreature) {
		return false
	}
	s.State = StateActive
	s.CurrentRound = 1
	s.RoundStartTime = time.Now().UTC()
	s.touch()
	return true
}

// Submit records an action for the current round. A later submission from the
// same actor replaces the earlier one (last-write-wins until the round
// closes).
//
// Postcondition: On success, Pending[a.ActorID] == a with SubmittedAtRound set
// to the current round. Dead, downed, and departed actors are rejected with
// ErrActorCannotAct; ENDED sessions with ErrSessionEnded.
func (s *Session) Submit(a Action) error {
	if s.State == StateEnded {
		return fmt.Errorf("submitting action: %w", ErrSessionEnded)
	}
	actor := s.Combatant(a.ActorID)
	if actor == nil {
		return fmt.Errorf("submitting action for %q: %w", a.ActorID, ErrUnknownActor)
	}
	if !actor.CanAct() {
		return fmt.Errorf("submitting action for %q: %w", a.ActorID, ErrActorCannotAct)
	}
	a.SubmittedAtRound = s.CurrentRound
	s.Pending[a.ActorID] = a
	s.touch()
	return nil
}

// AllSubmitted reports whether every combatant who can act has a pending
// action for the current round.
func (s *Session) AllSubmitted() bool {
	for _, c := range s.Combatants {
		if !c.CanAct() {
			continue
		}
		if _, ok := s.Pending[c.ID]; !ok {
			return false
		}
	}
	return true
}

// End transitions any non-ENDED state to ENDED with the given reason.
// Calling End on an already-ENDED session is a no-op.
//
// Postcondition: State == StateEnded; EndReason is the reason from the first
// effective call and never changes afterwards.
func (s *Session) End(reason EndReason) {
	if s.State == StateEnded {
		return
	}
	s.State = StateEnded
	s.EndReason = reason
	s.Pending = make(map[string]Action)
	s.touch()
}

// Players returns the player-side combatants.
func (s *Session) Players() []*Combatant { return s.side(KindPlayer) }

// Creatures returns the creature-side combatants.
func (s *Session) Creatures() []*Combatant { return s.side(KindCreature) }

// HasActingPlayers reports whether any player can still act.
func (s *Session) HasActingPlayers() bool { return s.hasActing(KindPlayer) }

// HasLivingHostiles reports whether any creature is alive and present.
func (s *Session) HasLivingHostiles() bool { return s.hasActing(KindCreature) }

// appendLog records one display line in the session's combat log.
func (s *Session) appendLog(line string) {
	s.Log = append(s.Log, line)
}

func (s *Session) side(k Kind) []*Combatant {
	var out []*Combatant
	for _, c := range s.Combatants {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) hasActing(k Kind) bool {
	for _, c := range s.Combatants {
		if c.Kind == k && c.CanAct() {
			return true
		}
	}
	return false
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
