package combat

import (
	"fmt"
	"time"
)

// FinishRound performs end-of-round bookkeeping after ResolveRound: resource
// regeneration, status-effect ticks and expiry, win/loss evaluation, and the
// advance into the next round when the session continues.
//
// Precondition: s.State == StateActive and the round's actions have been
// resolved.
// Postcondition: Pending is empty. Either State == StateEnded with EndReason
// set, or CurrentRound has increased by exactly 1 and RoundStartTime anchors
// the new round.
func FinishRound(s *Session, rules Rules) []Event {
	if s.State != StateActive {
		panic("combat: FinishRound on non-ACTIVE session")
	}

	// Regen applies to every living combatant still in the session, downed
	// ones included; they wake up with something to spend.
	for _, c := range s.Combatants {
		if c.Alive && !c.Departed {
			c.Regen(rules.ManaRegenPerRound, rules.StaminaRegenPerRound)
		}
	}

	var events []Event
	for _, c := range s.Combatants {
		if !c.Alive || c.Departed {
			continue
		}
		events = append(events, s.tickStatuses(c)...)
	}

	events = append(events, s.NewEvent(EventRoundEnd,
		fmt.Sprintf("Round %d ends.", s.CurrentRound)).
		withData(map[string]any{"round": s.CurrentRound}))
	s.Pending = make(map[string]Action)

	switch {
	case !s.HasLivingHostiles():
		s.End(EndHostilesDefeated)
	case !s.HasActingPlayers():
		if s.allPlayersDeparted() {
			s.End(EndPlayersFled)
		} else {
			s.End(EndPlayersDefeated)
		}
	case rules.MaxCombatRounds > 0 && s.CurrentRound >= rules.MaxCombatRounds:
		s.End(EndRoundLimit)
	}

	if s.State == StateEnded {
		s.appendLog(fmt.Sprintf("The battle is over: %s.", s.EndReason))
		ev := s.NewEvent(EventSessionEnd, fmt.Sprintf("Combat ends: %s.", s.EndReason)).
			withData(map[string]any{"reason": string(s.EndReason)})
		ev.AllCombatants = s.allSnapshots()
		return append(events, ev)
	}

	s.CurrentRound++
	s.RoundStartTime = time.Now().UTC()
	s.touch()
	return append(events, s.NewEvent(EventRoundStart,
		fmt.Sprintf("Round %d begins.", s.CurrentRound)))
}

// tickStatuses applies one end-of-round tick to every status effect on c:
// damage-over-time effects deal their damage, then all durations count down
// and expired effects are removed.
func (s *Session) tickStatuses(c *Combatant) []Event {
	var events []Event
	remaining := c.StatusEffects[:0]
	for _, se := range c.StatusEffects {
		if se.DamagePerRound > 0 && c.Alive {
			amount := se.DamagePerRound * se.Stacks
			before := c.CurrentHP
			wasDowned := c.Downed
			c.ApplyDamage(amount)
			s.appendLog(fmt.Sprintf("%s suffers %d damage from %s.", c.Name, amount, se.ConditionID))
			events = append(events, s.NewEvent(EventStatusTick,
				fmt.Sprintf("%s takes %d damage from %s.", c.Name, amount, se.ConditionID)).
				withTarget(c).
				withData(map[string]any{"conditionId": se.ConditionID, "amount": amount, "hpBefore": before, "hpAfter": c.CurrentHP}))
			if c.Downed && !wasDowned {
				s.appendLog(fmt.Sprintf("%s falls!", c.Name))
				events = append(events, s.NewEvent(EventDowned, fmt.Sprintf("%s is downed.", c.Name)).withTarget(c))
			}
			if !c.Alive {
				s.appendLog(fmt.Sprintf("%s dies!", c.Name))
				events = append(events, s.NewEvent(EventDied, fmt.Sprintf("%s dies.", c.Name)).withTarget(c))
			}
		}

		se.RoundsRemaining--
		if se.RoundsRemaining > 0 {
			remaining = append(remaining, se)
			continue
		}
		s.appendLog(fmt.Sprintf("%s recovers from %s.", c.Name, se.ConditionID))
		events = append(events, s.NewEvent(EventStatusRemoved,
			fmt.Sprintf("%s is no longer affected by %s.", c.Name, se.ConditionID)).
			withTarget(c).
			withData(map[string]any{"conditionId": se.ConditionID}))
	}
	c.StatusEffects = remaining
	return events
}

// allPlayersDeparted reports whether every player combatant left the session
// (fled or was dragged out) rather than falling in it.
func (s *Session) allPlayersDeparted() bool {
	players := s.Players()
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.Departed {
			return false
		}
	}
	return true
}

// allSnapshots captures the full roster for session-level events.
func (s *Session) allSnapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.Combatants))
	for _, c := range s.Combatants {
		out = append(out, c.Snap())
	}
	return out
}
