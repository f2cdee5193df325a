package combat

import (
	"fmt"
	"sort"

	"github.com/duskmire/engine/internal/game/content"
)

// Rules are the combat tunables the resolver reads each round. The engine
// builds them from configuration at session creation.
type Rules struct {
	FleeSuccessChance    float64
	FleeCooldownRounds   int
	MaxCombatRounds      int
	ManaRegenPerRound    int
	StaminaRegenPerRound int
}

// defenseBase is added to a target's evasion to form the to-hit threshold.
const defenseBase = 10

// hitDie is the size of the to-hit roll; the top face is a critical hit.
const hitDie = 20

// ResolveRound applies all pending actions for the current round in
// initiative order, mutating combatant state in place and returning the
// ordered events describing what happened.
//
// Initiative: actions sort by descending actor evasion; ties break by
// ascending actor ID so resolution order is reproducible.
//
// For each action the resolver re-validates (actor can still act, ability
// known and off cooldown, cost affordable, target legal); an invalid action
// produces a rejection event and mutates nothing. Valid actions debit their
// full resource cost and apply their effects in the same step, so a debit
// without an applied effect cannot occur.
//
// Precondition: s.State == StateActive; provider and src must be non-nil.
// Postcondition: Returns events in resolution order; Pending is left intact
// for FinishRound to clear.
func ResolveRound(s *Session, provider content.Provider, rules Rules, src Source) []Event {
	if s.State != StateActive {
		panic("combat: ResolveRound on non-ACTIVE session")
	}

	ordered := make([]Action, 0, len(s.Pending))
	for _, a := range s.Pending {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ai, aj := s.Combatant(ordered[i].ActorID), s.Combatant(ordered[j].ActorID)
		ei, ej := 0, 0
		if ai != nil {
			ei = ai.Evasion
		}
		if aj != nil {
			ej = aj.Evasion
		}
		if ei != ej {
			return ei > ej
		}
		return ordered[i].ActorID < ordered[j].ActorID
	})

	var events []Event
	for _, a := range ordered {
		events = append(events, s.resolveAction(a, provider, rules, src)...)
	}
	return events
}

// resolveAction validates and applies one action, returning its events.
func (s *Session) resolveAction(a Action, provider content.Provider, rules Rules, src Source) []Event {
	actor := s.Combatant(a.ActorID)
	if actor == nil {
		return []Event{s.reject(nil, a, "actor is no longer in the session")}
	}
	if !actor.CanAct() {
		return []Event{s.reject(actor, a, fmt.Sprintf("%s can no longer act", actor.Name))}
	}

	switch a.AbilityID {
	case ActionPass:
		s.appendLog(fmt.Sprintf("%s holds their ground.", actor.Name))
		return nil
	case ActionFlee:
		return s.resolveFlee(actor, rules, src)
	}

	ability, err := provider.Ability(a.AbilityID)
	if err != nil {
		return []Event{s.reject(actor, a, fmt.Sprintf("unknown ability %q", a.AbilityID))}
	}
	if len(actor.AbilityIDs) > 0 && !actor.Knows(a.AbilityID) {
		return []Event{s.reject(actor, a, fmt.Sprintf("%s has not learned %s", actor.Name, ability.Name))}
	}
	if until, ok := actor.Cooldowns[ability.ID]; ok && s.CurrentRound < until {
		return []Event{s.reject(actor, a, fmt.Sprintf("%s is on cooldown until round %d", ability.Name, until))}
	}
	if !actor.CanAfford(ability.ManaCost, ability.StaminaCost) {
		return []Event{s.reject(actor, a, fmt.Sprintf(
			"%s cannot afford %s (needs %d mana, %d stamina)",
			actor.Name, ability.Name, ability.ManaCost, ability.StaminaCost))}
	}

	targets, reason := s.resolveTargets(actor, ability, a.TargetID)
	if reason != "" {
		return []Event{s.reject(actor, a, reason)}
	}

	// Validation is complete: debit and apply together, never one without
	// the other.
	actor.Debit(ability.ManaCost, ability.StaminaCost)
	if ability.CooldownRounds > 0 {
		if actor.Cooldowns == nil {
			actor.Cooldowns = make(map[string]int)
		}
		actor.Cooldowns[ability.ID] = s.CurrentRound + ability.CooldownRounds
	}

	events := []Event{s.NewEvent(EventAbility, fmt.Sprintf("%s uses %s.", actor.Name, ability.Name)).withActor(actor)}
	s.appendLog(fmt.Sprintf("%s uses %s.", actor.Name, ability.Name))

	for _, target := range targets {
		events = append(events, s.applyToTarget(actor, target, ability, src)...)
	}
	return events
}

// resolveFlee handles the reserved flee action: an attempt gated by the flee
// cooldown, succeeding with the configured chance.
func (s *Session) resolveFlee(actor *Combatant, rules Rules, src Source) []Event {
	if actor.LastFleeRound > 0 && s.CurrentRound-actor.LastFleeRound <= rules.FleeCooldownRounds {
		return []Event{s.reject(actor, Action{ActorID: actor.ID, AbilityID: ActionFlee},
			fmt.Sprintf("%s cannot flee again yet", actor.Name))}
	}
	actor.LastFleeRound = s.CurrentRound

	if src.Intn(100) < int(rules.FleeSuccessChance*100) {
		actor.Departed = true
		s.appendLog(fmt.Sprintf("%s breaks free and escapes!", actor.Name))
		return []Event{s.NewEvent(EventFlee, fmt.Sprintf("%s flees the battle.", actor.Name)).withActor(actor)}
	}
	s.appendLog(fmt.Sprintf("%s tries to flee but cannot escape.", actor.Name))
	return []Event{s.NewEvent(EventFleeFailed, fmt.Sprintf("%s fails to flee.", actor.Name)).withActor(actor)}
}

// resolveTargets maps an ability's target type to the concrete combatants it
// affects, or returns a non-empty rejection reason.
func (s *Session) resolveTargets(actor *Combatant, ability *content.Ability, targetID string) ([]*Combatant, string) {
	switch {
	case ability.Target == content.TargetSelf:
		return []*Combatant{actor}, ""

	case ability.Target.IsSingle():
		target := s.Combatant(targetID)
		if target == nil {
			return nil, fmt.Sprintf("target %q is not in the session", targetID)
		}
		if !target.Alive || target.Departed {
			return nil, fmt.Sprintf("%s is not a valid target", target.Name)
		}
		wantAlly := ability.Target == content.TargetSingleAlly
		isAlly := target.Kind == actor.Kind
		if wantAlly != isAlly {
			return nil, fmt.Sprintf("%s is on the wrong side for %s", target.Name, ability.Name)
		}
		if ability.AllowsDownedTarget() {
			if !target.Downed {
				return nil, fmt.Sprintf("%s is not downed", target.Name)
			}
		} else if target.Downed {
			return nil, fmt.Sprintf("%s is downed and cannot be targeted", target.Name)
		}
		return []*Combatant{target}, ""

	case ability.Target.IsArea():
		wantAllies := ability.Target == content.TargetAreaAllies
		var out []*Combatant
		for _, c := range s.Combatants {
			if !c.CanAct() {
				continue
			}
			if (c.Kind == actor.Kind) == wantAllies {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil, "no valid targets in range"
		}
		return out, ""

	default: // TargetAll
		var out []*Combatant
		for _, c := range s.Combatants {
			if c.CanAct() {
				out = append(out, c)
			}
		}
		return out, ""
	}
}

// applyToTarget performs the hit check for offensive abilities and applies
// every sub-effect, emitting one event per meaningful change.
func (s *Session) applyToTarget(actor, target *Combatant, ability *content.Ability, src Source) []Event {
	crit := false
	if ability.Offensive() {
		roll := src.Intn(hitDie) + 1
		total := roll + actor.Accuracy
		threshold := defenseBase + target.Evasion
		crit = roll == hitDie
		if !crit && total < threshold {
			s.appendLog(fmt.Sprintf("%s evades %s's %s.", target.Name, actor.Name, ability.Name))
			return []Event{s.NewEvent(EventMiss,
				fmt.Sprintf("%s misses %s with %s.", actor.Name, target.Name, ability.Name)).
				withActor(actor).withTarget(target).
				withData(map[string]any{"roll": roll, "total": total, "threshold": threshold})}
		}
	}

	var events []Event
	if ability.Offensive() && ability.BaseDamage > 0 {
		events = append(events, s.dealDamage(actor, target, ability.BaseDamage+actor.BaseDamage, crit)...)
	}
	for _, e := range ability.Effects {
		events = append(events, s.applyEffect(actor, target, ability, e, crit)...)
	}
	return events
}

// applyEffect applies one typed sub-effect to target.
func (s *Session) applyEffect(actor, target *Combatant, ability *content.Ability, e content.Effect, crit bool) []Event {
	switch e.Kind {
	case content.EffectDamage:
		return s.dealDamage(actor, target, e.Amount+actor.BaseDamage, crit)

	case content.EffectHeal:
		before := target.CurrentHP
		target.Heal(e.Amount)
		healed := target.CurrentHP - before
		s.appendLog(fmt.Sprintf("%s heals %s for %d.", actor.Name, target.Name, healed))
		return []Event{s.NewEvent(EventHeal,
			fmt.Sprintf("%s heals %s for %d.", actor.Name, target.Name, healed)).
			withActor(actor).withTarget(target).
			withData(map[string]any{"amount": healed, "hpBefore": before, "hpAfter": target.CurrentHP})}

	case content.EffectDot, content.EffectCondition, content.EffectBuff, content.EffectDebuff:
		duration := e.DurationRounds
		if duration == 0 {
			duration = ability.DurationRounds
		}
		if duration == 0 {
			duration = 1
		}
		se := StatusEffect{
			ConditionID:     e.ConditionID,
			Stacks:          e.Stacks,
			RoundsRemaining: duration,
		}
		if e.Kind == content.EffectDot {
			se.DamagePerRound = e.Amount
		}
		target.AddStatus(se)
		s.appendLog(fmt.Sprintf("%s is afflicted by %s.", target.Name, e.ConditionID))
		return []Event{s.NewEvent(EventStatusApplied,
			fmt.Sprintf("%s gains %s for %d rounds.", target.Name, e.ConditionID, duration)).
			withActor(actor).withTarget(target).
			withData(map[string]any{"conditionId": e.ConditionID, "durationRounds": duration})}

	case content.EffectAid:
		target.Revive()
		s.appendLog(fmt.Sprintf("%s stabilises %s.", actor.Name, target.Name))
		return []Event{s.NewEvent(EventRevived,
			fmt.Sprintf("%s aids %s back to their feet.", actor.Name, target.Name)).
			withActor(actor).withTarget(target)}

	case content.EffectDrag:
		target.Departed = true
		s.appendLog(fmt.Sprintf("%s drags %s to safety.", actor.Name, target.Name))
		return []Event{s.NewEvent(EventDrag,
			fmt.Sprintf("%s drags %s out of the fight.", actor.Name, target.Name)).
			withActor(actor).withTarget(target)}

	default:
		return nil
	}
}

// dealDamage applies amount (plus crit bonus when crit) to target and emits
// damage plus any downed/died events.
func (s *Session) dealDamage(actor, target *Combatant, amount int, crit bool) []Event {
	if crit {
		amount += actor.CritBonus
	}
	if amount < 0 {
		amount = 0
	}
	before := target.CurrentHP
	wasDowned := target.Downed
	target.ApplyDamage(amount)

	msg := fmt.Sprintf("%s hits %s for %d damage.", actor.Name, target.Name, amount)
	if crit {
		msg = fmt.Sprintf("%s critically hits %s for %d damage!", actor.Name, target.Name, amount)
	}
	s.appendLog(msg)
	events := []Event{s.NewEvent(EventDamage, msg).
		withActor(actor).withTarget(target).
		withData(map[string]any{"amount": amount, "crit": crit, "hpBefore": before, "hpAfter": target.CurrentHP})}

	if target.Downed && !wasDowned {
		s.appendLog(fmt.Sprintf("%s falls!", target.Name))
		events = append(events, s.NewEvent(EventDowned, fmt.Sprintf("%s is downed.", target.Name)).withTarget(target))
	}
	if !target.Alive {
		s.appendLog(fmt.Sprintf("%s dies!", target.Name))
		events = append(events, s.NewEvent(EventDied, fmt.Sprintf("%s dies.", target.Name)).withTarget(target))
	}
	return events
}

// reject emits a rejection event for an invalid action; nothing is mutated
// and the actor's slot stays open for resubmission until the round closes.
func (s *Session) reject(actor *Combatant, a Action, reason string) Event {
	ev := s.NewEvent(EventRejected, reason).
		withData(map[string]any{"actorId": a.ActorID, "abilityId": a.AbilityID})
	if actor != nil {
		ev = ev.withActor(actor)
	}
	return ev
}
