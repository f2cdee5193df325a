// Package content provides the read-only content catalog consumed by the
// combat engine: ability and creature definitions loaded from YAML, and the
// deterministic power-cost formula that prices abilities.
package content

import (
	"fmt"
)

// AbilityType classifies how an ability is resourced.
type AbilityType string

const (
	AbilitySpell   AbilityType = "spell"
	AbilityCombat  AbilityType = "combat"
	AbilityUtility AbilityType = "utility"
	AbilityPassive AbilityType = "passive"
	AbilityItem    AbilityType = "item"
)

// TargetType identifies who an ability can be aimed at.
type TargetType string

const (
	TargetSelf        TargetType = "self"
	TargetSingleAlly  TargetType = "single_ally"
	TargetSingleEnemy TargetType = "single_enemy"
	TargetAreaAllies  TargetType = "area_allies"
	TargetAreaEnemies TargetType = "area_enemies"
	TargetAll         TargetType = "all"
)

// IsSingle reports whether the target type aims at exactly one combatant.
func (t TargetType) IsSingle() bool {
	return t == TargetSingleAlly || t == TargetSingleEnemy
}

// IsArea reports whether the target type aims at one side's living members.
func (t TargetType) IsArea() bool {
	return t == TargetAreaAllies || t == TargetAreaEnemies
}

// CooldownType buckets an ability's reuse delay for pricing.
type CooldownType string

const (
	CooldownNone   CooldownType = "none"
	CooldownShort  CooldownType = "short"
	CooldownMedium CooldownType = "medium"
	CooldownLong   CooldownType = "long"
)

// EffectKind is the closed set of effect variants an ability may carry.
// Effects are parsed once at load time; the resolver switches on Kind and
// never inspects raw strings.
type EffectKind string

const (
	EffectDamage    EffectKind = "damage"
	EffectHeal      EffectKind = "heal"
	EffectDot       EffectKind = "dot"
	EffectCondition EffectKind = "condition"
	EffectBuff      EffectKind = "buff"
	EffectDebuff    EffectKind = "debuff"
	// EffectAid revives a downed ally to 1 HP.
	EffectAid EffectKind = "aid"
	// EffectDrag moves a downed ally to an adjacent location, removing them
	// from the session.
	EffectDrag EffectKind = "drag"
)

var validEffectKinds = map[EffectKind]bool{
	EffectDamage: true, EffectHeal: true, EffectDot: true, EffectCondition: true,
	EffectBuff: true, EffectDebuff: true, EffectAid: true, EffectDrag: true,
}

// Effect is one parsed, typed sub-effect of an ability.
type Effect struct {
	Kind EffectKind `yaml:"kind" json:"kind"`
	// Amount is damage or healing per application; per round for dots.
	Amount int `yaml:"amount" json:"amount"`
	// ConditionID names the status condition applied by condition/dot/buff/debuff effects.
	ConditionID string `yaml:"condition_id" json:"conditionId,omitempty"`
	// DurationRounds is how long an applied condition persists; 0 falls back
	// to the ability's DurationRounds.
	DurationRounds int `yaml:"duration_rounds" json:"durationRounds,omitempty"`
	// Stacks is the stack count applied with a condition; 0 means 1.
	Stacks int `yaml:"stacks" json:"stacks,omitempty"`
}

// Validate checks that the effect's kind is known and its fields are coherent.
//
// Postcondition: Returns nil iff Kind is a member of the closed variant set
// and required per-kind fields are present.
func (e Effect) Validate() error {
	if !validEffectKinds[e.Kind] {
		return fmt.Errorf("effect: unknown kind %q", e.Kind)
	}
	switch e.Kind {
	case EffectDamage, EffectHeal:
		if e.Amount < 0 {
			return fmt.Errorf("effect %s: amount must be >= 0, got %d", e.Kind, e.Amount)
		}
	case EffectDot, EffectCondition, EffectBuff, EffectDebuff:
		if e.ConditionID == "" {
			return fmt.Errorf("effect %s: condition_id must not be empty", e.Kind)
		}
	}
	return nil
}

// Ability is one content-catalog ability definition. The engine treats
// abilities as immutable once loaded.
type Ability struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Type           AbilityType  `yaml:"type" json:"abilityType"`
	Target         TargetType   `yaml:"target" json:"targetType"`
	Range          int          `yaml:"range" json:"range"`
	Cooldown       CooldownType `yaml:"cooldown" json:"cooldownType"`
	CooldownRounds int          `yaml:"cooldown_rounds" json:"cooldownRounds"`
	BaseDamage     int          `yaml:"base_damage" json:"baseDamage"`
	DurationRounds int          `yaml:"duration_rounds" json:"durationRounds"`
	Effects        []Effect     `yaml:"effects" json:"effects"`
	// ManaCost and StaminaCost are set by WithCalculatedCost from PowerCost
	// at load time: spells pay all mana, combat abilities all stamina.
	// Explicit content values survive only for utility and item abilities.
	ManaCost    int `yaml:"mana_cost" json:"manaCost"`
	StaminaCost int `yaml:"stamina_cost" json:"staminaCost"`
	PowerCost   int `yaml:"power_cost" json:"powerCost"`
}

// Validate checks that the ability satisfies basic invariants.
//
// Precondition: a must not be nil.
// Postcondition: Returns nil iff ID and Name are non-empty, Type, Target and
// Cooldown are members of their closed sets, and every effect validates.
func (a *Ability) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("ability: id must not be empty")
	}
	if a.Name == "" {
		return fmt.Errorf("ability %q: name must not be empty", a.ID)
	}
	switch a.Type {
	case AbilitySpell, AbilityCombat, AbilityUtility, AbilityPassive, AbilityItem:
	default:
		return fmt.Errorf("ability %q: unknown type %q", a.ID, a.Type)
	}
	switch a.Target {
	case TargetSelf, TargetSingleAlly, TargetSingleEnemy, TargetAreaAllies, TargetAreaEnemies, TargetAll:
	default:
		return fmt.Errorf("ability %q: unknown target %q", a.ID, a.Target)
	}
	switch a.Cooldown {
	case CooldownNone, CooldownShort, CooldownMedium, CooldownLong:
	default:
		return fmt.Errorf("ability %q: unknown cooldown %q", a.ID, a.Cooldown)
	}
	if a.Range < 0 {
		return fmt.Errorf("ability %q: range must be >= 0, got %d", a.ID, a.Range)
	}
	if a.BaseDamage < 0 {
		return fmt.Errorf("ability %q: base_damage must be >= 0, got %d", a.ID, a.BaseDamage)
	}
	if a.DurationRounds < 0 {
		return fmt.Errorf("ability %q: duration_rounds must be >= 0, got %d", a.ID, a.DurationRounds)
	}
	for i, e := range a.Effects {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("ability %q: effect %d: %w", a.ID, i, err)
		}
	}
	return nil
}

// RequiresTarget reports whether an action using this ability must carry a
// target ID.
func (a *Ability) RequiresTarget() bool {
	return a.Target.IsSingle()
}

// Offensive reports whether the ability is aimed at enemies.
func (a *Ability) Offensive() bool {
	return a.Target == TargetSingleEnemy || a.Target == TargetAreaEnemies
}

// AllowsDownedTarget reports whether the ability may target a downed
// combatant. Only aid and drag effects operate on the downed.
func (a *Ability) AllowsDownedTarget() bool {
	for _, e := range a.Effects {
		if e.Kind == EffectAid || e.Kind == EffectDrag {
			return true
		}
	}
	return false
}
