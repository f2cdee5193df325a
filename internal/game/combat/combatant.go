// Package combat implements the round-based combat session engine: the
// session aggregate and its lifecycle state machine, the per-round resolver,
// and end-of-round bookkeeping. Types in this package are not safe for
// concurrent use; the engine runner serialises all access to one session.
package combat

// Kind distinguishes player combatants from creature combatants.
type Kind string

const (
	KindPlayer   Kind = "player"
	KindCreature Kind = "creature"
)

// StatusEffect is one active condition on a combatant.
type StatusEffect struct {
	ConditionID string `json:"conditionId"`
	Stacks      int    `json:"stacks"`
	// RoundsRemaining counts down at end of round; the effect expires at 0.
	RoundsRemaining int `json:"roundsRemaining"`
	// DamagePerRound is non-zero for damage-over-time conditions.
	DamagePerRound int `json:"damagePerRound,omitempty"`
}

// Combatant represents one participant in a combat session — a player
// character or a creature instance. Resource and status fields are mutated
// in place by the resolver.
type Combatant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       Kind   `json:"type"`
	LocationID string `json:"locationId"`
	// TemplateID is the creature template this combatant was instantiated
	// from; empty for players.
	TemplateID string `json:"templateId,omitempty"`
	// CharacterID is the durable character row for players; 0 for creatures.
	CharacterID int64 `json:"characterId,omitempty"`

	CurrentHP      int `json:"currentHp"`
	MaxHP          int `json:"maxHp"`
	CurrentMana    int `json:"currentMana"`
	MaxMana        int `json:"maxMana"`
	CurrentStamina int `json:"currentStamina"`
	MaxStamina     int `json:"maxStamina"`

	Accuracy   int `json:"accuracy"`
	Evasion    int `json:"evasion"`
	BaseDamage int `json:"baseDamage"`
	CritBonus  int `json:"critBonus"`
	Level      int `json:"level"`

	Alive bool `json:"isAlive"`
	// Downed is the incapacitated-but-not-dead state; only players are
	// downed, creatures die outright at 0 HP.
	Downed bool `json:"isDowned"`
	// Departed is set when a combatant has left the session (fled, or a
	// downed ally dragged out). Departed combatants stay in the roster for
	// the audit trail but never act or get targeted.
	Departed bool `json:"departed,omitempty"`

	StatusEffects []StatusEffect `json:"statusEffects"`
	// AbilityIDs lists the abilities this combatant may submit.
	AbilityIDs []string `json:"abilityIds,omitempty"`
	// Cooldowns maps ability ID to the first round it is usable again.
	Cooldowns map[string]int `json:"cooldowns,omitempty"`
	// LastFleeRound is the round of the most recent flee attempt; 0 = never.
	LastFleeRound int `json:"lastFleeRound,omitempty"`
}

// IsPlayer reports whether this combatant is a player character.
func (c *Combatant) IsPlayer() bool { return c.Kind == KindPlayer }

// CanAct reports whether this combatant may submit or be assigned actions.
//
// Postcondition: Returns true iff the combatant is alive, not downed, and has
// not departed the session.
func (c *Combatant) CanAct() bool {
	return c.Alive && !c.Downed && !c.Departed
}

// Knows reports whether the combatant has abilityID in its ability list.
// Reserved action IDs (pass, flee) bypass this check.
func (c *Combatant) Knows(abilityID string) bool {
	for _, id := range c.AbilityIDs {
		if id == abilityID {
			return true
		}
	}
	return false
}

// CanAfford reports whether the combatant's current resources cover the cost.
func (c *Combatant) CanAfford(mana, stamina int) bool {
	return c.CurrentMana >= mana && c.CurrentStamina >= stamina
}

// Debit subtracts the full resource cost.
//
// Precondition: CanAfford(mana, stamina) — the resolver never debits what it
// has not first verified, so a shortfall here is a programming error.
func (c *Combatant) Debit(mana, stamina int) {
	if !c.CanAfford(mana, stamina) {
		panic("combat: Debit without CanAfford")
	}
	c.CurrentMana -= mana
	c.CurrentStamina -= stamina
}

// ApplyDamage reduces CurrentHP by amount, flooring at zero. At zero HP a
// player becomes downed; a creature dies.
//
// Precondition: amount >= 0.
// Postcondition: CurrentHP >= 0; Alive and Downed reflect the new HP.
func (c *Combatant) ApplyDamage(amount int) {
	c.CurrentHP -= amount
	if c.CurrentHP > 0 {
		return
	}
	c.CurrentHP = 0
	if c.IsPlayer() {
		c.Downed = true
	} else {
		c.Alive = false
	}
}

// Heal restores amount HP, capped at MaxHP. Healing does not clear the
// downed state; only Revive does.
//
// Precondition: amount >= 0.
func (c *Combatant) Heal(amount int) {
	if !c.Alive {
		return
	}
	c.CurrentHP += amount
	if c.CurrentHP > c.MaxHP {
		c.CurrentHP = c.MaxHP
	}
}

// Revive brings a downed combatant back to 1 HP and clears the downed flag.
//
// Precondition: the combatant must be downed.
// Postcondition: CurrentHP == 1, Downed == false.
func (c *Combatant) Revive() {
	c.CurrentHP = 1
	c.Downed = false
	c.Alive = true
}

// Regen restores mana and stamina, capped at their maxima.
//
// Precondition: mana >= 0 and stamina >= 0.
func (c *Combatant) Regen(mana, stamina int) {
	c.CurrentMana += mana
	if c.CurrentMana > c.MaxMana {
		c.CurrentMana = c.MaxMana
	}
	c.CurrentStamina += stamina
	if c.CurrentStamina > c.MaxStamina {
		c.CurrentStamina = c.MaxStamina
	}
}

// HasStatus reports whether conditionID is active on this combatant.
func (c *Combatant) HasStatus(conditionID string) bool {
	for _, se := range c.StatusEffects {
		if se.ConditionID == conditionID {
			return true
		}
	}
	return false
}

// AddStatus applies a condition. Re-applying an active condition adds stacks
// and extends the duration to the longer of the two.
//
// Postcondition: HasStatus(se.ConditionID) is true.
func (c *Combatant) AddStatus(se StatusEffect) {
	if se.Stacks <= 0 {
		se.Stacks = 1
	}
	for i := range c.StatusEffects {
		existing := &c.StatusEffects[i]
		if existing.ConditionID == se.ConditionID {
			existing.Stacks += se.Stacks
			if se.RoundsRemaining > existing.RoundsRemaining {
				existing.RoundsRemaining = se.RoundsRemaining
			}
			if se.DamagePerRound > existing.DamagePerRound {
				existing.DamagePerRound = se.DamagePerRound
			}
			return
		}
	}
	c.StatusEffects = append(c.StatusEffects, se)
}

// RemoveStatus deletes the condition with conditionID if present.
//
// Postcondition: HasStatus(conditionID) is false.
func (c *Combatant) RemoveStatus(conditionID string) {
	for i, se := range c.StatusEffects {
		if se.ConditionID == conditionID {
			c.StatusEffects = append(c.StatusEffects[:i], c.StatusEffects[i+1:]...)
			return
		}
	}
}

// Snapshot captures the combatant's externally visible state for event
// logging.
type Snapshot struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CurrentHP      int    `json:"currentHp"`
	MaxHP          int    `json:"maxHp"`
	CurrentMana    int    `json:"currentMana"`
	CurrentStamina int    `json:"currentStamina"`
	Alive          bool   `json:"isAlive"`
	Downed         bool   `json:"isDowned"`
}

// Snap returns a point-in-time Snapshot of the combatant.
func (c *Combatant) Snap() Snapshot {
	return Snapshot{
		ID:             c.ID,
		Name:           c.Name,
		CurrentHP:      c.CurrentHP,
		MaxHP:          c.MaxHP,
		CurrentMana:    c.CurrentMana,
		CurrentStamina: c.CurrentStamina,
		Alive:          c.Alive,
		Downed:         c.Downed,
	}
}
