package content

// Power-cost pricing tiers. An ability's power cost is the sum of its tier
// scores, floored at 1; the cost is then split into mana and stamina by
// ability type.

// rangeScore buckets an ability's reach.
//
// Postcondition: Returns 0 for rng <= 0, 1 for <= 5, 2 for <= 30, 3 for <= 60,
// 4 for <= 120, 5 otherwise.
func rangeScore(rng int) int {
	switch {
	case rng <= 0:
		return 0
	case rng <= 5:
		return 1
	case rng <= 30:
		return 2
	case rng <= 60:
		return 3
	case rng <= 120:
		return 4
	default:
		return 5
	}
}

// targetScore prices the breadth of a target type.
func targetScore(t TargetType) int {
	switch {
	case t == TargetSelf:
		return 0
	case t.IsSingle():
		return 1
	case t.IsArea():
		return 3
	default: // TargetAll
		return 5
	}
}

// cooldownScore prices reuse frequency; abilities without a cooldown pay a
// premium, long cooldowns earn a discount.
func cooldownScore(c CooldownType) int {
	switch c {
	case CooldownNone:
		return 5
	case CooldownShort:
		return 2
	case CooldownLong:
		return -2
	default: // CooldownMedium
		return 0
	}
}

// durationScore prices lingering effects.
func durationScore(rounds int) int {
	switch {
	case rounds <= 0:
		return 0
	case rounds <= 2:
		return 2
	default:
		return 4
	}
}

// effectScore prices one typed effect. Kinds are matched exactly; pricing by
// substring over raw effect strings (where a description containing "stun"
// would mis-price) is deliberately not reproduced.
func effectScore(e Effect) int {
	switch e.Kind {
	case EffectHeal:
		return 3
	case EffectCondition, EffectDot:
		switch e.ConditionID {
		case "stun":
			return 4
		case "immobilize", "root":
			return 5
		default:
			return 3 // debuff-grade condition
		}
	case EffectBuff:
		return 2
	case EffectDebuff:
		return 3
	default:
		return 0
	}
}

// PowerCost computes the deterministic power budget for an ability from its
// mechanical parameters. It is a pure function of its input.
//
// Precondition: a must not be nil.
// Postcondition: Returns >= 1.
func PowerCost(a *Ability) int {
	cost := a.BaseDamage / 5
	cost += rangeScore(a.Range)
	cost += targetScore(a.Target)
	cost += cooldownScore(a.Cooldown)
	cost += durationScore(a.DurationRounds)
	for _, e := range a.Effects {
		cost += effectScore(e)
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

// WithCalculatedCost returns a copy of a with PowerCost computed and the
// mana/stamina split applied by ability type:
//
//   - spell: all mana
//   - combat: all stamina
//   - utility: explicit costs kept when either is set; otherwise half-cost stamina
//   - passive: free
//   - item: explicit costs kept as-is
//
// Precondition: a must not be nil.
// Postcondition: The returned ability has PowerCost >= 1 and the documented
// resource split; a itself is not mutated.
func WithCalculatedCost(a *Ability) *Ability {
	out := *a
	out.Effects = append([]Effect(nil), a.Effects...)
	out.PowerCost = PowerCost(a)

	switch a.Type {
	case AbilitySpell:
		out.ManaCost = out.PowerCost
		out.StaminaCost = 0
	case AbilityCombat:
		out.ManaCost = 0
		out.StaminaCost = out.PowerCost
	case AbilityUtility:
		if a.ManaCost == 0 && a.StaminaCost == 0 {
			out.ManaCost = 0
			out.StaminaCost = (out.PowerCost + 1) / 2
		}
	case AbilityPassive:
		out.ManaCost = 0
		out.StaminaCost = 0
	case AbilityItem:
		// explicit values kept as-is
	}
	return &out
}
