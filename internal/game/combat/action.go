package combat

// Reserved action IDs understood by the resolver without a content lookup.
const (
	// ActionPass forfeits the round; regen and status ticks still apply.
	ActionPass = "pass"
	// ActionFlee attempts to leave the session, subject to the flee chance
	// and cooldown in the session rules.
	ActionFlee = "flee"
)

// Action is one submitted intent: actor uses ability against target this round.
type Action struct {
	ActorID string `json:"actorId"`
	// AbilityID is a content ability ID, or one of the reserved action IDs.
	AbilityID string `json:"abilityId"`
	// TargetID is empty for self, area, and reserved actions.
	TargetID string `json:"targetId,omitempty"`
	// SubmittedAtRound records which round the action was accepted for.
	SubmittedAtRound int `json:"submittedAtRound"`
}

// Reserved reports whether the action uses a reserved ID rather than a
// content ability.
func (a Action) Reserved() bool {
	return a.AbilityID == ActionPass || a.AbilityID == ActionFlee
}
