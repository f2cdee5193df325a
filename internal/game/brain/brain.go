package brain

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/duskmire/engine/internal/game/combat"
	"github.com/duskmire/engine/internal/game/content"
)

// chooseHook is the Lua global a brain script must define:
//
//	function choose_action(self, enemies, allies) -> { ability = id, target = id }
const chooseHook = "choose_action"

// Brain picks one action per creature per round. Creature templates with a
// loaded script are asked via their Lua hook; everything else, including a
// script that errors or returns an invalid choice, falls back to the
// deterministic built-in policy.
//
// Brain is safe for concurrent use; Lua states are single-threaded, so the
// lock serialises decisions.
type Brain struct {
	mu        sync.Mutex
	states    map[string]*lua.LState
	provider  content.Provider
	logger    *zap.Logger
	instLimit int
}

// New creates a Brain with no scripts loaded.
//
// Precondition: provider and logger must be non-nil.
func New(provider content.Provider, logger *zap.Logger, instLimit int) *Brain {
	return &Brain{
		states:    make(map[string]*lua.LState),
		provider:  provider,
		logger:    logger,
		instLimit: instLimit,
	}
}

// LoadScript executes the Lua file at path in a fresh sandboxed state and
// registers it for templateID. Loading again replaces the previous state.
//
// Precondition: templateID must be non-empty; path must be a readable Lua file.
func (b *Brain) LoadScript(templateID, path string) error {
	if templateID == "" {
		return fmt.Errorf("brain: template id must not be empty")
	}
	L := newSandboxedState()
	cancel := armLimit(L, b.instLimit)
	err := L.DoFile(path)
	cancel()
	if err != nil {
		L.Close()
		return fmt.Errorf("brain: loading %q for %q: %w", path, templateID, err)
	}

	b.mu.Lock()
	if old, ok := b.states[templateID]; ok {
		old.Close()
	}
	b.states[templateID] = L
	b.mu.Unlock()
	return nil
}

// Close releases all Lua states.
func (b *Brain) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, L := range b.states {
		L.Close()
		delete(b.states, id)
	}
}

// Choose returns the action actor will take this round. The scripted hook is
// consulted first; its choice is validated against the actor's abilities and
// resources before being trusted.
//
// Precondition: actor must be a creature in s that can act.
// Postcondition: The returned action is always submittable (a valid ability
// with a legal target, or pass).
func (b *Brain) Choose(s *combat.Session, actor *combat.Combatant) combat.Action {
	if a, ok := b.scripted(s, actor); ok {
		return a
	}
	return b.fallback(s, actor)
}

// scripted runs the template's choose_action hook and validates the result.
func (b *Brain) scripted(s *combat.Session, actor *combat.Combatant) (combat.Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	L, ok := b.states[actor.TemplateID]
	if !ok {
		return combat.Action{}, false
	}
	fn := L.GetGlobal(chooseHook)
	if fn == lua.LNil {
		return combat.Action{}, false
	}

	cancel := armLimit(L, b.instLimit)
	defer cancel()

	err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, combatantTable(L, actor, s.CurrentRound), sideTable(L, s, actor, false), sideTable(L, s, actor, true))
	if err != nil {
		b.logger.Warn("brain: Lua runtime error",
			zap.String("template", actor.TemplateID),
			zap.String("actor", actor.ID),
			zap.Error(err),
		)
		return combat.Action{}, false
	}

	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return combat.Action{}, false
	}

	action := combat.Action{
		ActorID:   actor.ID,
		AbilityID: lua.LVAsString(tbl.RawGetString("ability")),
		TargetID:  lua.LVAsString(tbl.RawGetString("target")),
	}
	if !b.valid(s, actor, action) {
		b.logger.Warn("brain: script returned invalid action",
			zap.String("template", actor.TemplateID),
			zap.String("ability", action.AbilityID),
			zap.String("target", action.TargetID),
		)
		return combat.Action{}, false
	}
	return action, true
}

// valid checks a scripted choice the same way the resolver will, so a bad
// script degrades to the fallback instead of burning the creature's round.
func (b *Brain) valid(s *combat.Session, actor *combat.Combatant, a combat.Action) bool {
	if a.Reserved() {
		return true
	}
	if a.AbilityID == "" || !actor.Knows(a.AbilityID) {
		return false
	}
	ability, err := b.provider.Ability(a.AbilityID)
	if err != nil {
		return false
	}
	if until, ok := actor.Cooldowns[ability.ID]; ok && s.CurrentRound < until {
		return false
	}
	if !actor.CanAfford(ability.ManaCost, ability.StaminaCost) {
		return false
	}
	if ability.RequiresTarget() {
		target := s.Combatant(a.TargetID)
		if target == nil || !target.CanAct() {
			return false
		}
	}
	return true
}

// fallback is the built-in policy: the first known, affordable, off-cooldown
// offensive ability against the first player who can still act; pass when
// nothing applies.
func (b *Brain) fallback(s *combat.Session, actor *combat.Combatant) combat.Action {
	var target *combat.Combatant
	for _, p := range s.Players() {
		if p.CanAct() {
			target = p
			break
		}
	}
	if target == nil {
		return combat.Action{ActorID: actor.ID, AbilityID: combat.ActionPass}
	}

	for _, id := range actor.AbilityIDs {
		ability, err := b.provider.Ability(id)
		if err != nil {
			continue
		}
		if !ability.Offensive() {
			continue
		}
		if until, ok := actor.Cooldowns[id]; ok && s.CurrentRound < until {
			continue
		}
		if !actor.CanAfford(ability.ManaCost, ability.StaminaCost) {
			continue
		}
		a := combat.Action{ActorID: actor.ID, AbilityID: id}
		if ability.RequiresTarget() {
			a.TargetID = target.ID
		}
		return a
	}
	return combat.Action{ActorID: actor.ID, AbilityID: combat.ActionPass}
}

// combatantTable converts one combatant to the Lua view passed to hooks.
func combatantTable(L *lua.LState, c *combat.Combatant, round int) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(c.ID))
	t.RawSetString("name", lua.LString(c.Name))
	t.RawSetString("hp", lua.LNumber(c.CurrentHP))
	t.RawSetString("max_hp", lua.LNumber(c.MaxHP))
	t.RawSetString("mana", lua.LNumber(c.CurrentMana))
	t.RawSetString("stamina", lua.LNumber(c.CurrentStamina))
	t.RawSetString("round", lua.LNumber(round))
	abilities := L.NewTable()
	for i, id := range c.AbilityIDs {
		abilities.RawSetInt(i+1, lua.LString(id))
	}
	t.RawSetString("abilities", abilities)
	return t
}

// sideTable lists the acting members of one side relative to actor.
func sideTable(L *lua.LState, s *combat.Session, actor *combat.Combatant, allies bool) *lua.LTable {
	t := L.NewTable()
	i := 0
	for _, c := range s.Combatants {
		if !c.CanAct() || c.ID == actor.ID {
			continue
		}
		if (c.Kind == actor.Kind) != allies {
			continue
		}
		i++
		t.RawSetInt(i, combatantTable(L, c, s.CurrentRound))
	}
	return t
}
