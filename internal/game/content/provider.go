package content

import (
	"errors"
	"fmt"
)

// ErrAbilityNotFound is returned when an ability lookup yields no definition.
var ErrAbilityNotFound = errors.New("ability not found")

// ErrCreatureNotFound is returned when a creature lookup yields no template.
var ErrCreatureNotFound = errors.New("creature template not found")

// Provider is the read-only content lookup the combat engine depends on.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Ability returns the definition for id, or ErrAbilityNotFound.
	Ability(id string) (*Ability, error)
	// Creature returns the template for id, or ErrCreatureNotFound.
	Creature(id string) (*CreatureTemplate, error)
}

// Library is the in-memory, YAML-backed Provider implementation. It is
// immutable after construction and therefore safe for concurrent use.
type Library struct {
	abilities map[string]*Ability
	creatures map[string]*CreatureTemplate
}

// NewLibrary builds a Library from pre-parsed definitions.
//
// Precondition: ability and creature IDs must be unique.
// Postcondition: Returns a non-nil Library, or an error on duplicate IDs or
// on a creature referencing an unknown ability.
func NewLibrary(abilities []*Ability, creatures []*CreatureTemplate) (*Library, error) {
	lib := &Library{
		abilities: make(map[string]*Ability, len(abilities)),
		creatures: make(map[string]*CreatureTemplate, len(creatures)),
	}
	for _, ab := range abilities {
		if _, dup := lib.abilities[ab.ID]; dup {
			return nil, fmt.Errorf("duplicate ability id %q", ab.ID)
		}
		lib.abilities[ab.ID] = ab
	}
	for _, ct := range creatures {
		if _, dup := lib.creatures[ct.ID]; dup {
			return nil, fmt.Errorf("duplicate creature id %q", ct.ID)
		}
		for _, abilityID := range ct.AbilityIDs {
			if _, ok := lib.abilities[abilityID]; !ok {
				return nil, fmt.Errorf("creature %q references unknown ability %q", ct.ID, abilityID)
			}
		}
		lib.creatures[ct.ID] = ct
	}
	return lib, nil
}

// LoadLibrary reads ability and creature YAML directories into a Library.
//
// Precondition: both directories must be readable.
// Postcondition: Returns a fully cross-validated Library or a non-nil error.
func LoadLibrary(abilityDir, creatureDir string) (*Library, error) {
	abilities, err := LoadAbilities(abilityDir)
	if err != nil {
		return nil, fmt.Errorf("loading abilities: %w", err)
	}
	creatures, err := LoadCreatures(creatureDir)
	if err != nil {
		return nil, fmt.Errorf("loading creatures: %w", err)
	}
	return NewLibrary(abilities, creatures)
}

// Ability returns the definition for id.
//
// Postcondition: Returns the Ability or ErrAbilityNotFound.
func (l *Library) Ability(id string) (*Ability, error) {
	ab, ok := l.abilities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAbilityNotFound, id)
	}
	return ab, nil
}

// Creature returns the template for id.
//
// Postcondition: Returns the CreatureTemplate or ErrCreatureNotFound.
func (l *Library) Creature(id string) (*CreatureTemplate, error) {
	ct, ok := l.creatures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCreatureNotFound, id)
	}
	return ct, nil
}

// AbilityCount returns the number of loaded abilities.
func (l *Library) AbilityCount() int { return len(l.abilities) }

// CreatureCount returns the number of loaded creature templates.
func (l *Library) CreatureCount() int { return len(l.creatures) }
