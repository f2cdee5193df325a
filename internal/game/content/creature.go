package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StatBlock holds the combat statistics shared by creatures and players.
type StatBlock struct {
	MaxHP      int `yaml:"max_hp" json:"maxHp"`
	MaxMana    int `yaml:"max_mana" json:"maxMana"`
	MaxStamina int `yaml:"max_stamina" json:"maxStamina"`
	Accuracy   int `yaml:"accuracy" json:"accuracy"`
	Evasion    int `yaml:"evasion" json:"evasion"`
	BaseDamage int `yaml:"base_damage" json:"baseDamage"`
	CritBonus  int `yaml:"crit_bonus" json:"critBonus"`
	Level      int `yaml:"level" json:"level"`
}

// Validate checks the stat block's basic invariants.
//
// Postcondition: Returns nil iff MaxHP >= 1, Level >= 1, and no stat is negative.
func (s StatBlock) Validate() error {
	if s.MaxHP < 1 {
		return fmt.Errorf("stat block: max_hp must be >= 1, got %d", s.MaxHP)
	}
	if s.Level < 1 {
		return fmt.Errorf("stat block: level must be >= 1, got %d", s.Level)
	}
	if s.MaxMana < 0 || s.MaxStamina < 0 || s.Accuracy < 0 || s.Evasion < 0 || s.BaseDamage < 0 || s.CritBonus < 0 {
		return fmt.Errorf("stat block: stats must not be negative")
	}
	return nil
}

// CreatureTemplate defines a reusable creature archetype loaded from YAML.
type CreatureTemplate struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Stats       StatBlock `yaml:"stats"`
	// AbilityIDs lists the abilities this creature may use in combat.
	AbilityIDs []string `yaml:"ability_ids"`
	// BrainScript is the Lua script path (relative to the script root) that
	// selects this creature's round actions. Empty = attack-first fallback.
	BrainScript string `yaml:"brain_script"`
	// Aggressive creatures start combat on sight.
	Aggressive bool `yaml:"aggressive"`
}

// Validate checks that the template satisfies basic invariants.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff ID and Name are non-empty and the stat block
// validates.
func (t *CreatureTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("creature template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("creature template %q: name must not be empty", t.ID)
	}
	if err := t.Stats.Validate(); err != nil {
		return fmt.Errorf("creature template %q: %w", t.ID, err)
	}
	return nil
}

// PlayerSheet is the user-side stat block the engine consumes when a player
// joins a session. It is sourced from the character store and synced back on
// session end.
type PlayerSheet struct {
	CharacterID    int64
	Name           string
	LocationID     string
	Stats          StatBlock
	CurrentHP      int
	CurrentMana    int
	CurrentStamina int
	// LearnedAbilityIDs lists the abilities the player may submit.
	LearnedAbilityIDs []string
}

// LoadCreatureFromBytes parses a single creature template from raw YAML bytes.
//
// Precondition: data must be valid YAML for a single CreatureTemplate.
// Postcondition: Returns a validated *CreatureTemplate, or an error.
func LoadCreatureFromBytes(data []byte) (*CreatureTemplate, error) {
	var tmpl CreatureTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing creature YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadCreatures reads all *.yaml files in dir and returns the parsed templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or
// validate failure; on error, the partial result is discarded.
func LoadCreatures(dir string) ([]*CreatureTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading creature dir %q: %w", dir, err)
	}

	var templates []*CreatureTemplate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		tmpl, err := LoadCreatureFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

// LoadAbilityFromBytes parses a single ability from raw YAML bytes and applies
// the calculated resource cost.
//
// Precondition: data must be valid YAML for a single Ability.
// Postcondition: Returns a validated *Ability with PowerCost and the
// mana/stamina split populated, or an error.
func LoadAbilityFromBytes(data []byte) (*Ability, error) {
	var ab Ability
	if err := yaml.Unmarshal(data, &ab); err != nil {
		return nil, fmt.Errorf("parsing ability YAML: %w", err)
	}
	if err := ab.Validate(); err != nil {
		return nil, err
	}
	return WithCalculatedCost(&ab), nil
}

// LoadAbilities reads all *.yaml files in dir and returns the parsed,
// cost-calculated abilities.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all abilities or an error on the first parse or
// validate failure; on error, the partial result is discarded.
func LoadAbilities(dir string) ([]*Ability, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading ability dir %q: %w", dir, err)
	}

	var abilities []*Ability
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		ab, err := LoadAbilityFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		abilities = append(abilities, ab)
	}
	return abilities, nil
}
