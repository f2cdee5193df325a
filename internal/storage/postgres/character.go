package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskmire/engine/internal/game/content"
)

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// CharacterRepository loads player sheets for session joins and writes combat
// state back when a session ends.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// GetByID loads the player sheet for one character.
//
// Precondition: id must be > 0.
// Postcondition: Returns the sheet, or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*content.PlayerSheet, error) {
	var sheet content.PlayerSheet
	err := r.db.QueryRow(ctx, `
		SELECT id, name, location_id, level,
		       max_hp, max_mana, max_stamina,
		       accuracy, evasion, base_damage, crit_bonus,
		       current_hp, current_mana, current_stamina,
		       ability_ids
		FROM characters WHERE id = $1`,
		id,
	).Scan(
		&sheet.CharacterID, &sheet.Name, &sheet.LocationID, &sheet.Stats.Level,
		&sheet.Stats.MaxHP, &sheet.Stats.MaxMana, &sheet.Stats.MaxStamina,
		&sheet.Stats.Accuracy, &sheet.Stats.Evasion, &sheet.Stats.BaseDamage, &sheet.Stats.CritBonus,
		&sheet.CurrentHP, &sheet.CurrentMana, &sheet.CurrentStamina,
		&sheet.LearnedAbilityIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("selecting character %d: %w", id, err)
	}
	return &sheet, nil
}

// SaveCombatState writes a character's post-combat resources back to the
// durable row.
//
// Precondition: id must reference an existing character; hp, mana, and
// stamina must be >= 0.
// Postcondition: Returns ErrCharacterNotFound if no row matched.
func (r *CharacterRepository) SaveCombatState(ctx context.Context, id int64, hp, mana, stamina int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE characters
		SET current_hp = $2, current_mana = $3, current_stamina = $4, updated_at = NOW()
		WHERE id = $1`,
		id, hp, mana, stamina,
	)
	if err != nil {
		return fmt.Errorf("updating character %d combat state: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}
