package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskmire/engine/internal/storage/postgres"
	"github.com/duskmire/engine/internal/testutil"
)

func insertTestCharacter(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO characters
			(name, location_id, level, max_hp, max_mana, max_stamina,
			 accuracy, evasion, base_damage, crit_bonus,
			 current_hp, current_mana, current_stamina, ability_ids)
		VALUES ('Zara', 'grinders_row', 3, 30, 20, 20, 5, 2, 3, 4, 30, 20, 20,
		        ARRAY['strike','firebolt'])
		RETURNING id`).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestCharacterRepositoryGetByID(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewCharacterRepository(pool)
	id := insertTestCharacter(t, pool)

	sheet, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, sheet.CharacterID)
	assert.Equal(t, "Zara", sheet.Name)
	assert.Equal(t, "grinders_row", sheet.LocationID)
	assert.Equal(t, 3, sheet.Stats.Level)
	assert.Equal(t, 30, sheet.Stats.MaxHP)
	assert.Equal(t, 5, sheet.Stats.Accuracy)
	assert.Equal(t, []string{"strike", "firebolt"}, sheet.LearnedAbilityIDs)
}

func TestCharacterRepositoryGetByIDNotFound(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))

	_, err := repo.GetByID(context.Background(), 99999)
	require.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}

func TestCharacterRepositorySaveCombatState(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewCharacterRepository(pool)
	id := insertTestCharacter(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.SaveCombatState(ctx, id, 11, 4, 9))

	sheet, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 11, sheet.CurrentHP)
	assert.Equal(t, 4, sheet.CurrentMana)
	assert.Equal(t, 9, sheet.CurrentStamina)
}

func TestCharacterRepositorySaveCombatStateNotFound(t *testing.T) {
	repo := postgres.NewCharacterRepository(testutil.NewPool(t))

	err := repo.SaveCombatState(context.Background(), 99999, 1, 1, 1)
	require.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}
