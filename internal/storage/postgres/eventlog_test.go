package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskmire/engine/internal/game/combat"
	"github.com/duskmire/engine/internal/storage/postgres"
	"github.com/duskmire/engine/internal/testutil"
)

func makeEvent(sessionID string, t combat.EventType, round int, at time.Time) combat.Event {
	return combat.Event{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		LocationID:  "crossroads",
		Type:        t,
		RoundNumber: round,
		Message:     "test event",
		Timestamp:   at,
	}
}

func TestEventLogAppendAndBySession(t *testing.T) {
	repo := postgres.NewEventLogRepository(testutil.NewPool(t))
	ctx := context.Background()
	sessionID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	actorSnap := &combat.Snapshot{ID: "p1", Name: "Hero", CurrentHP: 12, MaxHP: 30}
	events := []combat.Event{
		makeEvent(sessionID, combat.EventRoundStart, 1, base),
		{
			ID: uuid.NewString(), SessionID: sessionID, LocationID: "crossroads",
			Type: combat.EventDamage, RoundNumber: 1, Message: "Hero hits Gnarl for 8 damage.",
			ActorSnapshot: actorSnap,
			Data:          map[string]any{"amount": float64(8), "crit": false},
			Timestamp:     base.Add(time.Second),
		},
		makeEvent(sessionID, combat.EventRoundEnd, 1, base.Add(2*time.Second)),
	}
	require.NoError(t, repo.Append(ctx, events))

	got, err := repo.BySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, combat.EventRoundStart, got[0].Type)
	assert.Equal(t, combat.EventDamage, got[1].Type)
	require.NotNil(t, got[1].ActorSnapshot)
	assert.Equal(t, "p1", got[1].ActorSnapshot.ID)
	assert.Equal(t, float64(8), got[1].Data["amount"])
	assert.Nil(t, got[0].ActorSnapshot)
}

func TestEventLogAppendEmptyIsNoop(t *testing.T) {
	repo := postgres.NewEventLogRepository(testutil.NewPool(t))
	require.NoError(t, repo.Append(context.Background(), nil))
}

func TestEventLogFilters(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewEventLogRepository(pool)
	ctx := context.Background()
	sessionID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	damage := makeEvent(sessionID, combat.EventDamage, 1, base)
	damage.TargetSnapshot = &combat.Snapshot{ID: "c1", Name: "Gnarl"}
	require.NoError(t, repo.Append(ctx, []combat.Event{
		makeEvent(sessionID, combat.EventRoundStart, 1, base),
		damage,
		makeEvent(sessionID, combat.EventRoundEnd, 1, base.Add(time.Second)),
		makeEvent(uuid.NewString(), combat.EventDamage, 1, base),
	}))

	byType, err := repo.ByType(ctx, sessionID, combat.EventDamage)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, damage.ID, byType[0].ID)

	byParticipant, err := repo.ByParticipant(ctx, sessionID, "c1")
	require.NoError(t, err)
	require.Len(t, byParticipant, 1)
	assert.Equal(t, damage.ID, byParticipant[0].ID)

	byLocation, err := repo.ByLocation(ctx, "crossroads", 2)
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	window, err := repo.InWindow(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, window, 4)
}

func TestEventLogPurgeOlderThan(t *testing.T) {
	repo := postgres.NewEventLogRepository(testutil.NewPool(t))
	ctx := context.Background()
	sessionID := uuid.NewString()
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	require.NoError(t, repo.Append(ctx, []combat.Event{
		makeEvent(sessionID, combat.EventSessionStart, 0, old),
		makeEvent(sessionID, combat.EventSessionEnd, 3, fresh),
	}))

	purged, err := repo.PurgeOlderThan(ctx, fresh.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	remaining, err := repo.BySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, combat.EventSessionEnd, remaining[0].Type)
}
