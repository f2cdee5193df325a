package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskmire/engine/internal/game/combat"
)

// EventLogRepository is the append-only durable record of everything that
// happened in combat. Rows are written once and never updated; gameplay never
// reads them back, only audit and analytics queries do.
type EventLogRepository struct {
	db *pgxpool.Pool
}

// NewEventLogRepository creates an EventLogRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEventLogRepository(db *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{db: db}
}

const insertEventSQL = `
	INSERT INTO combat_events
		(id, session_id, location_id, location_name, event_type, round_number,
		 message, actor_snapshot, target_snapshot, all_combatants, event_data, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

const selectEventSQL = `
	SELECT id, session_id, location_id, location_name, event_type, round_number,
	       message, actor_snapshot, target_snapshot, all_combatants, event_data, created_at
	FROM combat_events`

// Append writes a batch of events in one round trip.
//
// Precondition: every event must carry a non-empty ID and SessionID.
// Postcondition: Either all events are inserted or an error is returned; the
// batch runs in a single implicit transaction.
func (r *EventLogRepository) Append(ctx context.Context, events []combat.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		actor, err := marshalNullable(e.ActorSnapshot)
		if err != nil {
			return fmt.Errorf("marshaling actor snapshot for event %s: %w", e.ID, err)
		}
		target, err := marshalNullable(e.TargetSnapshot)
		if err != nil {
			return fmt.Errorf("marshaling target snapshot for event %s: %w", e.ID, err)
		}
		all, err := marshalNullable(e.AllCombatants)
		if err != nil {
			return fmt.Errorf("marshaling roster snapshot for event %s: %w", e.ID, err)
		}
		data, err := marshalNullable(e.Data)
		if err != nil {
			return fmt.Errorf("marshaling event data for event %s: %w", e.ID, err)
		}
		batch.Queue(insertEventSQL,
			e.ID, e.SessionID, e.LocationID, e.LocationName, string(e.Type), e.RoundNumber,
			e.Message, actor, target, all, data, e.Timestamp,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("appending combat events: %w", err)
		}
	}
	return nil
}

// BySession returns a session's events in chronological order.
func (r *EventLogRepository) BySession(ctx context.Context, sessionID string) ([]combat.Event, error) {
	return r.query(ctx, selectEventSQL+` WHERE session_id = $1 ORDER BY created_at ASC, round_number ASC`, sessionID)
}

// ByLocation returns the most recent events at a location, newest first.
//
// Precondition: limit must be > 0.
func (r *EventLogRepository) ByLocation(ctx context.Context, locationID string, limit int) ([]combat.Event, error) {
	return r.query(ctx, selectEventSQL+` WHERE location_id = $1 ORDER BY created_at DESC LIMIT $2`, locationID, limit)
}

// ByType returns a session's events of one type in chronological order.
func (r *EventLogRepository) ByType(ctx context.Context, sessionID string, t combat.EventType) ([]combat.Event, error) {
	return r.query(ctx, selectEventSQL+` WHERE session_id = $1 AND event_type = $2 ORDER BY created_at ASC`, sessionID, string(t))
}

// ByParticipant returns events where the named combatant was the actor or
// the target, in chronological order.
func (r *EventLogRepository) ByParticipant(ctx context.Context, sessionID, combatantID string) ([]combat.Event, error) {
	return r.query(ctx, selectEventSQL+`
		WHERE session_id = $1
		  AND (actor_snapshot->>'id' = $2 OR target_snapshot->>'id' = $2)
		ORDER BY created_at ASC`, sessionID, combatantID)
}

// InWindow returns all events recorded in [from, to), oldest first.
func (r *EventLogRepository) InWindow(ctx context.Context, from, to time.Time) ([]combat.Event, error) {
	return r.query(ctx, selectEventSQL+` WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`, from, to)
}

// PurgeOlderThan deletes events recorded before the cutoff and reports how
// many rows were removed. This is the retention job's only write path.
func (r *EventLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM combat_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging combat events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *EventLogRepository) query(ctx context.Context, sql string, args ...any) ([]combat.Event, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying combat events: %w", err)
	}
	defer rows.Close()

	var events []combat.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating combat events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (combat.Event, error) {
	var (
		e                        combat.Event
		eventType                string
		actor, target, all, data []byte
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.LocationID, &e.LocationName, &eventType,
		&e.RoundNumber, &e.Message, &actor, &target, &all, &data, &e.Timestamp)
	if err != nil {
		return combat.Event{}, fmt.Errorf("scanning combat event: %w", err)
	}
	e.Type = combat.EventType(eventType)
	if err := unmarshalNullable(actor, &e.ActorSnapshot); err != nil {
		return combat.Event{}, fmt.Errorf("unmarshaling actor snapshot for event %s: %w", e.ID, err)
	}
	if err := unmarshalNullable(target, &e.TargetSnapshot); err != nil {
		return combat.Event{}, fmt.Errorf("unmarshaling target snapshot for event %s: %w", e.ID, err)
	}
	if err := unmarshalNullable(all, &e.AllCombatants); err != nil {
		return combat.Event{}, fmt.Errorf("unmarshaling roster snapshot for event %s: %w", e.ID, err)
	}
	if err := unmarshalNullable(data, &e.Data); err != nil {
		return combat.Event{}, fmt.Errorf("unmarshaling event data for event %s: %w", e.ID, err)
	}
	return e, nil
}

// marshalNullable converts v to JSONB bytes, mapping empty values to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *combat.Snapshot:
		if val == nil {
			return nil, nil
		}
	case []combat.Snapshot:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
