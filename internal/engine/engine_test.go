package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskmire/engine/internal/config"
	"github.com/duskmire/engine/internal/game/brain"
	"github.com/duskmire/engine/internal/game/combat"
	"github.com/duskmire/engine/internal/game/content"
)

// memStore is an in-memory SessionStore for engine tests.
type memStore struct {
	mu    sync.Mutex
	byID  map[string]*combat.Session
	byLoc map[string]string
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*combat.Session), byLoc: make(map[string]string)}
}

func (m *memStore) Save(_ context.Context, sess *combat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[sess.ID] = sess
	if sess.State == combat.StateEnded {
		delete(m.byLoc, sess.LocationID)
	} else {
		m.byLoc[sess.LocationID] = sess.ID
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*combat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

func (m *memStore) GetByLocation(_ context.Context, locationID string) (*combat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byLoc[locationID]
	if !ok {
		return nil, ErrNoSession
	}
	return m.byID[id], nil
}

func (m *memStore) Delete(_ context.Context, id, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	delete(m.byLoc, locationID)
	return nil
}

func (m *memStore) round(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return 0
	}
	return sess.CurrentRound
}

func (m *memStore) state(id string) combat.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return ""
	}
	return sess.State
}

// gatedStore blocks its first Save until released and records the round
// number of every completed save.
type gatedStore struct {
	*memStore
	release chan struct{}
	gateMu  sync.Mutex
	gated   bool
	saved   []int
}

func newGatedStore() *gatedStore {
	return &gatedStore{memStore: newMemStore(), release: make(chan struct{})}
}

func (g *gatedStore) Save(ctx context.Context, sess *combat.Session) error {
	g.gateMu.Lock()
	first := !g.gated
	g.gated = true
	g.gateMu.Unlock()
	if first {
		<-g.release
	}
	if err := g.memStore.Save(ctx, sess); err != nil {
		return err
	}
	g.gateMu.Lock()
	g.saved = append(g.saved, sess.CurrentRound)
	g.gateMu.Unlock()
	return nil
}

func (g *gatedStore) savedRounds() []int {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	return append([]int(nil), g.saved...)
}

// memSink records appended events.
type memSink struct {
	mu     sync.Mutex
	events []combat.Event
}

func (m *memSink) Append(_ context.Context, events []combat.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memSink) roundsOf(t combat.EventType) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e.RoundNumber)
		}
	}
	return out
}

func (m *memSink) types() []combat.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]combat.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func engineLibrary(t *testing.T) content.Provider {
	t.Helper()
	lib, err := content.NewLibrary([]*content.Ability{
		{
			ID: "strike", Name: "Strike", Type: content.AbilityCombat,
			Target: content.TargetSingleEnemy, Cooldown: content.CooldownNone,
			BaseDamage: 5, StaminaCost: 2,
		},
	}, nil)
	require.NoError(t, err)
	return lib
}

// engineConfig keeps deadlines far away so tests drive resolution
// explicitly; deadline tests shorten the windows they exercise.
func engineConfig() config.CombatConfig {
	return config.CombatConfig{
		RoundDurationMs:      60_000,
		MaxRoundDurationMs:   120_000,
		FleeSuccessChance:    1.0,
		FleeCooldownRounds:   1,
		MaxCombatRounds:      50,
		SessionTimeoutMs:     60_000,
		ManaRegenPerRound:    5,
		StaminaRegenPerRound: 10,
	}
}

func enginePlayer(id string) *combat.Combatant {
	return &combat.Combatant{
		ID: id, Name: "Hero " + id, Kind: combat.KindPlayer, LocationID: "crossroads",
		CharacterID:    7,
		CurrentHP:      40, MaxHP: 40,
		CurrentStamina: 20, MaxStamina: 20,
		Accuracy: 12, Evasion: 2, BaseDamage: 3, Alive: true,
		AbilityIDs: []string{"strike"},
	}
}

func engineCreature(id string) *combat.Combatant {
	return &combat.Combatant{
		ID: id, Name: "Gnarl " + id, Kind: combat.KindCreature, LocationID: "crossroads",
		TemplateID:     "gnarl",
		CurrentHP:      20, MaxHP: 20,
		CurrentStamina: 20, MaxStamina: 20,
		Accuracy: 1, Evasion: 1, BaseDamage: 1, Alive: true,
		AbilityIDs: []string{"strike"},
	}
}

type engineFixture struct {
	engine *Engine
	store  *memStore
	sink   *memSink
}

func newEngineFixture(t *testing.T, cfg config.CombatConfig) *engineFixture {
	t.Helper()
	provider := engineLibrary(t)
	store := newMemStore()
	sink := &memSink{}
	eng, err := New(Options{
		Config:   cfg,
		Provider: provider,
		Brain:    brain.New(provider, zap.NewNop(), 0),
		Store:    store,
		Events:   sink,
		Source:   combat.NewSeededSource(7),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return &engineFixture{engine: eng, store: store, sink: sink}
}

func TestStartSessionActivatesWithBothSides(t *testing.T) {
	f := newEngineFixture(t, engineConfig())

	sess, err := f.engine.StartSession(context.Background(),
		"crossroads", []*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	assert.Equal(t, combat.StateActive, sess.State)
	assert.Equal(t, 1, sess.CurrentRound)

	got, ok := f.engine.Session("crossroads")
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)
}

func TestStartSessionOnePerLocation(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	_, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	_, err = f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p2"), engineCreature("c2")})
	require.ErrorIs(t, err, ErrLocationBusy)
}

func TestStartSessionWaitsForHostiles(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1")})
	require.NoError(t, err)
	assert.Equal(t, combat.StateWaiting, sess.State)

	require.NoError(t, f.engine.Join(ctx, "crossroads", engineCreature("c1")))
	assert.Equal(t, combat.StateActive, sess.State)
	assert.Equal(t, 1, sess.CurrentRound)
}

func TestSubmitResolvesEarlyWhenAllIn(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	// The creature queues its own action at round start; the player's
	// submission completes the round.
	err = f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, sess.CurrentRound, "round resolved on final submission")
}

func TestSubmitRejectsClosedRound(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	_, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	err = f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}, 99)
	require.ErrorIs(t, err, ErrRoundClosed)
}

func TestSubmitWithoutSession(t *testing.T) {
	f := newEngineFixture(t, engineConfig())

	err := f.engine.SubmitAction(context.Background(), "nowhere",
		combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}, 0)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSoftDeadlineResolvesWhenSomePlayersActed(t *testing.T) {
	cfg := engineConfig()
	cfg.RoundDurationMs = 40
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), enginePlayer("p2"), engineCreature("c1")})
	require.NoError(t, err)

	// One player acts, the other never does; the soft deadline resolves
	// with an implicit pass for the straggler.
	err = f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return sess.CurrentRound >= 2 || sess.State == combat.StateEnded
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRoundHeldForSlowClientsPastSoftDeadline(t *testing.T) {
	cfg := engineConfig()
	cfg.RoundDurationMs = 40
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), enginePlayer("p2"), engineCreature("c1")})
	require.NoError(t, err)

	// No player action by the soft deadline: the window closes but the
	// round stays open for the hard ceiling.
	time.Sleep(200 * time.Millisecond)
	f.engine.mu.Lock()
	round := sess.CurrentRound
	f.engine.mu.Unlock()
	assert.Equal(t, 1, round, "round waits for the hard ceiling")

	// The first late submission resolves immediately.
	err = f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 1)
	require.NoError(t, err)

	f.engine.mu.Lock()
	round = sess.CurrentRound
	f.engine.mu.Unlock()
	assert.Equal(t, 2, round, "late submission closes the round")
}

func TestHardCeilingResolvesWithImplicitPasses(t *testing.T) {
	cfg := engineConfig()
	cfg.RoundDurationMs = 40
	cfg.MaxRoundDurationMs = 200
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	// The player never submits; the hard ceiling forces the round.
	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return sess.CurrentRound >= 2 || sess.State == combat.StateEnded
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTerminateEndsAndFreesLocation(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	require.NoError(t, f.engine.Terminate(ctx, "crossroads", combat.EndTerminated))

	assert.Equal(t, combat.StateEnded, sess.State)
	assert.Equal(t, combat.EndTerminated, sess.EndReason)
	_, ok := f.engine.Session("crossroads")
	assert.False(t, ok, "location is free again")

	require.Eventually(t, func() bool {
		return f.store.state(sess.ID) == combat.StateEnded
	}, 2*time.Second, 10*time.Millisecond, "final snapshot persisted")
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	cfg := engineConfig()
	cfg.SessionTimeoutMs = 50
	f := newEngineFixture(t, cfg)

	sess, err := f.engine.StartSession(context.Background(), "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return sess.State == combat.StateEnded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, combat.EndSessionTimeout, sess.EndReason)
}

func TestResumeRestoresSnapshot(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.store.state(sess.ID) == combat.StateActive
	}, 2*time.Second, 10*time.Millisecond)

	// A second engine sharing the store stands in for a restarted process.
	restarted, err := New(Options{
		Config:   engineConfig(),
		Provider: engineLibrary(t),
		Store:    f.store,
		Source:   combat.NewSeededSource(7),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(restarted.Close)

	resumed, err := restarted.Resume(ctx, "crossroads")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resumed.ID)
	assert.Equal(t, combat.StateActive, resumed.State)

	err = restarted.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}, 0)
	require.NoError(t, err)
}

func TestResumeWithoutSnapshot(t *testing.T) {
	f := newEngineFixture(t, engineConfig())

	_, err := f.engine.Resume(context.Background(), "nowhere")
	require.Error(t, err)
}

func TestEventsReachTheSink(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	_, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	err = f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		types := f.sink.types()
		var hasStart, hasAbility bool
		for _, tt := range types {
			if tt == combat.EventSessionStart {
				hasStart = true
			}
			if tt == combat.EventAbility {
				hasAbility = true
			}
		}
		return hasStart && hasAbility
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierReceivesEvents(t *testing.T) {
	notified := make(chan []combat.Event, 16)
	provider := engineLibrary(t)
	eng, err := New(Options{
		Config:   engineConfig(),
		Provider: provider,
		Source:   combat.NewSeededSource(7),
		Logger:   zap.NewNop(),
		Notify: func(locationID string, events []combat.Event) {
			notified <- events
		},
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	_, err = eng.StartSession(context.Background(), "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	select {
	case events := <-notified:
		require.NotEmpty(t, events)
		assert.Equal(t, combat.EventSessionStart, events[0].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never called")
	}
}

func TestSlowSaveCannotOverwriteNewerSnapshot(t *testing.T) {
	store := newGatedStore()
	provider := engineLibrary(t)
	eng, err := New(Options{
		Config:   engineConfig(),
		Provider: provider,
		Brain:    brain.New(provider, zap.NewNop(), 0),
		Store:    store,
		Source:   combat.NewSeededSource(7),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	// The round-1 snapshot write is stalled while round 1 resolves in
	// memory; once released, writes must still land oldest first and the
	// store must end up on the newest round.
	err = eng.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 1)
	require.NoError(t, err)

	eng.mu.Lock()
	round := sess.CurrentRound
	eng.mu.Unlock()
	require.Equal(t, 2, round)

	close(store.release)

	require.Eventually(t, func() bool {
		return store.round(sess.ID) == 2
	}, 2*time.Second, 10*time.Millisecond, "latest snapshot wins")
	assert.IsNonDecreasing(t, store.savedRounds(), "saves applied in mutation order")
}

func TestConcurrentDuplicateSubmissionsKeepOneAction(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), enginePlayer("p2"), engineCreature("c1")})
	require.NoError(t, err)

	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		a := combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}
		if i%2 == 1 {
			a = combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}
		}
		wg.Add(1)
		go func(a combat.Action) {
			defer wg.Done()
			errs <- f.engine.SubmitAction(ctx, "crossroads", a, 1)
		}(a)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	require.Equal(t, 1, sess.CurrentRound, "p2 never submitted, round still open")
	got, ok := sess.Pending["p1"]
	require.True(t, ok)
	assert.Contains(t, []string{"strike", combat.ActionPass}, got.AbilityID,
		"exactly one of the submitted actions survives")
	assert.Len(t, sess.Pending, 2, "one pending entry for p1, one for the creature")
}

func TestResumeContinuesEventLogWithoutGaps(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), engineCreature("c1")})
	require.NoError(t, err)

	require.NoError(t, f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}, 1))
	require.Eventually(t, func() bool {
		return f.store.round(sess.ID) == 2 &&
			len(f.sink.roundsOf(combat.EventRoundEnd)) == 1
	}, 2*time.Second, 10*time.Millisecond, "round 1 fully flushed")
	f.engine.Close()

	provider := engineLibrary(t)
	restarted, err := New(Options{
		Config:   engineConfig(),
		Provider: provider,
		Brain:    brain.New(provider, zap.NewNop(), 0),
		Store:    f.store,
		Events:   f.sink,
		Source:   combat.NewSeededSource(7),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(restarted.Close)

	resumed, err := restarted.Resume(ctx, "crossroads")
	require.NoError(t, err)
	require.Equal(t, 2, resumed.CurrentRound)

	require.NoError(t, restarted.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: combat.ActionPass}, 2))

	// The log written across both processes is one contiguous history:
	// every round ends exactly once, in order.
	require.Eventually(t, func() bool {
		return len(f.sink.roundsOf(combat.EventRoundEnd)) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1, 2}, f.sink.roundsOf(combat.EventRoundEnd))
}

func TestCreatureJoiningMidRoundSubmits(t *testing.T) {
	f := newEngineFixture(t, engineConfig())
	ctx := context.Background()

	sess, err := f.engine.StartSession(ctx, "crossroads",
		[]*combat.Combatant{enginePlayer("p1"), enginePlayer("p2"), engineCreature("c1")})
	require.NoError(t, err)

	require.NoError(t, f.engine.Join(ctx, "crossroads", engineCreature("c2")))

	f.engine.mu.Lock()
	_, pending := sess.Pending["c2"]
	f.engine.mu.Unlock()
	require.True(t, pending, "joining creature picks an action at once")

	// With the joiner already in, the players' submissions complete the round.
	require.NoError(t, f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p1", AbilityID: "strike", TargetID: "c1"}, 1))
	require.NoError(t, f.engine.SubmitAction(ctx, "crossroads",
		combat.Action{ActorID: "p2", AbilityID: combat.ActionPass}, 1))

	f.engine.mu.Lock()
	round := sess.CurrentRound
	f.engine.mu.Unlock()
	assert.Equal(t, 2, round, "round resolved early")
}
