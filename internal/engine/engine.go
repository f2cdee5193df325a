// Package engine coordinates live combat sessions: one battle per location,
// round deadlines, creature decisions, persistence, and event fan-out. All
// session state is mutated under the engine lock; timer callbacks re-enter
// through the same lock, so combat aggregates never see concurrent access.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duskmire/engine/internal/config"
	"github.com/duskmire/engine/internal/game/brain"
	"github.com/duskmire/engine/internal/game/combat"
	"github.com/duskmire/engine/internal/game/content"
)

// ErrLocationBusy is returned when a location already hosts a live session.
var ErrLocationBusy = errors.New("location already has an active combat session")

// ErrNoSession is returned when no live session exists for the location.
var ErrNoSession = errors.New("no combat session at this location")

// ErrRoundClosed is returned when a submission targets a round that has
// already resolved.
var ErrRoundClosed = errors.New("round already resolved")

// SessionStore persists session snapshots between rounds.
type SessionStore interface {
	Save(ctx context.Context, sess *combat.Session) error
	Get(ctx context.Context, id string) (*combat.Session, error)
	GetByLocation(ctx context.Context, locationID string) (*combat.Session, error)
	Delete(ctx context.Context, id, locationID string) error
}

// EventSink receives the append-only audit records.
type EventSink interface {
	Append(ctx context.Context, events []combat.Event) error
}

// CharacterStore writes player combat state back on session end.
type CharacterStore interface {
	SaveCombatState(ctx context.Context, id int64, hp, mana, stamina int) error
}

// Notifier delivers a session's new events to whoever is watching the
// location. It is called outside the engine lock and must not block for long.
type Notifier func(locationID string, events []combat.Event)

// Options wires an Engine's collaborators. Provider and Logger are required;
// a nil Store keeps sessions memory-only, a nil Events sink drops the audit
// trail, a nil Characters store skips the post-combat sync, and a nil Source
// defaults to crypto randomness.
type Options struct {
	Config     config.CombatConfig
	Provider   content.Provider
	Brain      *brain.Brain
	Store      SessionStore
	Events     EventSink
	Characters CharacterStore
	Source     combat.Source
	Logger     *zap.Logger
	Notify     Notifier
}

// sessionTimers bundles the three deadlines attached to one live session.
type sessionTimers struct {
	// soft fires at the round duration. It resolves with implicit passes
	// when at least one player has acted; with no player action it only
	// closes the submission window and leaves the round to the hard
	// ceiling, tolerating slow clients.
	soft *deadlineTimer
	// hard fires at the max round duration and always resolves, so a
	// round can never outlive the ceiling.
	hard *deadlineTimer
	// idle fires at the session timeout and force-ends a stalled session.
	idle *deadlineTimer
	// softLapsedRound is the round whose soft deadline passed with no
	// player action. A submission for that round resolves immediately.
	softLapsedRound int
}

func (st *sessionTimers) stopRound() {
	if st.soft != nil {
		st.soft.Stop()
	}
	if st.hard != nil {
		st.hard.Stop()
	}
}

func (st *sessionTimers) stopAll() {
	st.stopRound()
	if st.idle != nil {
		st.idle.Stop()
	}
}

// Engine owns every live combat session in the process.
type Engine struct {
	mu         sync.Mutex
	byLocation map[string]*combat.Session
	timers     map[string]*sessionTimers // keyed by session ID
	writers    map[string]*sessionWriter // keyed by session ID

	cfg        config.CombatConfig
	rules      combat.Rules
	provider   content.Provider
	brains     *brain.Brain
	store      SessionStore
	events     EventSink
	characters CharacterStore
	src        combat.Source
	logger     *zap.Logger
	notify     Notifier
}

// New creates an Engine.
//
// Precondition: opts.Provider and opts.Logger must be non-nil.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("engine: content provider is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("engine: logger is required")
	}
	src := opts.Source
	if src == nil {
		src = combat.NewCryptoSource()
	}
	return &Engine{
		byLocation: make(map[string]*combat.Session),
		timers:     make(map[string]*sessionTimers),
		writers:    make(map[string]*sessionWriter),
		cfg:        opts.Config,
		rules: combat.Rules{
			FleeSuccessChance:    opts.Config.FleeSuccessChance,
			FleeCooldownRounds:   opts.Config.FleeCooldownRounds,
			MaxCombatRounds:      opts.Config.MaxCombatRounds,
			ManaRegenPerRound:    opts.Config.ManaRegenPerRound,
			StaminaRegenPerRound: opts.Config.StaminaRegenPerRound,
		},
		provider:   opts.Provider,
		brains:     opts.Brain,
		store:      opts.Store,
		events:     opts.Events,
		characters: opts.Characters,
		src:        src,
		logger:     opts.Logger,
		notify:     opts.Notify,
	}, nil
}

// StartSession creates the session for locationID with the initial roster.
// If both sides can already act, round 1 opens immediately; otherwise the
// session waits for joins.
//
// Postcondition: Returns ErrLocationBusy if a non-ended session already
// exists at the location. On success the session is persisted and its
// timers are running.
func (e *Engine) StartSession(ctx context.Context, locationID string, initial []*combat.Combatant) (*combat.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.byLocation[locationID]; ok && existing.State != combat.StateEnded {
		return nil, fmt.Errorf("starting session at %q: %w", locationID, ErrLocationBusy)
	}

	sess, err := combat.NewSession(locationID, initial)
	if err != nil {
		return nil, fmt.Errorf("starting session at %q: %w", locationID, err)
	}
	e.byLocation[locationID] = sess
	e.timers[sess.ID] = &sessionTimers{}
	e.newWriterLocked(sess)

	events := []combat.Event{e.sessionEvent(sess, combat.EventSessionStart, "Combat begins.")}
	events = append(events, e.activateLocked(sess)...)
	e.armIdleLocked(sess)
	e.finishMutationLocked(sess, events)

	e.logger.Info("combat session started",
		zap.String("session", sess.ID),
		zap.String("location", locationID),
		zap.String("state", string(sess.State)),
	)
	return sess, nil
}

// Join adds a combatant to the location's session, creating none. A WAITING
// session may transition to ACTIVE as a result.
func (e *Engine) Join(ctx context.Context, locationID string, c *combat.Combatant) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.liveSessionLocked(locationID)
	if !ok {
		return fmt.Errorf("joining at %q: %w", locationID, ErrNoSession)
	}
	if err := sess.Join(c); err != nil {
		return fmt.Errorf("joining at %q: %w", locationID, err)
	}

	events := []combat.Event{e.sessionEvent(sess, combat.EventJoin, fmt.Sprintf("%s joins the battle.", c.Name))}
	events = append(events, e.activateLocked(sess)...)
	e.armIdleLocked(sess)

	// A creature joining mid-round picks its action now, so a round that
	// was waiting only on it can still resolve early.
	if sess.State == combat.StateActive && c.Kind == combat.KindCreature {
		e.queueCreatureActionsLocked(sess)
	}
	e.finishMutationLocked(sess, events)
	if sess.State == combat.StateActive && sess.AllSubmitted() {
		e.resolveLocked(sess)
	}
	return nil
}

// SubmitAction records an action for the current round. round pins the
// submission to the round the client saw; pass 0 to accept the current one.
// The round resolves immediately when every acting combatant has submitted,
// or on the first player action after the soft deadline closed the window.
//
// Postcondition: Returns ErrRoundClosed when round names an already-resolved
// round; ErrNoSession when the location has no live session.
func (e *Engine) SubmitAction(ctx context.Context, locationID string, a combat.Action, round int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.liveSessionLocked(locationID)
	if !ok {
		return fmt.Errorf("submitting at %q: %w", locationID, ErrNoSession)
	}
	if round != 0 && round != sess.CurrentRound {
		return fmt.Errorf("submitting for round %d at %q: %w", round, locationID, ErrRoundClosed)
	}
	if err := sess.Submit(a); err != nil {
		return fmt.Errorf("submitting at %q: %w", locationID, err)
	}
	e.armIdleLocked(sess)

	if sess.State == combat.StateActive {
		t := e.timers[sess.ID]
		lapsed := t != nil && t.softLapsedRound == sess.CurrentRound
		if sess.AllSubmitted() || lapsed {
			e.resolveLocked(sess)
			return nil
		}
	}
	e.finishMutationLocked(sess, nil)
	return nil
}

// ForceResolve resolves the current round immediately, treating missing
// actions as passes. Exposed for administrative tooling; the hard deadline
// uses the same path internally.
func (e *Engine) ForceResolve(ctx context.Context, locationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.liveSessionLocked(locationID)
	if !ok {
		return fmt.Errorf("resolving at %q: %w", locationID, ErrNoSession)
	}
	if sess.State != combat.StateActive {
		return fmt.Errorf("resolving at %q: session is %s", locationID, sess.State)
	}
	e.resolveLocked(sess)
	return nil
}

// Terminate force-ends the location's session with the given reason.
func (e *Engine) Terminate(ctx context.Context, locationID string, reason combat.EndReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.liveSessionLocked(locationID)
	if !ok {
		return fmt.Errorf("terminating at %q: %w", locationID, ErrNoSession)
	}
	e.endLocked(sess, reason)
	return nil
}

// Session returns the live session at locationID. The returned aggregate is
// owned by the engine; callers must treat it as read-only.
func (e *Engine) Session(locationID string) (*combat.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveSessionLocked(locationID)
}

// Resume rehydrates the location's session from the snapshot store after a
// restart and restarts its deadlines.
//
// Precondition: the engine must have been built with a Store.
// Postcondition: Returns ErrNoSession when no live snapshot exists.
func (e *Engine) Resume(ctx context.Context, locationID string) (*combat.Session, error) {
	if e.store == nil {
		return nil, fmt.Errorf("resuming at %q: no session store configured", locationID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if sess, ok := e.liveSessionLocked(locationID); ok {
		return sess, nil
	}
	sess, err := e.store.GetByLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("resuming at %q: %w", locationID, err)
	}
	if sess.State == combat.StateEnded {
		return nil, fmt.Errorf("resuming at %q: %w", locationID, ErrNoSession)
	}

	e.byLocation[locationID] = sess
	e.timers[sess.ID] = &sessionTimers{}
	e.newWriterLocked(sess)
	if sess.State == combat.StateActive {
		e.armRoundLocked(sess)
	}
	e.armIdleLocked(sess)

	e.logger.Info("combat session resumed",
		zap.String("session", sess.ID),
		zap.String("location", locationID),
		zap.Int("round", sess.CurrentRound),
	)
	return sess, nil
}

// Close stops every timer and lets each session's writer drain its queued
// persistence. Sessions stay persisted; a later Resume picks them back up.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.stopAll()
		delete(e.timers, id)
	}
	for id, w := range e.writers {
		close(w.jobs)
		delete(e.writers, id)
	}
}

// liveSessionLocked returns the non-ended session at locationID.
func (e *Engine) liveSessionLocked(locationID string) (*combat.Session, bool) {
	sess, ok := e.byLocation[locationID]
	if !ok || sess.State == combat.StateEnded {
		return nil, false
	}
	return sess, true
}

// activateLocked tries the WAITING to ACTIVE transition and, when it fires,
// opens round 1: creatures pick their actions and the deadlines start.
func (e *Engine) activateLocked(sess *combat.Session) []combat.Event {
	if !sess.StartIfReady() {
		return nil
	}
	e.queueCreatureActionsLocked(sess)
	e.armRoundLocked(sess)
	return []combat.Event{e.sessionEvent(sess, combat.EventRoundStart, "Round 1 begins.")}
}

// queueCreatureActionsLocked asks the brain for every acting creature that
// has not yet submitted this round.
func (e *Engine) queueCreatureActionsLocked(sess *combat.Session) {
	for _, c := range sess.Creatures() {
		if !c.CanAct() {
			continue
		}
		if _, pending := sess.Pending[c.ID]; pending {
			continue
		}
		var a combat.Action
		if e.brains != nil {
			a = e.brains.Choose(sess, c)
		} else {
			a = combat.Action{ActorID: c.ID, AbilityID: combat.ActionPass}
		}
		if err := sess.Submit(a); err != nil {
			e.logger.Warn("queuing creature action",
				zap.String("session", sess.ID),
				zap.String("creature", c.ID),
				zap.Error(err),
			)
		}
	}
}

// armRoundLocked starts the soft and hard deadlines for the session's
// current round. Both callbacks are pinned to the round they were armed for,
// so a deadline that fires after the round already resolved is a no-op.
func (e *Engine) armRoundLocked(sess *combat.Session) {
	t := e.timers[sess.ID]
	if t == nil {
		return
	}
	t.stopRound()
	t.softLapsedRound = 0
	sessionID, armedRound := sess.ID, sess.CurrentRound
	t.soft = newDeadlineTimer(e.cfg.RoundDuration(), func() {
		e.softDue(sessionID, armedRound)
	})
	t.hard = newDeadlineTimer(e.cfg.MaxRoundDuration(), func() {
		e.resolveDue(sessionID, armedRound)
	})
}

// armIdleLocked restarts the inactivity deadline.
func (e *Engine) armIdleLocked(sess *combat.Session) {
	t := e.timers[sess.ID]
	if t == nil {
		return
	}
	if t.idle != nil {
		t.idle.Stop()
	}
	sessionID := sess.ID
	t.idle = newDeadlineTimer(e.cfg.SessionTimeout(), func() {
		e.timeoutDue(sessionID)
	})
}

// softDue is the soft-deadline callback. When at least one player has acted
// it resolves with implicit passes for the rest; when no player has acted it
// only marks the window lapsed and leaves the round to the hard ceiling, so
// slow clients get until max round duration before their round is forced.
func (e *Engine) softDue(sessionID string, armedRound int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessionByIDLocked(sessionID)
	if sess == nil || sess.State != combat.StateActive || sess.CurrentRound != armedRound {
		return
	}
	if e.playerSubmittedLocked(sess) {
		e.resolveLocked(sess)
		return
	}
	if t := e.timers[sessionID]; t != nil {
		t.softLapsedRound = armedRound
	}
}

// playerSubmittedLocked reports whether any player has a pending action.
func (e *Engine) playerSubmittedLocked(sess *combat.Session) bool {
	for _, p := range sess.Players() {
		if _, ok := sess.Pending[p.ID]; ok {
			return true
		}
	}
	return false
}

// resolveDue is the deadline callback: resolve the session's round if it is
// still the one the deadline was armed for.
func (e *Engine) resolveDue(sessionID string, armedRound int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessionByIDLocked(sessionID)
	if sess == nil || sess.State != combat.StateActive || sess.CurrentRound != armedRound {
		return
	}
	e.resolveLocked(sess)
}

// timeoutDue force-ends a session that saw no activity for the session
// timeout.
func (e *Engine) timeoutDue(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessionByIDLocked(sessionID)
	if sess == nil || sess.State == combat.StateEnded {
		return
	}
	e.logger.Info("combat session timed out",
		zap.String("session", sess.ID),
		zap.String("location", sess.LocationID),
	)
	e.endLocked(sess, combat.EndSessionTimeout)
}

func (e *Engine) sessionByIDLocked(sessionID string) *combat.Session {
	for _, sess := range e.byLocation {
		if sess.ID == sessionID {
			return sess
		}
	}
	return nil
}

// resolveLocked runs one full round: creature fill-in, resolution, end-of-
// round bookkeeping, then either session teardown or the next round's
// deadlines.
func (e *Engine) resolveLocked(sess *combat.Session) {
	if t := e.timers[sess.ID]; t != nil {
		t.stopRound()
	}
	e.queueCreatureActionsLocked(sess)

	events := combat.ResolveRound(sess, e.provider, e.rules, e.src)
	events = append(events, combat.FinishRound(sess, e.rules)...)

	if sess.State == combat.StateEnded {
		e.teardownLocked(sess, events)
		return
	}

	e.queueCreatureActionsLocked(sess)
	e.armRoundLocked(sess)
	e.finishMutationLocked(sess, events)
}

// endLocked ends a session outside the normal round flow (termination,
// timeout) and tears it down.
func (e *Engine) endLocked(sess *combat.Session, reason combat.EndReason) {
	sess.End(reason)
	ev := e.sessionEvent(sess, combat.EventSessionEnd, fmt.Sprintf("Combat ends: %s.", reason))
	e.teardownLocked(sess, []combat.Event{ev})
}

// teardownLocked stops timers, syncs player characters, persists the final
// snapshot, and releases the location.
func (e *Engine) teardownLocked(sess *combat.Session, events []combat.Event) {
	if t := e.timers[sess.ID]; t != nil {
		t.stopAll()
		delete(e.timers, sess.ID)
	}
	delete(e.byLocation, sess.LocationID)

	if e.characters != nil {
		for _, p := range sess.Players() {
			if p.CharacterID == 0 {
				continue
			}
			characterID, hp, mana, stamina := p.CharacterID, p.CurrentHP, p.CurrentMana, p.CurrentStamina
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.characters.SaveCombatState(ctx, characterID, hp, mana, stamina); err != nil {
					e.logger.Error("syncing character combat state",
						zap.Int64("character", characterID),
						zap.Error(err),
					)
				}
			}()
		}
	}

	e.finishMutationLocked(sess, events)
	if w := e.writers[sess.ID]; w != nil {
		close(w.jobs)
		delete(e.writers, sess.ID)
	}
	e.logger.Info("combat session ended",
		zap.String("session", sess.ID),
		zap.String("location", sess.LocationID),
		zap.String("reason", string(sess.EndReason)),
		zap.Int("rounds", sess.CurrentRound),
	)
}

// sessionEvent builds a session-level event carrying the full roster.
func (e *Engine) sessionEvent(sess *combat.Session, t combat.EventType, msg string) combat.Event {
	ev := sess.NewEvent(t, msg)
	snaps := make([]combat.Snapshot, 0, len(sess.Combatants))
	for _, c := range sess.Combatants {
		snaps = append(snaps, c.Snap())
	}
	ev.AllCombatants = snaps
	return ev
}

// writeJob is one ordered persistence unit: the snapshot taken after a
// mutation plus the events that mutation produced.
type writeJob struct {
	snapshot *combat.Session
	events   []combat.Event
}

// sessionWriter flushes one session's persistence jobs in mutation order
// from a single goroutine, so an earlier round's snapshot can never land
// after and overwrite a later one, and event batches reach the sink and the
// notifier in the order they happened. The buffer outlasts any store outage
// the retry policy tolerates; jobs closes on teardown and the goroutine
// drains what remains.
type sessionWriter struct {
	locationID string
	jobs       chan writeJob
}

func (e *Engine) newWriterLocked(sess *combat.Session) {
	w := &sessionWriter{
		locationID: sess.LocationID,
		jobs:       make(chan writeJob, 64),
	}
	e.writers[sess.ID] = w
	go e.runWriter(sess.ID, w)
}

func (e *Engine) runWriter(sessionID string, w *sessionWriter) {
	for job := range w.jobs {
		if job.snapshot != nil && e.store != nil {
			e.withRetry("saving session snapshot", sessionID, func(ctx context.Context) error {
				return e.store.Save(ctx, job.snapshot)
			})
		}
		if e.events != nil && len(job.events) > 0 {
			e.withRetry("appending combat events", sessionID, func(ctx context.Context) error {
				return e.events.Append(ctx, job.events)
			})
		}
		if e.notify != nil && len(job.events) > 0 {
			e.notify(w.locationID, job.events)
		}
	}
}

// finishMutationLocked hands the session's new state and events to its
// writer. The snapshot is a deep copy taken under the lock, so a slow store
// never stalls gameplay and later mutations never leak into it.
func (e *Engine) finishMutationLocked(sess *combat.Session, events []combat.Event) {
	w := e.writers[sess.ID]
	if w == nil {
		return
	}
	var snapshot *combat.Session
	if e.store != nil {
		copied, err := cloneSession(sess)
		if err != nil {
			e.logger.Error("cloning session for persistence",
				zap.String("session", sess.ID),
				zap.Error(err),
			)
		} else {
			snapshot = copied
		}
	}
	w.jobs <- writeJob{snapshot: snapshot, events: events}
}

// withRetry runs op up to three times with doubling backoff.
func (e *Engine) withRetry(what, sessionID string, op func(ctx context.Context) error) {
	backoff := 250 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = op(ctx)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	e.logger.Error(what,
		zap.String("session", sessionID),
		zap.Error(err),
	)
}

// cloneSession deep-copies a session through its JSON form.
func cloneSession(sess *combat.Session) (*combat.Session, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	var out combat.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
