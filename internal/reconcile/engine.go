// Package reconcile turns each poll's window records into roster endpoints.
// It decides, per record, whether the window is an endpoint already known,
// a reconnection, a new endpoint, or an ambiguous case that needs a human.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/groups"
	"github.com/mj1618/support-roster/internal/identity"
	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/platform"
	"github.com/mj1618/support-roster/internal/registry"
)

// Action is what reconciliation did with one record.
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionReconnected Action = "reconnected"
	ActionOperator    Action = "operator_updated"
	ActionPending     Action = "pending"
	ActionSkipped     Action = "skipped"
)

// Outcome of reconciling one record. Ticket is set for ActionPending.
type Outcome struct {
	Action     Action
	EndpointID string
	Ticket     *decision.Ticket
}

// Settings are the engine's tunables. Zero values keep the defaults; a
// negative StartupGrace disables the grace period.
type Settings struct {
	PollInterval       time.Duration
	ConflictProtection time.Duration
	StartupGrace       time.Duration
}

func defaultSettings() Settings {
	return Settings{
		PollInterval:       5 * time.Second,
		ConflictProtection: 15 * time.Second,
		StartupGrace:       5 * time.Second,
	}
}

type Options struct {
	Registry *registry.Registry
	Groups   *groups.Store
	Gateway  *decision.Gateway
	// Source is polled by Run. It may be nil when batches are fed directly.
	Source   platform.SnapshotSource
	Settings Settings
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Engine serialises reconciliation: one batch or resolution at a time.
type Engine struct {
	mu      sync.Mutex
	reg     *registry.Registry
	groups  *groups.Store
	gate    *decision.Gateway
	source  platform.SnapshotSource
	log     zerolog.Logger
	now     func() time.Time
	started time.Time

	settings Settings
	// resolved holds (stable key, handle) pairs a human already decided on.
	resolved map[string]struct{}
	// released holds windows whose endpoint was rebound to another window
	// by keep/update. They are ignored while they stay open.
	released map[string]struct{}

	parked sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		reg:      opts.Registry,
		groups:   opts.Groups,
		gate:     opts.Gateway,
		source:   opts.Source,
		log:      opts.Logger,
		now:      opts.Now,
		settings: defaultSettings(),
		resolved: make(map[string]struct{}),
		released: make(map[string]struct{}),
	}
	e.started = e.now()
	e.applySettings(opts.Settings)
	return e
}

// UpdateSettings applies new tunables; used on config reload.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applySettings(s)
}

func (e *Engine) applySettings(s Settings) {
	if s.PollInterval > 0 {
		e.settings.PollInterval = s.PollInterval
	}
	if s.ConflictProtection > 0 {
		e.settings.ConflictProtection = s.ConflictProtection
	}
	if s.StartupGrace > 0 {
		e.settings.StartupGrace = s.StartupGrace
	} else if s.StartupGrace < 0 {
		e.settings.StartupGrace = 0
	}
}

// Reconcile processes one valid record.
func (e *Engine) Reconcile(ctx context.Context, id model.Identity) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcileLocked(ctx, id)
}

func (e *Engine) reconcileLocked(ctx context.Context, id model.Identity) (Outcome, error) {
	now := e.now()
	base := id.StableKey()
	handle := id.Window.Handle

	// The same OS window reporting again, under the base key or a suffix.
	if ep, ok := e.reg.FindByHandle(base, handle); ok {
		return e.refreshLocked(ep.ID, id, now, ActionUpdated)
	}
	if _, ok := e.released[pairKey(base, handle)]; ok {
		return Outcome{Action: ActionSkipped}, nil
	}
	if e.gate.InFlight(base, handle) {
		return Outcome{Action: ActionSkipped}, nil
	}

	existing, ok := e.reg.LookupStableKey(base)
	if !ok {
		return e.connectLocked(ctx, id, now)
	}

	if id.Type == model.TypeEzHelp && existing.IPAddress != "" && existing.IPAddress != id.IPAddress {
		return e.proposeLocked(id, existing, decision.ReasonIPChanged)
	}
	if !existing.Status.IsLive() {
		return e.refreshLocked(existing.ID, id, now, ActionReconnected)
	}
	if id.OperatorID != "" && id.OperatorID != existing.OperatorID {
		return e.refreshLocked(existing.ID, id, now, ActionOperator)
	}
	if e.suppressLocked(base, id, now) {
		return e.refreshLocked(existing.ID, id, now, ActionUpdated)
	}
	return e.proposeLocked(id, existing, decision.ReasonSameComputer)
}

// suppressLocked reports whether a same-computer conflict should be treated
// as a plain update instead of a prompt.
func (e *Engine) suppressLocked(base string, id model.Identity, now time.Time) bool {
	if _, ok := e.resolved[pairKey(base, id.Window.Handle)]; ok {
		return true
	}
	if now.Sub(e.started) < e.settings.StartupGrace {
		return true
	}
	return id.Window.Handle == 0 && id.Window.PID == 0
}

// connectLocked handles a record whose stable key is free: a reconnection if
// history knows the computer, otherwise a new endpoint.
func (e *Engine) connectLocked(ctx context.Context, id model.Identity, now time.Time) (Outcome, error) {
	mk := id.MatchingKey()
	if h, ok := e.reg.History(mk); ok {
		if _, exists := e.reg.Get(h.EndpointID); exists {
			return e.refreshLocked(h.EndpointID, id, now, ActionReconnected)
		}
		// The endpoint was cleaned up; bring it back under its old id.
		return e.createLocked(ctx, id, id.StableKey(), mk, 0, h.EndpointID, model.StatusReconnected, now)
	}
	return e.createLocked(ctx, id, id.StableKey(), mk, 0, uuid.NewString(), model.StatusConnected, now)
}

func (e *Engine) createLocked(ctx context.Context, id model.Identity, key, historyKey string, multiple int, epID string, status model.Status, now time.Time) (Outcome, error) {
	md := e.groups.Metadata(key)
	ep := model.Endpoint{
		ID:           epID,
		Type:         id.Type,
		ComputerName: id.ComputerName,
		Status:       status,
		StableKey:    key,
		CreatedAt:    now,
		CustomLabel:  md.Label,
		Category:     md.Category,
		MultipleID:   multiple,
	}
	ep.ApplyWindow(id, now)
	if md.GroupID != "" {
		if _, ok := e.groups.Group(md.GroupID); ok {
			ep.GroupID = md.GroupID
			e.groups.Attach(ctx, md.GroupID, epID)
		}
	}
	e.reg.Upsert(ep, historyKey)

	action := ActionCreated
	if status == model.StatusReconnected {
		action = ActionReconnected
	}
	e.log.Info().
		Str("endpoint", epID).
		Str("stable_key", key).
		Str("action", string(action)).
		Msg("endpoint registered")
	return Outcome{Action: action, EndpointID: epID}, nil
}

// refreshLocked merges the record's connection fields into an endpoint.
// A disconnected endpoint comes back as reconnected.
func (e *Engine) refreshLocked(epID string, id model.Identity, now time.Time, action Action) (Outcome, error) {
	_, err := e.reg.Update(epID, func(ep *model.Endpoint) {
		if !ep.Status.IsLive() {
			ep.Status = model.StatusReconnected
			action = ActionReconnected
		}
		ep.ApplyWindow(id, now)
		ep.DisconnectedAt = nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh %s: %w", epID, err)
	}
	if action != ActionUpdated {
		e.log.Info().Str("endpoint", epID).Str("action", string(action)).Msg("endpoint updated")
	}
	return Outcome{Action: action, EndpointID: epID}, nil
}

func (e *Engine) proposeLocked(id model.Identity, existing model.Endpoint, reason decision.Reason) (Outcome, error) {
	t, err := e.gate.Propose(decision.Details{
		Reason:     reason,
		StableKey:  id.StableKey(),
		Incoming:   id,
		ExistingID: existing.ID,
		Candidates: e.reg.SameComputer(id.StableKey()),
	})
	if err != nil {
		e.log.Debug().Err(err).Msg("conflict already pending, skipping record")
		return Outcome{Action: ActionSkipped}, nil
	}
	return Outcome{Action: ActionPending, EndpointID: existing.ID, Ticket: t}, nil
}

// Resolve completes a ticket with the operator's choice.
func (e *Engine) Resolve(ctx context.Context, t *decision.Ticket, c decision.Choice) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	id := t.Incoming
	base := t.StableKey
	handle := id.Window.Handle

	if ep, ok := e.reg.FindByHandle(base, handle); ok {
		return e.refreshLocked(ep.ID, id, now, ActionUpdated)
	}
	if _, ok := e.reg.LookupStableKey(base); !ok {
		// The conflicting endpoint is gone; nothing left to decide.
		return e.connectLocked(ctx, id, now)
	}

	switch c.Kind {
	case decision.KeepExisting, decision.UpdateExisting:
		target := t.ExistingID
		if c.Kind == decision.KeepExisting && c.SelectedID != "" {
			if ep, ok := e.reg.Get(c.SelectedID); ok && model.StableKey(ep.Type, ep.ComputerName) == base {
				target = c.SelectedID
			} else {
				e.log.Warn().Str("selected", c.SelectedID).Msg("selected endpoint is not a candidate, keeping the original")
			}
		}
		prev, ok := e.reg.Get(target)
		if !ok {
			return e.differentLocked(ctx, t, now)
		}
		out, err := e.refreshLocked(target, id, now, ActionUpdated)
		if err != nil {
			return out, err
		}
		e.markResolved(base, handle)
		if prev.Handle != 0 && prev.Handle != handle {
			e.released[pairKey(base, prev.Handle)] = struct{}{}
		}
		return out, nil
	case decision.Different:
		return e.differentLocked(ctx, t, now)
	default:
		e.log.Warn().Str("choice", string(c.Kind)).Msg("unrecognised choice, treating as a separate session")
		return e.differentLocked(ctx, t, now)
	}
}

// differentLocked registers the record as another concurrent session of the
// same computer and protects the original from this cycle's sweep.
func (e *Engine) differentLocked(ctx context.Context, t *decision.Ticket, now time.Time) (Outcome, error) {
	base := t.StableKey
	n := e.nextSuffix(base)
	key := model.SuffixedKey(base, n)
	e.groups.ReserveSuffix(ctx, base, n)

	out, err := e.createLocked(ctx, t.Incoming, key, key, n, uuid.NewString(), model.StatusConnected, now)
	if err != nil {
		return out, err
	}
	until := now.Add(e.settings.ConflictProtection)
	if _, err := e.reg.Update(t.ExistingID, func(ep *model.Endpoint) {
		ep.ConflictProtectedUntil = &until
	}); err != nil {
		e.log.Debug().Err(err).Str("endpoint", t.ExistingID).Msg("original endpoint gone, no lease set")
	}
	e.markResolved(base, t.Incoming.Window.Handle)
	return out, nil
}

// nextSuffix prefers a suffix reserved by an earlier run that no endpoint
// holds yet, so the session gets its persisted metadata back. Otherwise it
// is the smallest unused suffix.
func (e *Engine) nextSuffix(base string) int {
	for _, n := range e.groups.Suffixes(base) {
		if n < 2 {
			continue
		}
		if _, taken := e.reg.LookupStableKey(model.SuffixedKey(base, n)); !taken {
			return n
		}
	}
	return e.reg.NextSuffix(base)
}

func (e *Engine) markResolved(base string, handle uint64) {
	if handle != 0 {
		e.resolved[pairKey(base, handle)] = struct{}{}
	}
}

func pairKey(base string, handle uint64) string {
	return fmt.Sprintf("%s#%d", base, handle)
}

// BatchResult summarises one poll.
type BatchResult struct {
	Outcomes     []Outcome
	Disconnected []string
	Removed      []string
}

// ProcessBatch reconciles every valid window of one poll, then sweeps
// endpoints that were not seen and removes expired ones. Records that need
// a decision are parked; each waits on its ticket in its own goroutine and
// is resolved when answered. A pending decision whose window is missing from
// the batch is withdrawn.
func (e *Engine) ProcessBatch(ctx context.Context, windows []model.RawWindow) BatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res BatchResult
	seen := make(map[string]bool)
	present := make(map[string]bool)
	for _, id := range identity.ExtractAll(windows) {
		present[pairKey(id.StableKey(), id.Window.Handle)] = true
		out, err := e.reconcileLocked(ctx, id)
		if err != nil {
			e.log.Warn().Err(err).Str("stable_key", id.StableKey()).Msg("reconcile failed")
			continue
		}
		res.Outcomes = append(res.Outcomes, out)
		switch out.Action {
		case ActionPending:
			e.park(ctx, out.Ticket)
		case ActionSkipped:
		default:
			seen[out.EndpointID] = true
		}
	}

	e.withdrawMissingLocked(present)
	res.Disconnected = e.reg.MarkMissingAsDisconnected(seen)
	res.Removed = e.reg.CleanupOldProcesses(ctx)
	if err := e.reg.Flush(ctx); err != nil {
		e.log.Error().Err(err).Msg("persist connection history failed")
	}
	return res
}

func (e *Engine) withdrawMissingLocked(present map[string]bool) {
	for _, t := range e.gate.Pending() {
		if !present[pairKey(t.StableKey, t.Handle)] {
			e.gate.Withdraw(t.ID)
		}
	}
	for key := range e.released {
		if !present[key] {
			delete(e.released, key)
		}
	}
}

func (e *Engine) park(ctx context.Context, t *decision.Ticket) {
	e.parked.Add(1)
	go func() {
		defer e.parked.Done()
		select {
		case c := <-t.Done():
			if _, err := e.Resolve(ctx, t, c); err != nil {
				e.log.Error().Err(err).Str("ticket", t.ID).Msg("resolve failed")
			}
		case <-t.Gone():
		case <-ctx.Done():
			e.gate.Abandon(t.ID)
		}
	}()
}

// Wait blocks until every parked record has been resolved or abandoned.
func (e *Engine) Wait() {
	e.parked.Wait()
}
