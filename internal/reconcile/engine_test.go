package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/groups"
	"github.com/mj1618/support-roster/internal/identity"
	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/platform/replay"
	"github.com/mj1618/support-roster/internal/registry"
	"github.com/mj1618/support-roster/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	ctx    context.Context
	clock  *clock
	reg    *registry.Registry
	groups *groups.Store
	gate   *decision.Gateway
	engine *Engine
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	return newHarnessOn(t, settings, store.NewMemory())
}

func newHarnessOn(t *testing.T, settings Settings, backend store.Backend) *harness {
	t.Helper()
	ctx := t.Context()
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	gs := groups.Open(ctx, backend, logger.Nop())
	reg := registry.New(ctx, registry.Options{
		Retention: 30 * time.Second,
		Backend:   backend,
		Sink:      gs,
		Logger:    logger.Nop(),
		Now:       c.now,
	})
	gate := decision.NewGateway(8, logger.Nop())
	e := New(Options{
		Registry: reg,
		Groups:   gs,
		Gateway:  gate,
		Settings: settings,
		Logger:   logger.Nop(),
		Now:      c.now,
	})
	return &harness{ctx: ctx, clock: c, reg: reg, groups: gs, gate: gate, engine: e}
}

// noGrace disables the startup grace so conflicts prompt immediately.
var noGrace = Settings{StartupGrace: -1}

func (h *harness) batch(windows ...model.RawWindow) BatchResult {
	h.clock.advance(time.Second)
	return h.engine.ProcessBatch(h.ctx, windows)
}

// answer resolves the presented ticket and waits for the engine to apply it.
func (h *harness) answer(t *testing.T, c decision.Choice) *decision.Ticket {
	t.Helper()
	tk, ok := h.gate.Current()
	require.True(t, ok, "expected a pending decision")
	require.NoError(t, h.gate.Answer(tk.ID, c))
	h.engine.Wait()
	return tk
}

func ezhelp(pc, ip string, handle uint64) model.RawWindow {
	return model.RawWindow{
		PID:         int(handle) + 1000,
		Handle:      handle,
		ProcessName: "ezHelpViewer.exe",
		Title:       fmt.Sprintf("ezHelp - %s (%s)", pc, ip),
		Visible:     true,
	}
}

func ezhelpOp(pc, ip, op string, handle uint64) model.RawWindow {
	w := ezhelp(pc, ip, handle)
	w.Title = fmt.Sprintf("ezHelp - %s (%s) - Operator: %s", pc, ip, op)
	return w
}

func teamviewer(pc string, handle uint64) model.RawWindow {
	return model.RawWindow{
		PID:         int(handle) + 2000,
		Handle:      handle,
		ProcessName: "TeamViewer.exe",
		Title:       pc + " - TeamViewer",
		Visible:     true,
	}
}

func actions(res BatchResult) []Action {
	var out []Action
	for _, o := range res.Outcomes {
		out = append(out, o.Action)
	}
	return out
}

func TestIdempotentReconnection(t *testing.T) {
	h := newHarness(t, noGrace)
	w := ezhelp("PC1", "10.0.0.1", 100)

	h.batch(w)
	first := h.reg.All()
	require.Len(t, first, 1)

	res := h.batch(w)
	assert.Equal(t, []Action{ActionUpdated}, actions(res))
	all := h.reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, first[0].ID, all[0].ID)
	assert.Equal(t, model.StatusConnected, all[0].Status)
	assert.True(t, all[0].LastSeen.After(first[0].LastSeen))
}

func TestStatusSequence_ConnectedDisconnectedReconnected(t *testing.T) {
	h := newHarness(t, noGrace)
	w := ezhelp("PC1", "10.0.0.1", 100)

	h.batch(w)
	ep, _ := h.reg.LookupStableKey("ezhelp_PC1")
	assert.Equal(t, model.StatusConnected, ep.Status)

	res := h.batch()
	assert.Equal(t, []string{ep.ID}, res.Disconnected)
	ep, _ = h.reg.Get(ep.ID)
	assert.Equal(t, model.StatusDisconnected, ep.Status)
	require.NotNil(t, ep.DisconnectedAt)

	res = h.batch(w)
	assert.Equal(t, []Action{ActionReconnected}, actions(res))
	ep, _ = h.reg.Get(ep.ID)
	assert.Equal(t, model.StatusReconnected, ep.Status)
	assert.Nil(t, ep.DisconnectedAt)
	assert.Len(t, h.reg.All(), 1)
}

func TestIPChangePromptsExactlyOnce(t *testing.T) {
	h := newHarness(t, noGrace)
	old := ezhelp("PC1", "10.0.0.1", 100)
	moved := ezhelp("PC1", "10.0.0.2", 200)

	h.batch(old)
	res := h.batch(old, moved)
	assert.Equal(t, []Action{ActionUpdated, ActionPending}, actions(res))

	res = h.batch(old, moved)
	assert.Equal(t, []Action{ActionUpdated, ActionSkipped}, actions(res))
	assert.Len(t, h.gate.Pending(), 1, "no second prompt while the first is open")

	tk := h.answer(t, decision.Choice{Kind: decision.KeepExisting})
	assert.Equal(t, decision.ReasonIPChanged, tk.Reason)

	all := h.reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "10.0.0.2", all[0].IPAddress)
	assert.Equal(t, uint64(200), all[0].Handle)
}

func TestIPChangeIgnoresStartupGrace(t *testing.T) {
	h := newHarness(t, Settings{StartupGrace: time.Hour})
	h.batch(ezhelp("PC1", "10.0.0.1", 100))
	res := h.batch(ezhelp("PC1", "10.0.0.1", 100), ezhelp("PC1", "10.0.0.9", 101))
	assert.Equal(t, []Action{ActionUpdated, ActionPending}, actions(res))
}

func TestIPChangeOnDisconnectedEndpointStillPrompts(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(ezhelp("PC1", "10.0.0.1", 100))
	h.batch()
	res := h.batch(ezhelp("PC1", "10.0.0.2", 200))
	assert.Equal(t, []Action{ActionPending}, actions(res))
}

func TestOperatorOnlyChangeAutoMerges(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(ezhelpOp("PC1", "10.0.0.1", "alice", 100))

	res := h.batch(ezhelpOp("PC1", "10.0.0.1", "bob", 200))
	assert.Equal(t, []Action{ActionOperator}, actions(res))
	_, pending := h.gate.Current()
	assert.False(t, pending)

	all := h.reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].OperatorID)
	assert.Equal(t, uint64(200), all[0].Handle)
}

func TestSameComputerConflict_DifferentCreatesSuffixedSession(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	res := h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	assert.Equal(t, []Action{ActionUpdated, ActionPending}, actions(res))

	h.answer(t, decision.Choice{Kind: decision.Different})

	orig, ok := h.reg.LookupStableKey("teamviewer_PC1")
	require.True(t, ok)
	second, ok := h.reg.LookupStableKey("teamviewer_PC1_2")
	require.True(t, ok)
	assert.NotEqual(t, orig.ID, second.ID)
	assert.Equal(t, 2, second.MultipleID)
	assert.Equal(t, uint64(2), second.Handle)
	assert.True(t, second.Status.IsLive())
	assert.True(t, orig.Status.IsLive())
	assert.Equal(t, []int{2}, h.groups.Suffixes("teamviewer_PC1"))

	// Both windows now update their own endpoint without prompting.
	res = h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	assert.Equal(t, []Action{ActionUpdated, ActionUpdated}, actions(res))
	assert.Len(t, h.reg.All(), 2)
}

func TestDifferentReusesSuffixReservedByEarlierRun(t *testing.T) {
	backend := store.NewMemory()
	earlier := groups.Open(t.Context(), backend, logger.Nop())
	earlier.ReserveSuffix(t.Context(), "teamviewer_PC1", 3)
	earlier.SetLabel(t.Context(), "teamviewer_PC1_3", "upstairs")

	h := newHarnessOn(t, noGrace, backend)
	h.batch(teamviewer("PC1", 1))
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 7))
	h.answer(t, decision.Choice{Kind: decision.Different})

	ep, ok := h.reg.LookupStableKey("teamviewer_PC1_3")
	require.True(t, ok)
	assert.Equal(t, 3, ep.MultipleID)
	assert.Equal(t, "upstairs", ep.CustomLabel)
	_, ok = h.reg.LookupStableKey("teamviewer_PC1_2")
	assert.False(t, ok)

	// With the reservation taken, the next session falls back to the
	// smallest free suffix.
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 7), teamviewer("PC1", 8))
	h.answer(t, decision.Choice{Kind: decision.Different})
	ep, ok = h.reg.LookupStableKey("teamviewer_PC1_2")
	require.True(t, ok)
	assert.Equal(t, uint64(8), ep.Handle)
	assert.Equal(t, []int{2, 3}, h.groups.Suffixes("teamviewer_PC1"))
}

func TestSuffixesAreSequential(t *testing.T) {
	h := newHarness(t, noGrace)
	windows := []model.RawWindow{teamviewer("PC1", 1)}
	h.batch(windows...)

	for i := uint64(2); i <= 4; i++ {
		windows = append(windows, teamviewer("PC1", i))
		h.batch(windows...)
		h.answer(t, decision.Choice{Kind: decision.Different})
	}

	for n := 2; n <= 4; n++ {
		ep, ok := h.reg.LookupStableKey(model.SuffixedKey("teamviewer_PC1", n))
		require.True(t, ok, "suffix %d", n)
		assert.Equal(t, n, ep.MultipleID)
		assert.Equal(t, uint64(n), ep.Handle)
	}
	assert.Len(t, h.reg.All(), 4)
}

func TestDifferentProtectsOriginalFromSweep(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	h.answer(t, decision.Choice{Kind: decision.Different})

	orig, _ := h.reg.LookupStableKey("teamviewer_PC1")
	require.NotNil(t, orig.ConflictProtectedUntil)

	// The original's window is missing but the lease holds.
	res := h.batch(teamviewer("PC1", 2))
	assert.Empty(t, res.Disconnected)
	orig, _ = h.reg.Get(orig.ID)
	assert.True(t, orig.Status.IsLive())

	h.clock.advance(15 * time.Second)
	res = h.batch(teamviewer("PC1", 2))
	assert.Equal(t, []string{orig.ID}, res.Disconnected)
}

func TestKeepExistingWithSelection(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	h.answer(t, decision.Choice{Kind: decision.Different})
	second, _ := h.reg.LookupStableKey("teamviewer_PC1_2")

	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2), teamviewer("PC1", 3))
	tk, ok := h.gate.Current()
	require.True(t, ok)
	assert.Len(t, tk.Candidates, 2)

	h.answer(t, decision.Choice{Kind: decision.KeepExisting, SelectedID: second.ID})
	second, _ = h.reg.Get(second.ID)
	assert.Equal(t, uint64(3), second.Handle)
	assert.Len(t, h.reg.All(), 2)
}

func TestResolvedPairIsNotPromptedAgain(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	h.answer(t, decision.Choice{Kind: decision.UpdateExisting})

	res := h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	assert.NotContains(t, actions(res), ActionPending)
	assert.Len(t, h.reg.All(), 1)
}

func TestKeepExistingReleasesTheOtherWindow(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	h.answer(t, decision.Choice{Kind: decision.KeepExisting})

	ep, _ := h.reg.LookupStableKey("teamviewer_PC1")
	require.Equal(t, uint64(2), ep.Handle)

	// Both windows stay open: the endpoint stays bound to the kept window.
	for range 3 {
		res := h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
		assert.Equal(t, []Action{ActionSkipped, ActionUpdated}, actions(res))
		ep, _ = h.reg.Get(ep.ID)
		assert.Equal(t, uint64(2), ep.Handle)
		assert.Equal(t, 2002, ep.PID)
	}

	// Once the released window closes, a new window with that handle is a
	// fresh conflict again.
	h.batch(teamviewer("PC1", 2))
	res := h.batch(teamviewer("PC1", 2), teamviewer("PC1", 1))
	assert.Equal(t, []Action{ActionUpdated, ActionPending}, actions(res))
}

func TestPendingDecisionWithdrawnWhenWindowCloses(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	res := h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	require.Equal(t, []Action{ActionUpdated, ActionPending}, actions(res))
	stale := res.Outcomes[1].Ticket

	h.batch(teamviewer("PC1", 1))
	assert.Empty(t, h.gate.Pending())
	assert.False(t, h.gate.InFlight("teamviewer_PC1", 2))
	h.engine.Wait()
	assert.ErrorIs(t, h.gate.Answer(stale.ID, decision.Choice{Kind: decision.Different}), decision.ErrUnknownTicket)

	// The next conflict is presented straight away and the closed window is
	// never registered.
	h.batch(teamviewer("PC1", 1), teamviewer("PC1", 3))
	tk, ok := h.gate.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(3), tk.Handle)
	h.answer(t, decision.Choice{Kind: decision.Different})

	for _, ep := range h.reg.All() {
		assert.NotEqual(t, uint64(2), ep.Handle)
	}
	second, ok := h.reg.LookupStableKey("teamviewer_PC1_2")
	require.True(t, ok)
	assert.Equal(t, uint64(3), second.Handle)
}

func TestDisconnectedEndpointReconnectsUnderNewHandle(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	ep, _ := h.reg.LookupStableKey("teamviewer_PC1")
	h.batch()

	res := h.batch(teamviewer("PC1", 9))
	assert.Equal(t, []Action{ActionReconnected}, actions(res))
	assert.Empty(t, h.gate.Pending(), "a closed session coming back is not a conflict")
	back, _ := h.reg.Get(ep.ID)
	assert.Equal(t, model.StatusReconnected, back.Status)
	assert.Equal(t, uint64(9), back.Handle)
	assert.Len(t, h.reg.All(), 1)
}

func TestStartupGraceSuppressesPrompt(t *testing.T) {
	h := newHarness(t, Settings{StartupGrace: 5 * time.Second})
	h.batch(teamviewer("PC1", 1))
	res := h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	assert.NotContains(t, actions(res), ActionPending)

	h.clock.advance(5 * time.Second)
	res = h.batch(teamviewer("PC1", 1), teamviewer("PC1", 2))
	assert.Contains(t, actions(res), ActionPending)
}

func TestUnrecognisedChoiceIsDifferent(t *testing.T) {
	h := newHarness(t, noGrace)
	h.batch(teamviewer("PC1", 1))
	out, err := h.engine.Reconcile(h.ctx, identityOf(t, teamviewer("PC1", 2)))
	require.NoError(t, err)
	require.Equal(t, ActionPending, out.Action)

	res, err := h.engine.Resolve(h.ctx, out.Ticket, decision.Choice{Kind: "maybe"})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	_, ok := h.reg.LookupStableKey("teamviewer_PC1_2")
	assert.True(t, ok)
}

func TestMetadataSurvivesRemovalAndRecreation(t *testing.T) {
	h := newHarness(t, noGrace)
	w := teamviewer("PC1", 1)
	h.batch(w)
	ep, _ := h.reg.LookupStableKey("teamviewer_PC1")

	g, err := h.groups.CreateGroup(h.ctx, "Ward 3", "")
	require.NoError(t, err)
	require.NoError(t, h.groups.Assign(h.ctx, ep.StableKey, ep.ID, g.ID))
	_, err = h.reg.SetGroup(ep.ID, g.ID)
	require.NoError(t, err)
	h.groups.SetCategory(h.ctx, ep.StableKey, model.CategoryUrgent)
	h.groups.SetLabel(h.ctx, ep.StableKey, "front desk")

	require.NoError(t, h.reg.RemoveProcess(h.ctx, ep.ID, false))
	gr, _ := h.groups.Group(g.ID)
	assert.Empty(t, gr.EndpointIDs)

	res := h.batch(w)
	assert.Equal(t, []Action{ActionCreated}, actions(res))
	fresh, ok := h.reg.LookupStableKey("teamviewer_PC1")
	require.True(t, ok)
	assert.NotEqual(t, ep.ID, fresh.ID)
	assert.Equal(t, g.ID, fresh.GroupID)
	assert.Equal(t, model.CategoryUrgent, fresh.Category)
	assert.Equal(t, "front desk", fresh.CustomLabel)
	gr, _ = h.groups.Group(g.ID)
	assert.Equal(t, []string{fresh.ID}, gr.EndpointIDs)
}

func TestCleanedUpEndpointReturnsWithSameID(t *testing.T) {
	h := newHarness(t, noGrace)
	w := ezhelp("PC1", "10.0.0.1", 100)
	h.batch(w)
	ep, _ := h.reg.LookupStableKey("ezhelp_PC1")

	h.batch()
	h.clock.advance(31 * time.Second)
	res := h.batch()
	assert.Equal(t, []string{ep.ID}, res.Removed)
	assert.Empty(t, h.reg.All())

	w.Handle, w.PID = 300, 3000
	res = h.batch(w)
	assert.Equal(t, []Action{ActionReconnected}, actions(res))
	back, ok := h.reg.LookupStableKey("ezhelp_PC1")
	require.True(t, ok)
	assert.Equal(t, ep.ID, back.ID)
	assert.Equal(t, model.StatusReconnected, back.Status)
}

func TestInvalidRecordsAreIgnored(t *testing.T) {
	h := newHarness(t, noGrace)
	res := h.batch(
		model.RawWindow{Handle: 1, ProcessName: "notepad.exe", Title: "notes.txt - Notepad"},
		model.RawWindow{Handle: 2, ProcessName: "TeamViewer.exe", Title: "TeamViewer"},
		model.RawWindow{Handle: 3, ProcessName: "ezHelpViewer.exe", Title: "ezHelp - PC1"},
	)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, h.reg.All())
}

type failingSource struct{ err error }

func (f failingSource) Detect(context.Context) ([]model.RawWindow, error) { return nil, f.err }

func TestPoll_SnapshotErrorSkipsSweep(t *testing.T) {
	h := newHarness(t, noGrace)
	src := replay.New(replay.Script{Batches: []replay.Batch{
		{Windows: []model.RawWindow{teamviewer("PC1", 1)}},
		{Error: "access denied"},
	}})
	h.engine.source = src

	_, err := h.engine.Poll(h.ctx)
	require.NoError(t, err)
	h.clock.advance(time.Minute)
	_, err = h.engine.Poll(h.ctx)
	require.Error(t, err)

	ep, ok := h.reg.LookupStableKey("teamviewer_PC1")
	require.True(t, ok)
	assert.Equal(t, model.StatusConnected, ep.Status)

	boom := errors.New("boom")
	h.engine.source = failingSource{err: boom}
	_, err = h.engine.Poll(h.ctx)
	assert.ErrorIs(t, err, boom)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	h := newHarness(t, Settings{PollInterval: 10 * time.Millisecond, StartupGrace: -1})
	h.engine.source = replay.New(replay.Script{Batches: []replay.Batch{
		{Windows: []model.RawWindow{teamviewer("PC1", 1)}},
	}})

	ctx, cancel := context.WithCancel(h.ctx)
	batches := make(chan BatchResult, 16)
	done := make(chan error, 1)
	go func() {
		done <- h.engine.Run(ctx, func(r BatchResult) {
			select {
			case batches <- r:
			default:
			}
		})
	}()

	<-batches
	<-batches
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, h.reg.All(), 1)
}

func identityOf(t *testing.T, w model.RawWindow) model.Identity {
	t.Helper()
	id, ok := identity.Extract(w)
	require.True(t, ok, "window %q is not a valid endpoint", w.Title)
	return id
}
