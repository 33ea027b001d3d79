package panel

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/groups"
	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/platform/replay"
	"github.com/mj1618/support-roster/internal/registry"
	"github.com/mj1618/support-roster/internal/roster"
	"github.com/mj1618/support-roster/internal/store"
)

type fixture struct {
	router *roster.Router
	reg    *registry.Registry
	gate   *decision.Gateway
	src    *replay.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gs := groups.Open(ctx, store.NewMemory(), logger.Nop())
	reg := registry.New(ctx, registry.Options{Sink: gs, Logger: logger.Nop()})
	gate := decision.NewGateway(8, logger.Nop())
	src := replay.New(replay.Script{Batches: []replay.Batch{{Windows: []model.RawWindow{
		{PID: 10, Handle: 100, Title: "PC1 - TeamViewer", Visible: true},
		{PID: 20, Handle: 200, Title: "ezHelp - DESK7 (10.0.0.7)", Visible: true},
	}}}})
	_, err := src.Detect(ctx)
	require.NoError(t, err)

	now := time.Now()
	reg.Upsert(model.Endpoint{
		ID: "e1", PID: 10, Handle: 100, Type: model.TypeTeamViewer, ComputerName: "PC1",
		Status: model.StatusConnected, StableKey: "teamviewer_PC1", CreatedAt: now, LastSeen: now,
	}, "teamviewer_PC1")
	reg.Upsert(model.Endpoint{
		ID: "e2", PID: 20, Handle: 200, Type: model.TypeEzHelp, ComputerName: "DESK7", IPAddress: "10.0.0.7",
		Status: model.StatusConnected, StableKey: "ezhelp_DESK7", CreatedAt: now.Add(time.Second), LastSeen: now,
	}, "ezhelp_DESK7")

	return &fixture{
		router: roster.New(roster.Options{Registry: reg, Groups: gs, Gateway: gate, Focuser: src, Logger: logger.Nop()}),
		reg:    reg,
		gate:   gate,
		src:    src,
	}
}

func (f *fixture) panel() Model {
	return New(context.Background(), Options{Roster: f.router, Conflicts: f.gate.Notify()})
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(Model)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestCursorMovementIsClamped(t *testing.T) {
	m := newFixture(t).panel()
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.cursor)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown}, runes("j"))
	assert.Equal(t, 1, m.cursor)
}

func TestFocusKeyRunsFocusCommand(t *testing.T) {
	f := newFixture(t)
	m := f.panel()
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	msg := cmd()
	fm, ok := msg.(focusMsg)
	require.True(t, ok)
	assert.True(t, fm.ok)
	assert.Equal(t, []model.FocusTarget{{PID: 20, Handle: 200}}, f.src.Focused())

	next, _ := m.Update(fm)
	assert.Contains(t, next.(Model).status, "focused DESK7")
}

func TestCategoryKeys(t *testing.T) {
	f := newFixture(t)
	m := f.panel()

	m, _ = press(t, m, runes("1"))
	ep, _ := f.reg.Get("e1")
	assert.Equal(t, model.CategoryUrgent, ep.Category)

	m, _ = press(t, m, runes("3"))
	ep, _ = f.reg.Get("e1")
	assert.Equal(t, model.CategoryWaiting, ep.Category)

	_, _ = press(t, m, runes("0"))
	ep, _ = f.reg.Get("e1")
	assert.Empty(t, ep.Category)
}

func TestLabelEntry(t *testing.T) {
	f := newFixture(t)
	m := f.panel()

	m, _ = press(t, m, runes("l"))
	assert.Equal(t, modeLabel, m.mode)
	m, _ = press(t, m, runes("front desk"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeBrowse, m.mode)

	ep, _ := f.reg.Get("e1")
	assert.Equal(t, "front desk", ep.CustomLabel)
	assert.Contains(t, m.View(), "front desk")
}

func TestLabelEntryEscapeCancels(t *testing.T) {
	f := newFixture(t)
	m := f.panel()
	m, _ = press(t, m, runes("l"), runes("nope"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeBrowse, m.mode)
	ep, _ := f.reg.Get("e1")
	assert.Empty(t, ep.CustomLabel)
}

func TestGroupEntryOrdersRoster(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.CreateGroup(context.Background(), "Clinic", "")
	require.NoError(t, err)
	m := f.panel()

	// Move DESK7 into Clinic; grouped endpoints are listed first.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, runes("g"), runes("clinic"), tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, m.endpoints, 2)
	assert.Equal(t, "e2", m.endpoints[0].ID)
	assert.Equal(t, 0, m.cursor, "cursor follows the moved endpoint")

	view := m.View()
	assert.Less(t, strings.Index(view, "Clinic"), strings.Index(view, "Ungrouped"))
}

func TestConflictPrompt(t *testing.T) {
	f := newFixture(t)
	m := f.panel()

	tk, err := f.gate.Propose(decision.Details{
		Reason:     decision.ReasonSameComputer,
		StableKey:  "teamviewer_PC1",
		ExistingID: "e1",
		Candidates: f.router.Endpoints()[:1],
		Incoming:   model.Identity{Window: model.RawWindow{Handle: 999, Title: "PC1 - TeamViewer"}},
	})
	require.NoError(t, err)

	next, cmd := m.Update(conflictMsg{})
	m = next.(Model)
	assert.NotNil(t, cmd, "keeps waiting for the next conflict")
	assert.Contains(t, m.View(), "another session of teamviewer_PC1")

	// A digit keeps the numbered candidate.
	m, _ = press(t, m, runes("1"))
	assert.Equal(t, decision.Choice{Kind: decision.KeepExisting, SelectedID: "e1"}, <-tk.Done())
	assert.Empty(t, m.pending)

	ep, _ := f.reg.Get("e1")
	assert.Empty(t, ep.Category, "digits answer the prompt, not the category")
}

func TestConflictPromptKeys(t *testing.T) {
	tests := []struct {
		key  string
		want decision.ChoiceKind
	}{
		{"k", decision.KeepExisting},
		{"u", decision.UpdateExisting},
		{"d", decision.Different},
		{"n", decision.Different},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			f := newFixture(t)
			m := f.panel()
			tk, err := f.gate.Propose(decision.Details{StableKey: "ezhelp_DESK7", Incoming: model.Identity{
				Window: model.RawWindow{Handle: 555},
			}})
			require.NoError(t, err)
			next, _ := m.Update(conflictMsg{})
			_, _ = press(t, next.(Model), runes(tt.key))
			assert.Equal(t, tt.want, (<-tk.Done()).Kind)
		})
	}
}

func TestDisplayOrderIgnoresUnknownGroups(t *testing.T) {
	eps := []model.Endpoint{{ID: "a", GroupID: "gone"}, {ID: "b", GroupID: "g1"}, {ID: "c"}}
	out := displayOrder(eps, []model.Group{{ID: "g1", Name: "One"}})
	var ids []string
	for _, ep := range out {
		ids = append(ids, ep.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestQuit(t *testing.T) {
	m := newFixture(t).panel()
	_, cmd := press(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
