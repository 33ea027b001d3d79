// Package panel is the interactive mini panel: the roster grouped by group,
// with keys to focus, tag and label sessions and a prompt for conflicts.
package panel

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/model"
)

// Roster is the command surface the panel drives.
type Roster interface {
	Endpoints() []model.Endpoint
	Groups() []model.Group
	Pending() []*decision.Ticket
	Focus(ctx context.Context, ref string) (bool, error)
	SetLabel(ctx context.Context, ref, label string) (model.Endpoint, error)
	SetCategory(ctx context.Context, ref string, cat model.Category) (model.Endpoint, error)
	AssignGroup(ctx context.Context, ref, groupRef string) (model.Endpoint, error)
	Answer(ticketID, answer string) (decision.Choice, error)
}

type Options struct {
	Roster Roster
	// Conflicts fires when the presented conflict changes.
	Conflicts <-chan struct{}
	// Refresh is the redraw interval. Defaults to one second.
	Refresh time.Duration
	Theme   *Theme
}

type mode int

const (
	modeBrowse mode = iota
	modeLabel
	modeGroup
)

// tickMsg triggers a roster reload.
type tickMsg time.Time

// conflictMsg is sent when the gateway presents a new ticket.
type conflictMsg struct{}

// focusMsg carries the result of a focus request.
type focusMsg struct {
	name string
	ok   bool
	err  error
}

// Model is the Bubble Tea model for the mini panel.
type Model struct {
	ctx       context.Context
	roster    Roster
	conflicts <-chan struct{}
	refresh   time.Duration
	theme     Theme

	endpoints []model.Endpoint // display order
	groups    []model.Group
	pending   []*decision.Ticket

	cursor int
	mode   mode
	input  textinput.Model
	status string

	width  int
	height int
}

// New builds the panel and loads the current roster.
func New(ctx context.Context, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}
	theme := DefaultTheme()
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	input := textinput.New()
	input.CharLimit = model.MaxGroupNameLen
	input.Prompt = "> "

	m := Model{
		ctx:       ctx,
		roster:    opts.Roster,
		conflicts: opts.Conflicts,
		refresh:   opts.Refresh,
		theme:     theme,
		input:     input,
	}
	m.reload()
	return m
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitConflict(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return conflictMsg{}
	}
}

func focusCmd(ctx context.Context, r Roster, ep model.Endpoint) tea.Cmd {
	return func() tea.Msg {
		ok, err := r.Focus(ctx, ep.ID)
		return focusMsg{name: ep.DisplayName(), ok: ok, err: err}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.refresh), waitConflict(m.conflicts))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.reload()
		return m, tickCmd(m.refresh)

	case conflictMsg:
		m.reload()
		return m, waitConflict(m.conflicts)

	case focusMsg:
		switch {
		case msg.err != nil:
			m.status = "focus failed: " + msg.err.Error()
		case !msg.ok:
			m.status = msg.name + " did not take focus"
		default:
			m.status = "focused " + msg.name
		}
	}
	return m, nil
}

// reload pulls the roster, keeping the cursor on the same endpoint.
func (m *Model) reload() {
	selected := ""
	if ep, ok := m.selected(); ok {
		selected = ep.ID
	}
	m.groups = m.roster.Groups()
	m.endpoints = displayOrder(m.roster.Endpoints(), m.groups)
	m.pending = m.roster.Pending()

	m.cursor = min(m.cursor, max(len(m.endpoints)-1, 0))
	for i, ep := range m.endpoints {
		if ep.ID == selected {
			m.cursor = i
			break
		}
	}
}

func (m Model) selected() (model.Endpoint, bool) {
	if m.cursor < 0 || m.cursor >= len(m.endpoints) {
		return model.Endpoint{}, false
	}
	return m.endpoints[m.cursor], true
}

// displayOrder lists grouped endpoints group by group, then the ungrouped.
func displayOrder(eps []model.Endpoint, groups []model.Group) []model.Endpoint {
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g.ID] = true
	}
	byGroup := make(map[string][]model.Endpoint)
	for _, ep := range eps {
		gid := ep.GroupID
		if !known[gid] {
			gid = ""
		}
		byGroup[gid] = append(byGroup[gid], ep)
	}
	out := make([]model.Endpoint, 0, len(eps))
	for _, g := range groups {
		out = append(out, byGroup[g.ID]...)
	}
	return append(out, byGroup[""]...)
}
