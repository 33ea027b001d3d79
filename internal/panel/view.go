package panel

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/model"
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderRoster())

	if len(m.pending) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderPrompt(m.pending[0], len(m.pending)-1))
	}
	if m.mode != modeBrowse {
		b.WriteString("\n")
		b.WriteString(m.input.View())
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(m.theme.Warning).Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	live := 0
	for _, ep := range m.endpoints {
		if ep.Status.IsLive() {
			live++
		}
	}
	title := lipgloss.NewStyle().Foreground(m.theme.Primary).Bold(true).Render("support-roster")
	counts := lipgloss.NewStyle().Foreground(m.theme.Muted).
		Render(fmt.Sprintf("%d live / %d total", live, len(m.endpoints)))
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", counts)
}

func (m Model) renderRoster() string {
	if len(m.endpoints) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("no sessions") + "\n"
	}
	groups := make(map[string]model.Group, len(m.groups))
	for _, g := range m.groups {
		groups[g.ID] = g
	}

	var b strings.Builder
	current := "\x00"
	for i, ep := range m.endpoints {
		g, grouped := groups[ep.GroupID]
		gid := ""
		if grouped {
			gid = g.ID
		}
		if gid != current {
			current = gid
			if grouped {
				b.WriteString(m.theme.group(g).Render(g.Name))
			} else {
				b.WriteString(lipgloss.NewStyle().Foreground(m.theme.Muted).Bold(true).Render("Ungrouped"))
			}
			b.WriteString("\n")
		}
		b.WriteString(m.renderRow(ep, i == m.cursor))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(ep model.Endpoint, selected bool) string {
	cursor := "  "
	if selected {
		cursor = "> "
	}
	dot := m.theme.status(ep.Status).Render("●")
	name := ep.DisplayName()
	if selected {
		name = lipgloss.NewStyle().Bold(true).Render(name)
	}

	parts := []string{cursor + dot + " " + name}
	if ep.CustomLabel != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Muted).Render(ep.ComputerName))
	}
	if ep.IPAddress != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Muted).Render(ep.IPAddress))
	}
	if ep.Category != "" {
		parts = append(parts, m.theme.category(ep.Category).Render("["+string(ep.Category)+"]"))
	}
	if ep.Status == model.StatusDisconnected {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Muted).Render("disconnected"))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderPrompt(t *decision.Ticket, queued int) string {
	var b strings.Builder
	switch t.Reason {
	case decision.ReasonIPChanged:
		fmt.Fprintf(&b, "%s reconnected with a new IP %s\n", t.StableKey, t.IP)
	default:
		fmt.Fprintf(&b, "another session of %s appeared\n", t.StableKey)
	}
	fmt.Fprintf(&b, "window: %s\n", t.Title)
	for i, c := range t.Candidates {
		fmt.Fprintf(&b, "  %d) %s %s %s\n", i+1, c.DisplayName(), c.IPAddress, c.Status)
	}
	b.WriteString("[k]eep  [u]pdate  [d]ifferent session  [1-9] keep candidate")
	if queued > 0 {
		fmt.Fprintf(&b, "\n%d more waiting", queued)
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.Warning).
		Padding(0, 1).
		Render(b.String())
}

func (m Model) renderHelp() string {
	help := "↑/↓ move  enter focus  1-4 category  0 clear  l label  g group  q quit"
	if m.mode != modeBrowse {
		help = "enter save  esc cancel"
	}
	return lipgloss.NewStyle().Foreground(m.theme.Muted).Render(help)
}
