package panel

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mj1618/support-roster/internal/model"
)

// Theme defines the panel colors.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default panel theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

func (t Theme) status(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusConnected:
		return lipgloss.NewStyle().Foreground(t.Success)
	case model.StatusReconnected:
		return lipgloss.NewStyle().Foreground(t.Secondary)
	default:
		return lipgloss.NewStyle().Foreground(t.Muted)
	}
}

func (t Theme) category(c model.Category) lipgloss.Style {
	switch c {
	case model.CategoryUrgent:
		return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
	case model.CategoryInProgress:
		return lipgloss.NewStyle().Foreground(t.Warning)
	case model.CategoryWaiting:
		return lipgloss.NewStyle().Foreground(t.Secondary)
	default:
		return lipgloss.NewStyle().Foreground(t.Success)
	}
}

func (t Theme) group(g model.Group) lipgloss.Style {
	color := t.Primary
	if g.Color != "" {
		color = lipgloss.Color(g.Color)
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}
