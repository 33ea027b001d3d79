package panel

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/model"
)

// handleKeyPress processes keyboard input. Text entry takes precedence over
// a pending conflict, which takes precedence over browsing.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch {
	case m.mode != modeBrowse:
		return m.handleInputKeys(msg)
	case len(m.pending) > 0:
		return m.handlePromptKeys(key)
	default:
		return m.handleBrowseKeys(key)
	}
}

func (m Model) handleBrowseKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.endpoints)-1 {
			m.cursor++
		}
	case "r":
		m.reload()
	case "enter", "f":
		if ep, ok := m.selected(); ok {
			m.status = "focusing " + ep.DisplayName() + "..."
			return m, focusCmd(m.ctx, m.roster, ep)
		}
	case "1", "2", "3", "4":
		n, _ := strconv.Atoi(key)
		m.setCategory(model.Categories[n-1])
	case "0", "x":
		m.setCategory("")
	case "l":
		if ep, ok := m.selected(); ok {
			m.mode = modeLabel
			m.input.Placeholder = "label (empty clears)"
			m.input.SetValue(ep.CustomLabel)
			m.input.CursorEnd()
			return m, tea.Batch(m.input.Focus(), textinput.Blink)
		}
	case "g":
		if _, ok := m.selected(); ok {
			m.mode = modeGroup
			m.input.Placeholder = "group name (empty ungroups)"
			m.input.SetValue("")
			return m, tea.Batch(m.input.Focus(), textinput.Blink)
		}
	}
	return m, nil
}

func (m *Model) setCategory(cat model.Category) {
	ep, ok := m.selected()
	if !ok {
		return
	}
	if _, err := m.roster.SetCategory(m.ctx, ep.ID, cat); err != nil {
		m.status = err.Error()
		return
	}
	if cat == "" {
		m.status = "cleared category of " + ep.DisplayName()
	} else {
		m.status = fmt.Sprintf("%s is %s", ep.DisplayName(), cat)
	}
	m.reload()
}

func (m Model) handleInputKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.applyInput()
		m.mode = modeBrowse
		m.input.Blur()
		m.reload()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applyInput() {
	ep, ok := m.selected()
	if !ok {
		return
	}
	value := m.input.Value()
	var err error
	switch m.mode {
	case modeLabel:
		_, err = m.roster.SetLabel(m.ctx, ep.ID, value)
		if err == nil {
			m.status = "labelled " + ep.ComputerName
		}
	case modeGroup:
		_, err = m.roster.AssignGroup(m.ctx, ep.ID, value)
		if err == nil {
			m.status = "moved " + ep.DisplayName()
		}
	}
	if err != nil {
		m.status = err.Error()
	}
}

// handlePromptKeys answers the presented conflict. A digit keeps the
// numbered candidate.
func (m Model) handlePromptKeys(key string) (tea.Model, tea.Cmd) {
	t := m.pending[0]
	var answer string
	switch key {
	case "q":
		return m, tea.Quit
	case "k":
		answer = string(decision.KeepExisting)
	case "u":
		answer = string(decision.UpdateExisting)
	case "d", "n":
		answer = string(decision.Different)
	default:
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > len(t.Candidates) {
			return m, nil
		}
		answer = fmt.Sprintf("%s:%s", decision.KeepExisting, t.Candidates[n-1].ID)
	}
	c, err := m.roster.Answer(t.ID, answer)
	if err != nil {
		m.status = err.Error()
	} else {
		m.status = "answered " + c.String()
	}
	m.reload()
	return m, nil
}
