package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/panel"
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Open the interactive mini panel",
	Long: `Track sessions and show them grouped in an interactive terminal panel.

Keys:
  ↑/↓ or j/k   move
  enter        focus the session's window
  1-4          category: urgent, in progress, waiting, done
  0            clear category
  l            edit label
  g            move to group (by name)
  q            quit

Conflict prompts appear in the panel and are answered with k (keep),
u (update), d (different) or the number of a candidate.`,
	Args: cobra.NoArgs,
	RunE: runPanel,
}

func init() {
	rootCmd.AddCommand(panelCmd)
}

func runPanel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchConfig()

	a.runEngine()

	m := panel.New(ctx, panel.Options{Roster: a.router, Conflicts: a.gate.Notify()})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("panel: %w", err)
	}
	return nil
}
