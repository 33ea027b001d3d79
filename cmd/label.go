package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/output"
)

var labelCmd = &cobra.Command{
	Use:   "label <endpoint> [label...]",
	Short: "Set or clear a session's custom label",
	Long: `Set the label shown instead of the computer name. Omit the label to clear it.
Labels stay attached to the computer across reconnects.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	ep, err := a.router.SetLabel(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "label", Endpoint: &ep})
}
