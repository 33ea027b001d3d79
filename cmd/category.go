package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/output"
)

var categoryCmd = &cobra.Command{
	Use:   "category <endpoint> [urgent|in_progress|waiting|done|none]",
	Short: "Set or clear a session's category",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCategory,
}

func init() {
	rootCmd.AddCommand(categoryCmd)
}

func runCategory(cmd *cobra.Command, args []string) error {
	var value string
	if len(args) == 2 {
		value = args[1]
	}
	cat, err := model.ParseCategory(value)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	ep, err := a.router.SetCategory(cmd.Context(), args[0], cat)
	if err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "category", Endpoint: &ep})
}
