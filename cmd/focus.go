package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/output"
)

var focusCmd = &cobra.Command{
	Use:   "focus <endpoint>",
	Short: "Bring a session's window to the foreground",
	Long: `Restore and raise the window of one session. The endpoint may be given by
id, id prefix, stable key (e.g. teamviewer_PC1_2) or display name.

A window that does not take focus within the focus timeout is reported
with ok: false.`,
	Args: cobra.ExactArgs(1),
	RunE: runFocus,
}

func init() {
	rootCmd.AddCommand(focusCmd)
}

func runFocus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	ep, err := a.router.Lookup(args[0])
	if err != nil {
		return err
	}
	ok, err := a.router.Focus(cmd.Context(), ep.ID)
	if err != nil {
		return err
	}
	res := output.ActionResult{OK: ok, Action: "focus", Endpoint: &ep}
	if !ok {
		res.Error = "window did not take focus"
	}
	return output.Print(res)
}
