package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/output"
	"github.com/mj1618/support-roster/internal/platform"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote-support sessions",
	Long: `Take one snapshot of the desktop and print the roster: every ezHelp and
TeamViewer session with its status, group, category and label.

With --raw, print the unclassified top-level windows instead.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("raw", false, "List raw top-level windows instead of the roster")
	listCmd.Flags().Int("pid", 0, "Filter raw windows by PID")
	listCmd.Flags().String("process", "", "Filter raw windows by process name")
	listCmd.Flags().String("title", "", "Filter raw windows by title substring")
	listCmd.Flags().Bool("visible", false, "Only visible raw windows")
	listCmd.Flags().String("status", "", "Filter sessions by status: connected, reconnected, disconnected, live")
	listCmd.Flags().Bool("pretty", false, "Pretty-print output (no-op for YAML)")
}

func runList(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetBool("raw")
	if raw {
		return runListRaw(cmd)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	status, _ := cmd.Flags().GetString("status")
	eps, err := filterStatus(a.router.Endpoints(), status)
	if err != nil {
		return err
	}
	return output.Print(output.NewRosterResult(eps, a.router.Groups(), a.router.Pending()))
}

func runListRaw(cmd *cobra.Command) error {
	source, _, err := openBackend()
	if err != nil {
		return err
	}
	pid, _ := cmd.Flags().GetInt("pid")
	process, _ := cmd.Flags().GetString("process")
	title, _ := cmd.Flags().GetString("title")
	visible, _ := cmd.Flags().GetBool("visible")

	windows, err := source.Detect(cmd.Context())
	if err != nil {
		return err
	}
	windows = platform.FilterWindows(windows, platform.ListOptions{
		PID:     pid,
		Process: process,
		Title:   title,
		Visible: visible,
	})
	if windows == nil {
		windows = []model.RawWindow{}
	}
	return output.Print(output.WindowsResult{TS: nowUnix(), Windows: windows})
}
