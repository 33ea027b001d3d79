package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/output"
)

var groupsCmd = &cobra.Command{
	Use:     "groups",
	Aliases: []string{"group"},
	Short:   "Manage session groups",
	Long: `Create, rename and delete groups, and move sessions between them.
Group membership is remembered per computer across reconnects.`,
	RunE: runGroupsList,
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	Args:  cobra.NoArgs,
	RunE:  runGroupsList,
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsCreate,
}

var groupsRenameCmd = &cobra.Command{
	Use:   "rename <group> <name>",
	Short: "Rename a group",
	Args:  cobra.ExactArgs(2),
	RunE:  runGroupsRename,
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group>",
	Short: "Delete a group",
	Long:  "Delete a group. A group with members is only deleted with --force; its members become ungrouped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsDelete,
}

var groupsAssignCmd = &cobra.Command{
	Use:   "assign <endpoint> [group]",
	Short: "Move a session into a group, or out of any group",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGroupsAssign,
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd, groupsCreateCmd, groupsRenameCmd, groupsDeleteCmd, groupsAssignCmd)
	groupsCreateCmd.Flags().String("color", "", "Display color, e.g. #3b82f6")
	groupsDeleteCmd.Flags().Bool("force", false, "Delete even when the group has members")
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	groups := a.router.Groups()
	if groups == nil {
		groups = []model.Group{}
	}
	return output.Print(map[string]interface{}{"groups": groups})
}

func runGroupsCreate(cmd *cobra.Command, args []string) error {
	color, _ := cmd.Flags().GetString("color")
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.router.CreateGroup(cmd.Context(), args[0], color)
	if err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "create_group", Group: &g})
}

func runGroupsRename(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.router.RenameGroup(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	g, err := a.router.LookupGroup(args[1])
	if err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "rename_group", Group: &g})
}

func runGroupsDelete(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.router.LookupGroup(args[0])
	if err != nil {
		return err
	}
	// Live members must be in the registry for their group to be cleared.
	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	if err := a.router.DeleteGroup(cmd.Context(), g.ID, force); err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "delete_group", Group: &g})
}

func runGroupsAssign(cmd *cobra.Command, args []string) error {
	var groupRef string
	if len(args) == 2 {
		groupRef = args[1]
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.pollOnce(); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	ep, err := a.router.AssignGroup(cmd.Context(), args[0], groupRef)
	if err != nil {
		return err
	}
	return output.Print(output.ActionResult{OK: true, Action: "assign_group", Endpoint: &ep})
}
