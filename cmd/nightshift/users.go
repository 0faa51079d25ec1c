package main

import (
	"fmt"

	"github.com/nightshift/backend/internal/core/services"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user permissions and quotas",
}

var usersGrantCmd = &cobra.Command{
	Use:   "grant <user_id> <permission>",
	Short: "Grant a permission to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.UserMapper.GrantPermission(cmd.Context(), args[0], args[1], cliUser); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s\n", args[1], args[0])
		return nil
	},
}

var usersQuotaCmd = &cobra.Command{
	Use:   "quota <user_id>",
	Short: "Show or change a user's quota",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersQuota,
}

func init() {
	usersQuotaCmd.Flags().Int("tasks-per-day", 0, "maximum tasks submitted per 24h")
	usersQuotaCmd.Flags().Int("tokens-per-task", 0, "maximum tokens per task")
	usersQuotaCmd.Flags().Int("concurrent", 0, "maximum tasks committed or running at once")
	usersCmd.AddCommand(usersGrantCmd, usersQuotaCmd)
}

func runUsersQuota(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	userID := args[0]

	var upd services.QuotaUpdate
	changed := false
	flag := func(name string) *int {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetInt(name)
		changed = true
		return &v
	}
	upd.MaxTasksPerDay = flag("tasks-per-day")
	upd.MaxTokensPerTask = flag("tokens-per-task")
	upd.MaxConcurrentTasks = flag("concurrent")

	if changed {
		q, err := a.UserMapper.SetQuota(ctx, userID, upd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated quota for %s\n", userID)
		fmt.Fprintf(cmd.OutOrStdout(), "  tasks/day: %d\n  tokens/task: %d\n  concurrent: %d\n", q.MaxTasksPerDay, q.MaxTokensPerTask, q.MaxConcurrentTasks)
		return nil
	}

	q, err := a.UserMapper.GetQuota(ctx, userID)
	if err != nil {
		return err
	}
	if q == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No quota stored for %s (defaults apply)\n", userID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Quota for %s\n", userID)
	fmt.Fprintf(cmd.OutOrStdout(), "  tasks/day: %d\n  tokens/task: %d\n  concurrent: %d\n", q.MaxTasksPerDay, q.MaxTokensPerTask, q.MaxConcurrentTasks)
	return nil
}
