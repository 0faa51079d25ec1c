package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/spf13/cobra"
)

var noHandlers = []ports.PlatformHandler{}

const cliUser = "cli"

var submitCmd = &cobra.Command{
	Use:   "submit <description>",
	Short: "Plan a task and stage it for approval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List tasks, newest first",
	RunE:  runQueue,
}

var resultsCmd = &cobra.Command{
	Use:   "results <task_id>",
	Short: "Show a task's status and result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

var approveCmd = &cobra.Command{
	Use:   "approve <task_id>",
	Short: "Approve a staged task and run it",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task_id>",
	Short: "Cancel a task that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var logsCmd = &cobra.Command{
	Use:   "logs <task_id>",
	Short: "Print a task's log",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	submitCmd.Flags().Bool("auto-approve", false, "approve and execute immediately")
	queueCmd.Flags().String("status", "", "only tasks in this status")
	queueCmd.Flags().Bool("json", false, "print JSON")
	resultsCmd.Flags().Bool("show-output", false, "print the stored result document")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	description := strings.Join(args, " ")
	fmt.Fprintln(cmd.OutOrStdout(), "Planning task...")
	task, err := a.Trigger.SubmitTask(ctx, services.SubmitInput{Description: description, SubmittedBy: cliUser})
	if err != nil {
		return err
	}
	printTask(cmd, task)

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	if !autoApprove {
		fmt.Fprintf(cmd.OutOrStdout(), "\nRun `nightshift approve %s` to execute.\n", task.TaskID)
		return nil
	}
	return approveAndReport(ctx, cmd, a.Trigger, task.TaskID)
}

func runQueue(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status, _ := cmd.Flags().GetString("status")
	tasks, err := a.Queue.ListTasks(cmd.Context(), domain.TaskStatus(strings.ToLower(status)))
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tCREATED\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TaskID, t.Status, t.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(t.Description, 60))
	}
	return w.Flush()
}

func runResults(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.Queue.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), services.FormatTaskStatus(task))

	show, _ := cmd.Flags().GetBool("show-output")
	if !show || task.ResultPath == nil {
		return nil
	}
	path := *task.ResultPath
	if strings.HasPrefix(path, "sftp://") {
		fmt.Fprintf(cmd.OutOrStdout(), "\nResult stored remotely at %s\n", path)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", data)
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return approveAndReport(cmd.Context(), cmd, a.Trigger, args[0])
}

func approveAndReport(ctx context.Context, cmd *cobra.Command, trigger *services.TriggerService, taskID string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Executing %s...\n", taskID)
	result, err := trigger.ApproveAndExecute(ctx, taskID)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("task %s failed: %s", taskID, result.ErrorMessage)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s completed", taskID)
	if result.ExecutionTime != nil {
		fmt.Fprintf(cmd.OutOrStdout(), " in %.1fs", *result.ExecutionTime)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if result.OutputPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", result.OutputPath)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.Queue.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ok, err := a.Queue.Cancel(cmd.Context(), task.TaskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s is already %s", task.TaskID, task.Status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", task.TaskID)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Queue.GetTask(cmd.Context(), args[0]); err != nil {
		return err
	}
	logs, err := a.Queue.GetLogs(cmd.Context(), args[0], 0)
	if err != nil {
		return err
	}
	for _, l := range logs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", l.Timestamp.Local().Format("2006-01-02 15:04:05"), l.Level, l.Message)
	}
	return nil
}

func printTask(cmd *cobra.Command, t *domain.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:        %s\n", t.TaskID)
	fmt.Fprintf(out, "Status:      %s\n", t.Status)
	fmt.Fprintf(out, "Description: %s\n", t.Description)
	if len(t.AllowedTools) > 0 {
		fmt.Fprintf(out, "Tools:       %s\n", strings.Join(t.AllowedTools, ", "))
	}
	if t.EstimatedTokens != nil {
		fmt.Fprintf(out, "Est. tokens: %d\n", *t.EstimatedTokens)
	}
	if t.EstimatedTime != nil {
		fmt.Fprintf(out, "Est. time:   %ds\n", *t.EstimatedTime)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
