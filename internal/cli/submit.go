package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/scanmux/internal/aggregate"
	"github.com/GrabowMar/scanmux/internal/task"
)

var submitCmd = &cobra.Command{
	Use:   "submit <model> <app>",
	Short: "Run an analysis request in-process and wait for the result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := args[0]
		var app int
		if _, err := fmt.Sscanf(args[1], "%d", &app); err != nil || app < 1 {
			return fmt.Errorf("app must be a positive number, got %q", args[1])
		}

		eng, cleanup, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		tools, _ := cmd.Flags().GetStringSlice("tools")
		profile, _ := cmd.Flags().GetString("profile")
		priority, _ := cmd.Flags().GetString("priority")
		if profile != "" {
			tools = eng.cfg.ResolveProfile(profile)
			if len(tools) == 0 {
				return fmt.Errorf("unknown profile: %s", profile)
			}
		}
		if len(tools) == 0 {
			return fmt.Errorf("either --tools or --profile is required")
		}

		main, err := eng.coord.Submit(cmd.Context(), model, app, tools, priority)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "submitted task %s\n", main.ID)

		got, err := waitForTerminal(cmd.Context(), eng, main.ID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			fmt.Fprintln(cmd.OutOrStdout(), got.ResultSummary)
			return nil
		}
		printResult(cmd, got)
		return nil
	},
}

// waitForTerminal polls the task row until the run finishes.
func waitForTerminal(ctx context.Context, eng *engine, id string) (*task.Task, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		got, err := eng.db.GetTask(id)
		if err != nil {
			return nil, err
		}
		if got.Status.Terminal() {
			return got, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func printResult(cmd *cobra.Command, got *task.Task) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "task %s finished: %s\n", got.ID, got.Status)

	var res aggregate.Result
	if got.ResultSummary == "" || json.Unmarshal([]byte(got.ResultSummary), &res) != nil {
		if got.ErrorMessage != "" {
			fmt.Fprintf(w, "error: %s\n", got.ErrorMessage)
		}
		return
	}

	fmt.Fprintf(w, "services: %d succeeded, %d failed\n", res.SuccessCount, res.FailureCount)
	fmt.Fprintf(w, "findings: %d (critical=%d high=%d medium=%d low=%d info=%d)\n",
		res.Summary.TotalFindings,
		res.Summary.Severity.Critical, res.Summary.Severity.High,
		res.Summary.Severity.Medium, res.Summary.Severity.Low,
		res.Summary.Severity.Info)
	if len(res.DroppedTools) > 0 {
		fmt.Fprintf(w, "dropped tools: %v\n", res.DroppedTools)
	}
	for _, svc := range res.Services {
		fmt.Fprintf(w, "  %-20s %s", svc.Service, svc.Status)
		if svc.Error != "" {
			fmt.Fprintf(w, " (%s)", svc.Error)
		}
		fmt.Fprintln(w)
	}
}

func init() {
	submitCmd.Flags().StringSlice("tools", nil, "Tools to run (comma-separated)")
	submitCmd.Flags().String("profile", "", "Named tool profile from the config")
	submitCmd.Flags().String("priority", "", "Request priority recorded in task metadata")
	submitCmd.Flags().String("format", "text", "Output format: text or json")
}
