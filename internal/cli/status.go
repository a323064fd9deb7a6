package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/scanmux/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show one task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, closeDB, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		main, err := database.GetTask(args[0])
		if err != nil {
			return err
		}
		subs, err := database.Subtasks(main.ID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(struct {
				*task.Task
				Subtasks []task.Task `json:"subtasks,omitempty"`
			}{main, subs}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "task:     %s\n", main.ID)
		fmt.Fprintf(w, "target:   %s/app%d\n", main.Model, main.App)
		fmt.Fprintf(w, "status:   %s (%d%%)\n", main.Status, main.Progress)
		if main.ErrorMessage != "" {
			fmt.Fprintf(w, "error:    %s\n", main.ErrorMessage)
		}
		if len(subs) > 0 {
			fmt.Fprintln(w, "subtasks:")
			for _, sub := range subs {
				line := fmt.Sprintf("  %-20s %-16s %3d%%", sub.Service, sub.Status, sub.Progress)
				if sub.ErrorMessage != "" {
					line += "  " + sub.ErrorMessage
				}
				fmt.Fprintln(w, line)
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, closeDB, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		var filter task.Status
		if q, _ := cmd.Flags().GetString("status"); q != "" {
			filter = task.Status(q)
			if !filter.Valid() {
				return fmt.Errorf("unknown status: %s", q)
			}
		}

		tasks, err := database.ListMainTasks(filter)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(tasks, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-28s %-16s %-5s %s\n", "ID", "TARGET", "STATUS", "PROG", "CREATED")
		fmt.Fprintf(w, "%-36s %-28s %-16s %-5s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 28),
			strings.Repeat("-", 16),
			strings.Repeat("-", 5),
			strings.Repeat("-", 7))
		for _, t := range tasks {
			target := fmt.Sprintf("%s/app%d", t.Model, t.App)
			if len(target) > 28 {
				target = target[:25] + "..."
			}
			fmt.Fprintf(w, "%-36s %-28s %-16s %4d%% %s\n",
				t.ID, target, t.Status, t.Progress, t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	listCmd.Flags().String("status", "", "Filter by status")
	listCmd.Flags().String("format", "text", "Output format: text or json")
}
