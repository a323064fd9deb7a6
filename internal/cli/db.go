package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, closeDB, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("refusing to reset without --force")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, closeDB, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := database.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database reset")
		return nil
	},
}

var dbEventsCmd = &cobra.Command{
	Use:   "events <task-id>",
	Short: "Show the event log of a task, newest first",
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

		evs, err := database.GetTaskEvents(args[0])
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}
		for _, e := range evs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Event, e.Detail)
		}
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("force", false, "Confirm the destructive reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbEventsCmd)
}
