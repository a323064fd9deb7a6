package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a run and its pending subtasks",
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

		if _, err := database.GetTask(args[0]); err != nil {
			return err
		}
		n, err := database.CancelTree(args[0])
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to cancel; task already terminal")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d task(s)\n", n)
		return nil
	},
}
