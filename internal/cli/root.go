// Package cli implements the scanmux command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/db"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "scanmux",
	Short: "scanmux — analysis task orchestration for generated applications",
	Long: `scanmux coordinates multi-tool analysis runs against generated applications:
it plans a submitted request, fans subtasks out to backend analyzer services
over websockets, tracks the task hierarchy in SQLite, and folds per-service
results into one aggregated report.

All state is stored in ~/.scanmux/ (SQLite for tasks and events, JSON for
result documents) unless the config says otherwise.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./scanmux.yaml, then ~/.scanmux/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig honours the --config flag, falling back to the default lookup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// openDatabase opens and migrates the task database at the configured path.
func openDatabase(cfg *config.Config) (*db.DB, func(), error) {
	path := cfg.DBPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("db path: %w", err)
		}
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return database, func() { database.Close() }, nil
}
