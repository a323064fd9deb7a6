package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	Long: `Start the JSON API and the run coordinator. Non-terminal runs left behind
by a previous process are resumed from the database before the listener
comes up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			eng.cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := eng.coord.Resume(ctx); err != nil {
			return err
		}

		if interval := config.ParseDuration(eng.cfg.Pool.HealthCheckInterval, 30*time.Second); interval > 0 {
			go eng.pool.HealthLoop(ctx, interval)
		}

		srv := web.NewServer(eng.cfg, eng.db, eng.coord, eng.pool, eng.metrics)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
}
