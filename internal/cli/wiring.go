package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/scanmux/internal/analyzer"
	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/coordinator"
	"github.com/GrabowMar/scanmux/internal/db"
	"github.com/GrabowMar/scanmux/internal/events"
	"github.com/GrabowMar/scanmux/internal/resultstore"
)

// engine bundles the wired orchestration stack for commands that run it
// in-process.
type engine struct {
	cfg     *config.Config
	db      *db.DB
	pool    *analyzer.Pool
	store   *resultstore.Store
	pub     *events.Publisher
	metrics *events.Metrics
	coord   *coordinator.Coordinator
}

// newEngine loads config and wires the full stack. The returned cleanup
// closes everything in reverse order.
func newEngine(cmd *cobra.Command) (*engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}

	database, closeDB, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := resultstore.NewStore(cfg.DataDir)
	if cfg.DataDir == "" {
		store, err = resultstore.DefaultStore()
		if err != nil {
			closeDB()
			return nil, nil, err
		}
	}

	endpoints := make(map[string][]string, len(cfg.Services))
	for _, svc := range cfg.Services {
		endpoints[svc.Name] = svc.Endpoints
	}
	timeout := config.ParseDuration(cfg.Pool.RequestTimeout, 30*time.Second)
	pool := analyzer.NewPool(endpoints, timeout)

	metrics := events.NewMetrics()

	// Lifecycle events land in the task_events table; publish failures are
	// dropped, never surfaced to the run.
	sink := events.SinkFunc(func(e events.Event) error {
		return database.LogTaskEvent(e.TaskID, e.Type, e.Detail)
	})
	pub := events.NewPublisher(sink, events.DefaultBuffer, metrics)

	coord := coordinator.New(cfg, database, pool, store, nil, nil, pub, metrics)

	eng := &engine{
		cfg:     cfg,
		db:      database,
		pool:    pool,
		store:   store,
		pub:     pub,
		metrics: metrics,
		coord:   coord,
	}
	cleanup := func() {
		eng.coord.Close()
		eng.pool.Close()
		eng.pub.Close()
		closeDB()
	}
	return eng, cleanup, nil
}
