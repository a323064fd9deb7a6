// Package coordinator drives analysis runs end to end: it plans a submitted
// request, persists the task hierarchy, fans subtasks out to analyzer
// services with bounded parallelism, and folds terminal subtask state into an
// aggregated result. Joining is poll-based over the persisted rows, so a
// restarted process can pick runs back up from the database alone.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GrabowMar/scanmux/internal/analyzer"
	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/db"
	"github.com/GrabowMar/scanmux/internal/events"
	"github.com/GrabowMar/scanmux/internal/planner"
	"github.com/GrabowMar/scanmux/internal/resultstore"
	"github.com/GrabowMar/scanmux/internal/retry"
	"github.com/GrabowMar/scanmux/internal/runtime"
	"github.com/GrabowMar/scanmux/internal/task"

	"github.com/google/uuid"
)

// ErrNoRunnableTools is returned by Submit when planning leaves nothing to
// execute, either because no tools were requested or because the downgrade
// step dropped them all.
var ErrNoRunnableTools = errors.New("no runnable tools in request")

// Client is the analyzer transport the coordinator dispatches through.
// Implemented by analyzer.Pool.
type Client interface {
	Send(ctx context.Context, service string, req *analyzer.Request) (*analyzer.Response, error)
	HealthCheck(ctx context.Context, service string) (*analyzer.Response, error)
}

// Coordinator owns the run lifecycle from Submit to terminal fold.
type Coordinator struct {
	cfg     *config.Config
	db      *db.DB
	client  Client
	store   *resultstore.Store
	prov    runtime.Provisioner
	local   LocalRunner
	pub     *events.Publisher
	metrics *events.Metrics

	policy       retry.Policy
	pollInterval time.Duration
	sem          chan struct{} // global dispatch slots

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // by main task id

	wg sync.WaitGroup
}

// New wires a Coordinator. A nil local runner defaults to SkipRunner and a
// nil provisioner defaults to probing docker compose.
func New(cfg *config.Config, database *db.DB, client Client, store *resultstore.Store,
	prov runtime.Provisioner, local LocalRunner, pub *events.Publisher, metrics *events.Metrics) *Coordinator {

	if prov == nil {
		prov = runtime.NewComposeProvisioner(nil)
	}
	if local == nil {
		local = SkipRunner{}
	}

	policy := retry.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		BaseDelay:       config.ParseDuration(cfg.Retry.BaseDelay, 500*time.Millisecond),
		MaxDelay:        config.ParseDuration(cfg.Retry.MaxDelay, 10*time.Second),
		ExponentialBase: cfg.Retry.ExponentialBase,
		Retryable:       analyzer.Retryable,
	}

	return &Coordinator{
		cfg:          cfg,
		db:           database,
		client:       client,
		store:        store,
		prov:         prov,
		local:        local,
		pub:          pub,
		metrics:      metrics,
		policy:       policy,
		pollInterval: config.ParseDuration(cfg.Workers.PollInterval, 2*time.Second),
		sem:          make(chan struct{}, cfg.Workers.MaxConcurrent),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Submit plans a request, persists the main task and its subtasks, and starts
// the run in the background. The returned task is the main task in its
// initial pending state.
func (c *Coordinator) Submit(ctx context.Context, model string, app int, tools []string, priority string) (*task.Task, error) {
	plan := planner.Build(planner.NewContext(model, app, tools), c.cfg.ToolServiceMap(), config.LocalService)
	if !plan.HasWork() {
		return nil, ErrNoRunnableTools
	}

	plan, dropped := c.downgrade(ctx, plan)
	if !plan.HasWork() {
		return nil, fmt.Errorf("%w: runtime unavailable dropped %s", ErrNoRunnableTools, strings.Join(dropped, ", "))
	}

	meta := task.Metadata{
		Tools:        plan.AllTools(),
		LocalTools:   plan.LocalTools,
		DroppedTools: dropped,
		Priority:     priority,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	main := &task.Task{
		ID:       uuid.NewString(),
		IsMain:   true,
		Model:    model,
		App:      app,
		Status:   task.StatusPending,
		Metadata: string(metaJSON),
	}
	if err := c.db.CreateTask(main); err != nil {
		return nil, fmt.Errorf("create main task: %w", err)
	}

	if err := c.createSubtasks(main, plan); err != nil {
		return nil, err
	}

	c.metrics.TasksSubmitted.Inc()
	c.pub.Publish(main.ID, events.TypeStatusChange, "pending")
	if len(dropped) > 0 {
		c.metrics.Downgrades.Inc()
		c.pub.Publish(main.ID, events.TypeDowngrade,
			fmt.Sprintf("downgrading to static analysis only, kept: %s", strings.Join(meta.Tools, ", ")))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancels[main.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx, main.ID, plan)

	return main, nil
}

// createSubtasks persists one subtask per service delegation plus one for the
// local slot. Each subtask's metadata records the tools it owns so a resumed
// process can re-dispatch it.
func (c *Coordinator) createSubtasks(main *task.Task, plan *planner.Plan) error {
	add := func(service string, tools []string) error {
		metaJSON, err := json.Marshal(task.Metadata{Tools: tools})
		if err != nil {
			return fmt.Errorf("marshal subtask metadata: %w", err)
		}
		sub := &task.Task{
			ID:       uuid.NewString(),
			ParentID: main.ID,
			Service:  service,
			Model:    main.Model,
			App:      main.App,
			Status:   task.StatusPending,
			Metadata: string(metaJSON),
		}
		if err := c.db.CreateTask(sub); err != nil {
			return fmt.Errorf("create subtask for %s: %w", service, err)
		}
		return nil
	}

	for _, d := range plan.Delegations {
		if err := add(d.Service, d.Tools); err != nil {
			return err
		}
	}
	if len(plan.LocalTools) > 0 {
		if err := add(config.LocalService, plan.LocalTools); err != nil {
			return err
		}
	}
	return nil
}

// downgrade drops runtime-dependent tools when the container runtime for the
// target is not available. Returns the (possibly reduced) plan and the
// dropped tool names.
func (c *Coordinator) downgrade(ctx context.Context, plan *planner.Plan) (*planner.Plan, []string) {
	runtimeTools := c.cfg.RuntimeTools()

	var needed []string
	for _, tool := range plan.AllTools() {
		if runtimeTools[tool] {
			needed = append(needed, tool)
		}
	}
	if len(needed) == 0 {
		return plan, nil
	}

	probe := c.prov.Probe(ctx, plan.Context.Model, plan.Context.App)
	if probe.Available {
		return plan, nil
	}

	var kept []string
	for _, tool := range plan.AllTools() {
		if !runtimeTools[tool] {
			kept = append(kept, tool)
		}
	}
	sort.Strings(needed)

	reduced := planner.Build(plan.Context.WithTools(kept), c.cfg.ToolServiceMap(), config.LocalService)
	return reduced, needed
}

// Cancel marks a main task and its non-terminal subtasks cancelled and stops
// the in-flight run. Returns the number of rows transitioned.
func (c *Coordinator) Cancel(mainID string) (int, error) {
	n, err := c.db.CancelTree(mainID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	cancel := c.cancels[mainID]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if n > 0 {
		c.pub.Publish(mainID, events.TypeStatusChange, "cancelled")
	}
	return n, nil
}

// Resume restarts monitoring for main tasks that were non-terminal when the
// previous process exited. Pending subtasks are re-dispatched from their
// persisted metadata; subtasks caught mid-flight are failed, since their RPC
// no longer exists.
func (c *Coordinator) Resume(ctx context.Context) error {
	for _, status := range []task.Status{task.StatusPending, task.StatusRunning} {
		mains, err := c.db.ListMainTasks(status)
		if err != nil {
			return fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, main := range mains {
			subs, err := c.db.Subtasks(main.ID)
			if err != nil {
				return fmt.Errorf("load subtasks of %s: %w", main.ID, err)
			}
			for _, sub := range subs {
				if sub.Status != task.StatusRunning {
					continue
				}
				if err := c.db.SetError(sub.ID, "interrupted by restart"); err != nil {
					return err
				}
				if err := c.db.SetStatus(sub.ID, task.StatusFailed); err != nil {
					return err
				}
			}

			runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			c.mu.Lock()
			c.cancels[main.ID] = cancel
			c.mu.Unlock()

			c.wg.Add(1)
			go c.resumeRun(runCtx, main.ID)
		}
	}
	return nil
}

// Close waits for in-flight runs to finish. Pair with Cancel to stop them
// early.
func (c *Coordinator) Close() {
	c.wg.Wait()
}

// forget releases the cancel slot of a finished run.
func (c *Coordinator) forget(mainID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[mainID]; ok {
		cancel()
		delete(c.cancels, mainID)
	}
	c.mu.Unlock()
}
