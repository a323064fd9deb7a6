package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GrabowMar/scanmux/internal/aggregate"
	"github.com/GrabowMar/scanmux/internal/analyzer"
	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/events"
	"github.com/GrabowMar/scanmux/internal/planner"
	"github.com/GrabowMar/scanmux/internal/task"
)

// run executes a freshly submitted main task to completion.
func (c *Coordinator) run(ctx context.Context, mainID string, plan *planner.Plan) {
	defer c.wg.Done()
	defer c.forget(mainID)
	c.metrics.ActiveRuns.Inc()
	defer c.metrics.ActiveRuns.Dec()

	if err := c.db.SetStatus(mainID, task.StatusRunning); err != nil {
		return
	}
	c.pub.Publish(mainID, events.TypeStatusChange, "running")

	subs, err := c.db.Subtasks(mainID)
	if err != nil {
		return
	}
	c.dispatchAll(ctx, subs)
	c.monitor(ctx, mainID, len(subs))
}

// resumeRun picks a persisted run back up after a restart: pending subtasks
// are re-dispatched from their stored metadata, everything else is joined by
// polling as usual.
func (c *Coordinator) resumeRun(ctx context.Context, mainID string) {
	defer c.wg.Done()
	defer c.forget(mainID)
	c.metrics.ActiveRuns.Inc()
	defer c.metrics.ActiveRuns.Dec()

	if err := c.db.SetStatus(mainID, task.StatusRunning); err != nil {
		return
	}

	subs, err := c.db.Subtasks(mainID)
	if err != nil {
		return
	}
	c.dispatchAll(ctx, subs)
	c.monitor(ctx, mainID, len(subs))
}

// dispatchAll starts one goroutine per pending subtask, gated by the per-run
// limit and the global dispatch slots.
func (c *Coordinator) dispatchAll(ctx context.Context, subs []task.Task) {
	perRun := c.cfg.Workers.PerRunLimit
	if perRun <= 0 {
		perRun = len(subs)
	}
	runSem := make(chan struct{}, perRun)

	for i := range subs {
		sub := subs[i]
		if sub.Status != task.StatusPending {
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			select {
			case runSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-runSem }()
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-c.sem }()
			c.dispatch(ctx, &sub)
		}()
	}
}

// dispatch runs one subtask to a terminal state.
func (c *Coordinator) dispatch(ctx context.Context, sub *task.Task) {
	// The row may have been cancelled while this subtask waited for a slot.
	fresh, err := c.db.GetTask(sub.ID)
	if err != nil || fresh.Status.Terminal() {
		return
	}

	if err := c.db.SetStatus(sub.ID, task.StatusRunning); err != nil {
		return
	}
	c.metrics.SubtaskDispatches.WithLabelValues(sub.Service).Inc()
	c.pub.Publish(sub.ID, events.TypeDispatch, sub.Service)

	var meta task.Metadata
	if sub.Metadata != "" {
		_ = json.Unmarshal([]byte(sub.Metadata), &meta)
	}

	var outcome aggregate.Outcome
	if sub.Service == config.LocalService {
		outcome = c.local.Run(ctx, sub.Model, sub.App, meta.Tools)
	} else {
		outcome = c.callService(ctx, sub, meta.Tools)
	}

	c.persistOutcome(sub.ID, outcome)
}

// callService performs the correlated RPC for one delegation, with retries on
// transport failures. Tool-level failures reported by the service are final.
func (c *Coordinator) callService(ctx context.Context, sub *task.Task, tools []string) aggregate.Outcome {
	req := &analyzer.Request{
		Type: analyzer.TypeRunTool,
		Payload: &analyzer.RunToolPayload{
			Model: sub.Model,
			App:   sub.App,
			Tools: tools,
		},
	}

	var resp *analyzer.Response
	attempts := 0
	err := c.policy.Do(ctx, func() error {
		attempts++
		if attempts > 1 {
			c.metrics.Retries.Inc()
			c.pub.Publish(sub.ID, events.TypeRetry,
				fmt.Sprintf("attempt %d against %s", attempts, sub.Service))
		}
		r, sendErr := c.client.Send(ctx, sub.Service, req)
		if sendErr != nil {
			return sendErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return aggregate.Outcome{Service: sub.Service, Status: "failed", Error: err.Error()}
	}
	if !resp.OK() {
		return aggregate.Outcome{Service: sub.Service, Status: "failed", Error: resp.Error}
	}
	return c.outcomeFromResponse(sub, resp)
}

// outcomeFromResponse converts a run_tool response into an outcome, writing
// each tool's raw document to the result store and keeping only condensed
// snapshots in the outcome itself.
func (c *Coordinator) outcomeFromResponse(sub *task.Task, resp *analyzer.Response) aggregate.Outcome {
	out := aggregate.Outcome{Service: sub.Service, Status: "completed"}

	for _, tr := range resp.Tools {
		snap := aggregate.ToolSnapshot{
			Tool:         tr.Tool,
			Status:       tr.Status,
			FindingCount: len(tr.Findings),
			Error:        tr.Error,
		}
		if len(tr.RawOutput) > 0 {
			snap.OutputHead = aggregate.SnapshotOutput(string(tr.RawOutput))
			c.storeRawOutput(sub, tr.Tool, tr.RawOutput)
		}
		out.Tools = append(out.Tools, snap)

		for _, f := range tr.Findings {
			f.Tool = tr.Tool
			f.Severity = task.NormalizeSeverity(f.Severity)
			out.Findings = append(out.Findings, f)
		}
	}
	return out
}

// storeRawOutput writes one tool's raw document under the main task's
// directory. SARIF-shaped documents get their known severity corrections
// applied first. Storage failures are reported as events, not errors; the
// run's findings are already captured in the outcome.
func (c *Coordinator) storeRawOutput(sub *task.Task, tool string, raw json.RawMessage) {
	var doc aggregate.Document
	if err := json.Unmarshal(raw, &doc); err == nil && len(doc.Runs) > 0 {
		aggregate.RemapSeverities(&doc)
		if _, err := c.store.WriteToolResult(sub.Model, sub.App, sub.ParentID, tool, doc); err != nil {
			c.pub.Publish(sub.ID, events.TypeStatusChange, fmt.Sprintf("store %s: %v", tool, err))
		}
		return
	}
	if _, err := c.store.WriteToolResult(sub.Model, sub.App, sub.ParentID, tool, raw); err != nil {
		c.pub.Publish(sub.ID, events.TypeStatusChange, fmt.Sprintf("store %s: %v", tool, err))
	}
}

// persistOutcome records a subtask's terminal state. If the row went terminal
// in the meantime (cancellation) the outcome is discarded.
func (c *Coordinator) persistOutcome(subID string, outcome aggregate.Outcome) {
	fresh, err := c.db.GetTask(subID)
	if err != nil || fresh.Status.Terminal() {
		return
	}

	if data, err := json.Marshal(outcome); err == nil {
		_ = c.db.SetResultSummary(subID, string(data))
	}

	status := task.StatusCompleted
	switch outcome.Status {
	case "failed", "cancelled":
		status = task.StatusFailed
		_ = c.db.SetError(subID, outcome.Error)
	}
	if err := c.db.SetStatus(subID, status); err != nil {
		return
	}
	_ = c.db.SetProgress(subID, 100)
	c.pub.Publish(subID, events.TypeStatusChange, string(status))
}

// monitor polls the persisted subtask rows until all are terminal or the run
// is cancelled, maintaining the main task's progress along the way.
func (c *Coordinator) monitor(ctx context.Context, mainID string, expected int) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if c.poll(mainID, expected) {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			// One settling poll so rows cancelled by CancelTree are
			// observed before the monitor exits.
			c.poll(mainID, expected)
			return
		}
	}
}

// poll performs one observation of a run. Returns true when the run reached a
// terminal state.
func (c *Coordinator) poll(mainID string, expected int) bool {
	main, err := c.db.GetTask(mainID)
	if err != nil {
		return true
	}
	if main.Status == task.StatusCancelled {
		c.metrics.TasksCompleted.WithLabelValues(string(task.StatusCancelled)).Inc()
		return true
	}

	subs, err := c.db.Subtasks(mainID)
	if err != nil {
		return false
	}

	done := 0
	for _, sub := range subs {
		if sub.Status.Terminal() {
			done++
		}
	}
	if expected > 0 {
		progress := done * 100 / expected
		if progress > 100 {
			progress = 100
		}
		_ = c.db.SetProgress(mainID, progress)
	}

	if done < len(subs) {
		c.pub.Publish(mainID, events.TypeHeartbeat, fmt.Sprintf("%d/%d subtasks terminal", done, expected))
		return false
	}

	c.finalize(main, subs)
	return true
}

// finalize folds terminal subtask state into the aggregated result and marks
// the main task terminal.
func (c *Coordinator) finalize(main *task.Task, subs []task.Task) {
	outcomes := make([]aggregate.Outcome, 0, len(subs))
	for _, sub := range subs {
		var out aggregate.Outcome
		if sub.ResultSummary != "" && json.Unmarshal([]byte(sub.ResultSummary), &out) == nil {
			outcomes = append(outcomes, out)
			continue
		}
		outcomes = append(outcomes, aggregate.Outcome{
			Service: sub.Service,
			Status:  string(sub.Status),
			Error:   sub.ErrorMessage,
		})
	}

	var meta task.Metadata
	if main.Metadata != "" {
		_ = json.Unmarshal([]byte(main.Metadata), &meta)
	}

	res, err := aggregate.Fold(outcomes, meta.DroppedTools)
	if err != nil {
		_ = c.db.SetError(main.ID, err.Error())
		if c.db.SetStatus(main.ID, task.StatusFailed) == nil {
			c.metrics.TasksCompleted.WithLabelValues(string(task.StatusFailed)).Inc()
		}
		return
	}

	payload := struct {
		*aggregate.Result
		SummaryPath string `json:"summary_path,omitempty"`
	}{Result: res}
	if path, err := c.store.WriteSummary(main.Model, main.App, main.ID, res); err == nil {
		payload.SummaryPath = path
	}
	if data, err := json.Marshal(payload); err == nil {
		_ = c.db.SetResultSummary(main.ID, string(data))
	}

	_ = c.db.SetProgress(main.ID, 100)
	if err := c.db.SetStatus(main.ID, res.OverallStatus); err != nil {
		// A cancellation landed between the last poll and this write; the
		// row's terminal status wins over the fold.
		return
	}
	c.metrics.TasksCompleted.WithLabelValues(string(res.OverallStatus)).Inc()
	c.pub.Publish(main.ID, events.TypeAggregated,
		fmt.Sprintf("%d findings across %d services", res.Summary.TotalFindings, res.Summary.ServicesExecuted))
	c.pub.Publish(main.ID, events.TypeStatusChange, string(res.OverallStatus))
}
