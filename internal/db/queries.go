package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GrabowMar/scanmux/internal/task"
)

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskTerminal is returned by SetStatus when the task already holds a
// terminal status. Terminal states never transition again; in particular a
// cancellation must not be overwritten by a finalizer racing it.
var ErrTaskTerminal = errors.New("task already terminal")

// timeFormat is the timestamp layout stored in the tasks table.
const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Older rows may carry second precision.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// TaskEvent represents a row in the task_events table.
type TaskEvent struct {
	ID        int       `json:"id"`
	TaskID    string    `json:"task_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const taskColumns = `id, parent_id, is_main, service, model, app, status, progress,
	error_message, created_at, started_at, completed_at, result_summary, metadata`

// CreateTask inserts a new task row. The caller supplies the id; CreatedAt is
// set here if zero.
func (d *DB) CreateTask(t *task.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var parent, service sql.NullString
	if t.ParentID != "" {
		parent = sql.NullString{String: t.ParentID, Valid: true}
	}
	if t.Service != "" {
		service = sql.NullString{String: t.Service, Valid: true}
	}
	_, err := d.conn.Exec(
		`INSERT INTO tasks (id, parent_id, is_main, service, model, app, status, progress, error_message, created_at, result_summary, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, parent, t.IsMain, service, t.Model, t.App, string(t.Status), t.Progress,
		nullString(t.ErrorMessage), formatTime(t.CreatedAt), nullString(t.ResultSummary), nullString(t.Metadata),
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanTask(scan func(dest ...any) error) (*task.Task, error) {
	var t task.Task
	var parent, service, errMsg, startedAt, completedAt, result, metadata sql.NullString
	var status, createdAt string
	if err := scan(&t.ID, &parent, &t.IsMain, &service, &t.Model, &t.App, &status, &t.Progress,
		&errMsg, &createdAt, &startedAt, &completedAt, &result, &metadata); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.CreatedAt = parseTime(createdAt)
	if parent.Valid {
		t.ParentID = parent.String
	}
	if service.Valid {
		t.Service = service.String
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		ts := parseTime(startedAt.String)
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := parseTime(completedAt.String)
		t.CompletedAt = &ts
	}
	if result.Valid {
		t.ResultSummary = result.String
	}
	if metadata.Valid {
		t.Metadata = metadata.String
	}
	return &t, nil
}

// GetTask returns the task with the given id, or ErrTaskNotFound.
func (d *DB) GetTask(id string) (*task.Task, error) {
	row := d.conn.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (d *DB) queryTasks(query string, args ...any) ([]task.Task, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListMainTasks returns main tasks, newest first, optionally filtered by
// status. Pass "" to return all.
func (d *DB) ListMainTasks(statusFilter task.Status) ([]task.Task, error) {
	if statusFilter == "" {
		return d.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE is_main ORDER BY created_at DESC, id DESC`)
	}
	return d.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE is_main AND status = ? ORDER BY created_at DESC, id DESC`,
		string(statusFilter),
	)
}

// Subtasks returns the subtasks of a main task ordered by service name, the
// same deterministic order the aggregator folds in.
func (d *DB) Subtasks(parentID string) ([]task.Task, error) {
	return d.queryTasks(`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY service`, parentID)
}

// SetStatus updates a task's status, stamping started_at when entering
// running and completed_at when entering a terminal state.
func (d *DB) SetStatus(id string, status task.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	now := formatTime(time.Now().UTC())

	var res sql.Result
	var err error
	switch {
	case status == task.StatusRunning:
		res, err = d.conn.Exec(
			`UPDATE tasks SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), now, id)
	case status.Terminal():
		res, err = d.conn.Exec(
			`UPDATE tasks SET status = ?, completed_at = ?
			 WHERE id = ? AND status NOT IN ('completed', 'failed', 'partial_success', 'cancelled')`,
			string(status), now, id)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
			// Distinguish a missing row from one that already settled.
			if _, gerr := d.GetTask(id); gerr == nil {
				return fmt.Errorf("task %s: %w", id, ErrTaskTerminal)
			}
		}
		return requireRow(res, id)
	default:
		res, err = d.conn.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(res, id)
}

// SetProgress updates a task's progress percentage (clamped to 0..100).
func (d *DB) SetProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	res, err := d.conn.Exec(`UPDATE tasks SET progress = ? WHERE id = ?`, progress, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res, id)
}

// SetError stores an error message on a task.
func (d *DB) SetError(id string, message string) error {
	res, err := d.conn.Exec(`UPDATE tasks SET error_message = ? WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("update error message: %w", err)
	}
	return requireRow(res, id)
}

// SetResultSummary stores the aggregated result payload on a task.
func (d *DB) SetResultSummary(id string, summary string) error {
	res, err := d.conn.Exec(`UPDATE tasks SET result_summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("update result summary: %w", err)
	}
	return requireRow(res, id)
}

// SetMetadata stores the metadata blob on a task.
func (d *DB) SetMetadata(id string, metadata string) error {
	res, err := d.conn.Exec(`UPDATE tasks SET metadata = ? WHERE id = ?`, metadata, id)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return requireRow(res, id)
}

// CancelTree marks the main task and all of its non-terminal subtasks
// cancelled. Returns the number of tasks transitioned.
func (d *DB) CancelTree(mainID string) (int, error) {
	now := formatTime(time.Now().UTC())
	res, err := d.conn.Exec(
		`UPDATE tasks SET status = 'cancelled', completed_at = ?
		 WHERE (id = ? OR parent_id = ?)
		 AND status IN ('pending','running')`,
		now, mainID, mainID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel task tree: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteTask removes a task. Deleting a main task cascades to its subtasks.
func (d *DB) DeleteTask(id string) error {
	res, err := d.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res, id)
}

// LogTaskEvent inserts a lifecycle event for a task.
func (d *DB) LogTaskEvent(taskID string, event string, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO task_events (task_id, event, detail) VALUES (?, ?, ?)`,
		taskID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log task event: %w", err)
	}
	return nil
}

// GetTaskEvents returns all events for a task, newest first.
func (d *DB) GetTaskEvents(taskID string) ([]TaskEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, task_id, event, detail, timestamp
		 FROM task_events WHERE task_id = ? ORDER BY timestamp DESC, id DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get task events: %w", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var e TaskEvent
		var detail sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Event, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		e.Timestamp = parseTime(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return nil
}
