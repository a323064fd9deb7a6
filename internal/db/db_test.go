package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/GrabowMar/scanmux/internal/task"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func mainTask(id string) *task.Task {
	return &task.Task{ID: id, IsMain: true, Model: "demo", App: 1, Status: task.StatusPending}
}

func subTask(id, parent, service string) *task.Task {
	return &task.Task{ID: id, ParentID: parent, Service: service, Model: "demo", App: 1, Status: task.StatusPending}
}

func TestCreateAndGetTask(t *testing.T) {
	d := testDB(t)

	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if err := d.CreateTask(subTask("s1", "m1", "static-analyzer")); err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	got, err := d.GetTask("s1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ParentID != "m1" {
		t.Errorf("expected parent m1, got %q", got.ParentID)
	}
	if got.Service != "static-analyzer" {
		t.Errorf("expected service static-analyzer, got %q", got.Service)
	}
	if got.IsMain {
		t.Error("expected is_main=false for subtask")
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestGetTask_NotFound(t *testing.T) {
	d := testDB(t)

	_, err := d.GetTask("nope")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSetStatus_Timestamps(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.SetStatus("m1", task.StatusRunning); err != nil {
		t.Fatalf("set running: %v", err)
	}
	got, _ := d.GetTask("m1")
	if got.StartedAt == nil {
		t.Fatal("expected started_at after running transition")
	}
	if got.CompletedAt != nil {
		t.Error("expected no completed_at while running")
	}
	started := *got.StartedAt

	if err := d.SetStatus("m1", task.StatusCompleted); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	got, _ = d.GetTask("m1")
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at after terminal transition")
	}
	if !got.StartedAt.Equal(started) {
		t.Error("started_at must not be overwritten by later transitions")
	}
}

func TestSetStatus_TerminalNotOverwritten(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.SetStatus("m1", task.StatusCancelled); err != nil {
		t.Fatalf("set cancelled: %v", err)
	}

	err := d.SetStatus("m1", task.StatusPartialSuccess)
	if !errors.Is(err, ErrTaskTerminal) {
		t.Fatalf("expected ErrTaskTerminal, got %v", err)
	}
	got, _ := d.GetTask("m1")
	if got.Status != task.StatusCancelled {
		t.Errorf("status = %q, want cancelled to survive the late write", got.Status)
	}

	// A missing row still reports not-found, not terminal.
	if err := d.SetStatus("nope", task.StatusCompleted); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound for missing row, got %v", err)
	}
}

func TestSetStatus_Invalid(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.SetStatus("m1", task.Status("exploded")); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestSubtasks_OrderedByService(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, svc := range []string{"zeta", "alpha", "mid"} {
		if err := d.CreateTask(subTask("s-"+svc, "m1", svc)); err != nil {
			t.Fatalf("create subtask %s: %v", svc, err)
		}
	}

	subs, err := d.Subtasks("m1")
	if err != nil {
		t.Fatalf("subtasks: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(subs))
	}
	if subs[0].Service != "alpha" || subs[1].Service != "mid" || subs[2].Service != "zeta" {
		t.Errorf("expected service-sorted order, got %s %s %s", subs[0].Service, subs[1].Service, subs[2].Service)
	}
}

func TestDeleteTask_CascadesToSubtasks(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.CreateTask(subTask("s1", "m1", "svc")); err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	if err := d.DeleteTask("m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.GetTask("s1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected subtask cascade-deleted, got %v", err)
	}
}

func TestCancelTree(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.CreateTask(subTask("s1", "m1", "a")); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if err := d.CreateTask(subTask("s2", "m1", "b")); err != nil {
		t.Fatalf("create s2: %v", err)
	}
	// s2 already finished; cancellation must not touch it.
	if err := d.SetStatus("s2", task.StatusCompleted); err != nil {
		t.Fatalf("complete s2: %v", err)
	}

	n, err := d.CancelTree("m1")
	if err != nil {
		t.Fatalf("cancel tree: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 tasks cancelled (main + s1), got %d", n)
	}

	s2, _ := d.GetTask("s2")
	if s2.Status != task.StatusCompleted {
		t.Errorf("expected s2 to stay completed, got %s", s2.Status)
	}
	s1, _ := d.GetTask("s1")
	if s1.Status != task.StatusCancelled {
		t.Errorf("expected s1 cancelled, got %s", s1.Status)
	}
}

func TestListMainTasks_FiltersSubtasks(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.CreateTask(subTask("s1", "m1", "svc")); err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	mains, err := d.ListMainTasks("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mains) != 1 || mains[0].ID != "m1" {
		t.Errorf("expected only m1, got %v", mains)
	}

	none, err := d.ListMainTasks(task.StatusCompleted)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no completed tasks, got %d", len(none))
	}
}

func TestTaskEvents(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.LogTaskEvent("m1", "status_change", "pending→running"); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := d.LogTaskEvent("m1", "downgrade", "dropped: zap"); err != nil {
		t.Fatalf("log event: %v", err)
	}

	events, err := d.GetTaskEvents("m1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "downgrade" {
		t.Errorf("expected newest-first ordering, got %q first", events[0].Event)
	}
}

func TestSetProgress_Clamps(t *testing.T) {
	d := testDB(t)
	if err := d.CreateTask(mainTask("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.SetProgress("m1", 250); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	got, _ := d.GetTask("m1")
	if got.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", got.Progress)
	}
}
