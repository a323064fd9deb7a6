package resultstore

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestWriteAndReadToolResult(t *testing.T) {
	s := NewStore(t.TempDir())

	doc := map[string]interface{}{"tool": "bandit", "findings": float64(3)}
	path, err := s.WriteToolResult("gpt-4", 2, "task-1", "bandit", doc)
	if err != nil {
		t.Fatalf("WriteToolResult: %v", err)
	}
	want := filepath.Join(s.BaseDir(), "gpt-4", "app2", "tasks", "task-1", "bandit.json")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	var got map[string]interface{}
	if err := s.ReadToolResult("gpt-4", 2, "task-1", "bandit", &got); err != nil {
		t.Fatalf("ReadToolResult: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("round trip = %v, want %v", got, doc)
	}
}

func TestListToolResultsExcludesSummary(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, tool := range []string{"zap", "bandit"} {
		if _, err := s.WriteToolResult("m", 1, "t1", tool, map[string]int{"n": 0}); err != nil {
			t.Fatalf("WriteToolResult(%s): %v", tool, err)
		}
	}
	if _, err := s.WriteSummary("m", 1, "t1", map[string]int{"total": 0}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	tools, err := s.ListToolResults("m", 1, "t1")
	if err != nil {
		t.Fatalf("ListToolResults: %v", err)
	}
	want := []string{"bandit", "zap"}
	if !reflect.DeepEqual(tools, want) {
		t.Errorf("tools = %v, want %v", tools, want)
	}
}

func TestListToolResultsMissingTask(t *testing.T) {
	s := NewStore(t.TempDir())
	tools, err := s.ListToolResults("m", 1, "absent")
	if err != nil {
		t.Fatalf("ListToolResults: %v", err)
	}
	if tools != nil {
		t.Errorf("tools = %v, want nil", tools)
	}
}

func TestDeleteTask(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.WriteToolResult("m", 1, "t1", "bandit", map[string]int{}); err != nil {
		t.Fatalf("WriteToolResult: %v", err)
	}
	if err := s.DeleteTask("m", 1, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := os.Stat(s.TaskDir("m", 1, "t1")); !os.IsNotExist(err) {
		t.Errorf("task dir still present after delete")
	}
}

func TestConcurrentWritesSameApp(t *testing.T) {
	s := NewStore(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tool := string(rune('a' + n%5))
			if _, err := s.WriteToolResult("m", 1, "t1", tool, map[string]int{"n": n}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write: %v", err)
	}

	tools, err := s.ListToolResults("m", 1, "t1")
	if err != nil {
		t.Fatalf("ListToolResults: %v", err)
	}
	if len(tools) != 5 {
		t.Errorf("tool count = %d, want 5", len(tools))
	}
}

func TestSanitizeKeepsPathsInsideStore(t *testing.T) {
	s := NewStore(t.TempDir())
	path := s.ToolResultPath("../escape", 1, "t/1", "tool")
	rel, err := filepath.Rel(s.BaseDir(), path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		t.Errorf("path escapes store root: %s", path)
	}
}

func TestWriteAtomicOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteAtomic(path, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteAtomic(path, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want two", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}
