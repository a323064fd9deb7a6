// Package resultstore persists raw tool output and diagnostic documents on
// disk. Task rows in the database carry paths into this store, never blobs.
package resultstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store manages analysis results on disk, laid out as
// <base>/<model>/app<N>/tasks/<task>/<tool>.json. Writes for the same
// (model, app) pair are serialised so concurrent subtasks of one run never
// interleave inside a directory.
type Store struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // keyed by "<model>/<app>"
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

// DefaultStore returns a Store at ~/.scanmux/results, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".scanmux", "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return NewStore(dir), nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// appDir returns the directory for one generated application.
func (s *Store) appDir(model string, app int) string {
	return filepath.Join(s.baseDir, sanitize(model), fmt.Sprintf("app%d", app))
}

// TaskDir returns the directory holding one task's documents.
func (s *Store) TaskDir(model string, app int, taskID string) string {
	return filepath.Join(s.appDir(model, app), "tasks", sanitize(taskID))
}

// ToolResultPath returns the path of one tool's document within a task.
func (s *Store) ToolResultPath(model string, app int, taskID, tool string) string {
	return filepath.Join(s.TaskDir(model, app, taskID), sanitize(tool)+".json")
}

// appLock returns the mutex guarding one (model, app) pair, creating it on
// first use.
func (s *Store) appLock(model string, app int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", model, app)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// WriteToolResult persists one tool's document for a task and returns the
// path written.
func (s *Store) WriteToolResult(model string, app int, taskID, tool string, v interface{}) (string, error) {
	l := s.appLock(model, app)
	l.Lock()
	defer l.Unlock()

	path := s.ToolResultPath(model, app, taskID, tool)
	if err := WriteJSON(path, v); err != nil {
		return "", fmt.Errorf("write tool result %s: %w", path, err)
	}
	return path, nil
}

// WriteSummary persists the aggregated run document alongside the per-tool
// files and returns the path written.
func (s *Store) WriteSummary(model string, app int, taskID string, v interface{}) (string, error) {
	l := s.appLock(model, app)
	l.Lock()
	defer l.Unlock()

	path := filepath.Join(s.TaskDir(model, app, taskID), "summary.json")
	if err := WriteJSON(path, v); err != nil {
		return "", fmt.Errorf("write summary %s: %w", path, err)
	}
	return path, nil
}

// ReadToolResult loads one tool's document into v.
func (s *Store) ReadToolResult(model string, app int, taskID, tool string, v interface{}) error {
	return ReadJSON(s.ToolResultPath(model, app, taskID, tool), v)
}

// ListToolResults returns the tool names that have documents for a task,
// sorted.
func (s *Store) ListToolResults(model string, app int, taskID string) ([]string, error) {
	entries, err := os.ReadDir(s.TaskDir(model, app, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	var tools []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == "summary.json" {
			continue
		}
		tools = append(tools, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(tools)
	return tools, nil
}

// DeleteTask removes every document stored for a task.
func (s *Store) DeleteTask(model string, app int, taskID string) error {
	l := s.appLock(model, app)
	l.Lock()
	defer l.Unlock()
	return os.RemoveAll(s.TaskDir(model, app, taskID))
}

// sanitize keeps path segments from escaping the store root. Separators and
// parent references collapse to underscores.
func sanitize(segment string) string {
	segment = strings.ReplaceAll(segment, string(filepath.Separator), "_")
	segment = strings.ReplaceAll(segment, "/", "_")
	segment = strings.ReplaceAll(segment, "..", "_")
	if segment == "" {
		return "_"
	}
	return segment
}
