// Package aggregate folds per-service tool outcomes into a single run result.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GrabowMar/scanmux/internal/task"
)

// Outcome is the terminal result of one service delegation or local tool run.
type Outcome struct {
	Service  string         `json:"service"`
	Status   string         `json:"status"` // completed, failed, cancelled, skipped
	Tools    []ToolSnapshot `json:"tools,omitempty"`
	Findings []task.Finding `json:"findings,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ToolSnapshot is the condensed per-tool record embedded in the run summary.
// Raw output stays in the result store; only the first line travels here.
type ToolSnapshot struct {
	Tool         string `json:"tool"`
	Status       string `json:"status"`
	FindingCount int    `json:"finding_count"`
	OutputHead   string `json:"output_head,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SeverityCounts tallies findings per severity bucket.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Add counts one finding. Unknown severities land in Info.
func (s *SeverityCounts) Add(severity string) {
	switch task.NormalizeSeverity(severity) {
	case task.SeverityCritical:
		s.Critical++
	case task.SeverityHigh:
		s.High++
	case task.SeverityMedium:
		s.Medium++
	case task.SeverityLow:
		s.Low++
	default:
		s.Info++
	}
}

// Total returns the sum over all buckets.
func (s SeverityCounts) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Info
}

// Result is the aggregated view over every outcome of a run.
type Result struct {
	Services      []Outcome      `json:"services"`
	Findings      []task.Finding `json:"findings,omitempty"`
	Summary       Summary        `json:"summary"`
	DroppedTools  []string       `json:"dropped_tools,omitempty"`
	SuccessCount  int            `json:"success_count"`
	FailureCount  int            `json:"failure_count"`
	OverallStatus task.Status    `json:"overall_status"`
}

// Summary is the run-level rollup. ServicesExecuted counts only the services
// that actually produced a result; failed delegations are excluded.
type Summary struct {
	TotalFindings    int            `json:"total_findings"`
	ServicesExecuted int            `json:"services_executed"`
	ToolsUsed        []string       `json:"tools_used,omitempty"`
	Severity         SeverityCounts `json:"severity"`
}

// Fold combines outcomes into a Result. Outcomes are sorted by service name
// so the same inputs always produce the same document. Every outcome counts
// as exactly one success or one failure: completed and skipped are successes,
// everything else is a failure.
func Fold(outcomes []Outcome, droppedTools []string) (*Result, error) {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Service < sorted[j].Service })

	res := &Result{Services: sorted, DroppedTools: droppedTools}
	toolSet := make(map[string]bool)

	for _, o := range sorted {
		switch o.Status {
		case "completed", "skipped":
			res.SuccessCount++
		default:
			res.FailureCount++
		}
		for _, t := range o.Tools {
			toolSet[t.Tool] = true
		}
		for _, f := range o.Findings {
			res.Findings = append(res.Findings, f)
			res.Summary.Severity.Add(f.Severity)
		}
	}

	if res.SuccessCount+res.FailureCount != len(outcomes) {
		return nil, fmt.Errorf("aggregate accounting mismatch: %d+%d != %d",
			res.SuccessCount, res.FailureCount, len(outcomes))
	}

	res.Summary.TotalFindings = len(res.Findings)
	res.Summary.ServicesExecuted = res.SuccessCount
	for t := range toolSet {
		res.Summary.ToolsUsed = append(res.Summary.ToolsUsed, t)
	}
	sort.Strings(res.Summary.ToolsUsed)

	res.OverallStatus = overall(res.SuccessCount, res.FailureCount)
	return res, nil
}

// overall maps the success/failure split onto a terminal task status.
func overall(success, failure int) task.Status {
	switch {
	case failure == 0:
		return task.StatusCompleted
	case success == 0:
		return task.StatusFailed
	default:
		return task.StatusPartialSuccess
	}
}

// SnapshotOutput trims raw tool output to its first line for embedding in a
// ToolSnapshot.
func SnapshotOutput(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	const max = 200
	if len(raw) > max {
		raw = raw[:max]
	}
	return raw
}
