package analyzer

import (
	"encoding/json"

	"github.com/GrabowMar/scanmux/internal/task"
)

// Request message types.
const (
	TypeHealthCheck = "health_check"
	TypeRunTool     = "run_tool"
)

// Request is one correlated message sent to an analyzer service. RequestID is
// echoed back in the matching Response.
type Request struct {
	RequestID string          `json:"request_id"`
	Type      string          `json:"type"`
	Payload   *RunToolPayload `json:"payload,omitempty"`
}

// RunToolPayload carries a run_tool request: the artifact to analyze and the
// tools the service should execute against it.
type RunToolPayload struct {
	Model string   `json:"model"`
	App   int      `json:"app"`
	Tools []string `json:"tools"`
}

// Response statuses reported by analyzer services.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusPartial = "partial"
)

// Response is the analyzer side of a correlated exchange. The Type field
// discriminates which optional fields are populated: health_check responses
// carry AvailableTools, run_tool responses carry Tools.
type Response struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`

	// health_check
	AvailableTools []string `json:"available_tools,omitempty"`

	// run_tool: one result per executed tool.
	Tools []ToolResult `json:"tools,omitempty"`
}

// ToolResult is the per-tool portion of a run_tool response.
type ToolResult struct {
	Tool      string          `json:"tool"`
	Status    string          `json:"status"`
	RawOutput json.RawMessage `json:"raw_output,omitempty"`
	Findings  []task.Finding  `json:"findings,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the response indicates overall success.
func (r *Response) OK() bool {
	return r.Status == StatusOK || r.Status == StatusPartial
}
