package coordinator

import (
	"context"

	"github.com/GrabowMar/scanmux/internal/aggregate"
	"github.com/GrabowMar/scanmux/internal/config"
)

// LocalRunner executes tools mapped to the local sentinel in-process.
type LocalRunner interface {
	Run(ctx context.Context, model string, app int, tools []string) aggregate.Outcome
}

// SkipRunner is the default LocalRunner. It reports every local tool as
// skipped so plans containing local-only tools still fold into a complete
// aggregate.
type SkipRunner struct{}

func (SkipRunner) Run(_ context.Context, _ string, _ int, tools []string) aggregate.Outcome {
	out := aggregate.Outcome{Service: config.LocalService, Status: "skipped"}
	for _, tool := range tools {
		out.Tools = append(out.Tools, aggregate.ToolSnapshot{
			Tool:   tool,
			Status: "skipped",
		})
	}
	return out
}
