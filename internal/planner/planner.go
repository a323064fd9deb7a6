// Package planner turns a requested tool set into per-service delegations.
// Planning is a pure function over in-memory mappings; no I/O happens here.
package planner

import "sort"

// Context is the immutable description of one analysis request.
type Context struct {
	Model     string   `json:"model"`
	App       int      `json:"app"`
	Target    string   `json:"target,omitempty"`
	Tools     []string `json:"tools"`
	Languages []string `json:"languages,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// NewContext builds a Context with the tool set deduplicated and sorted.
func NewContext(model string, app int, tools []string) Context {
	return Context{Model: model, App: app, Tools: normalize(tools)}
}

// WithTools returns a copy of the context carrying a different tool
// selection. The receiver is not modified.
func (c Context) WithTools(tools []string) Context {
	c.Tools = normalize(tools)
	return c
}

// Delegation assigns an ordered set of tools to the backend service that owns
// them.
type Delegation struct {
	Service string   `json:"service"`
	Tools   []string `json:"tools"`
}

// Plan is the full execution plan for a run: remote delegations plus tools
// executed in-process.
type Plan struct {
	Context     Context      `json:"context"`
	Delegations []Delegation `json:"delegations"`
	LocalTools  []string     `json:"local_tools,omitempty"`
}

// HasWork reports whether the plan contains any tool at all.
func (p *Plan) HasWork() bool {
	return len(p.Delegations) > 0 || len(p.LocalTools) > 0
}

// AllTools returns every tool in the plan, delegated and local, sorted.
func (p *Plan) AllTools() []string {
	var all []string
	for _, d := range p.Delegations {
		all = append(all, d.Tools...)
	}
	all = append(all, p.LocalTools...)
	return normalize(all)
}

// Build groups the context's tools by owning service using the given
// tool→service mapping. Tools with no mapping, or mapped to localSentinel, go
// to the local list. Delegations are sorted by service name and tools within
// each delegation are sorted, so identical inputs always produce identical
// plans.
func Build(ctx Context, toolService map[string]string, localSentinel string) *Plan {
	byService := make(map[string][]string)
	var local []string

	for _, tool := range ctx.Tools {
		svc, ok := toolService[tool]
		if !ok || svc == localSentinel {
			local = append(local, tool)
			continue
		}
		byService[svc] = append(byService[svc], tool)
	}

	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	delegations := make([]Delegation, 0, len(services))
	for _, svc := range services {
		delegations = append(delegations, Delegation{
			Service: svc,
			Tools:   normalize(byService[svc]),
		})
	}

	return &Plan{
		Context:     ctx,
		Delegations: delegations,
		LocalTools:  normalize(local),
	}
}

// normalize sorts and deduplicates a tool list, dropping empties.
func normalize(tools []string) []string {
	seen := make(map[string]bool, len(tools))
	var out []string
	for _, t := range tools {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
