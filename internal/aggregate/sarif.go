package aggregate

import "strings"

// Minimal SARIF-shaped diagnostic document. Only the fields the remapper and
// result store touch are modelled; everything else a backend sends is
// preserved verbatim in the result store's raw copy.

// Document is the top-level diagnostic report for a run of one or more tools.
type Document struct {
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run holds the results produced by a single tool invocation.
type Run struct {
	Tool    RunTool      `json:"tool"`
	Results []RunFinding `json:"results"`
}

// RunTool identifies the driver that produced a run.
type RunTool struct {
	Driver Driver `json:"driver"`
}

// Driver names the analysis tool.
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// RunFinding is one reported result inside a run.
type RunFinding struct {
	RuleID     string             `json:"ruleId"`
	Level      string             `json:"level,omitempty"`
	Message    Message            `json:"message"`
	Properties *FindingProperties `json:"properties,omitempty"`
}

// Message carries the human-readable finding text.
type Message struct {
	Text string `json:"text"`
}

// FindingProperties holds the property bag fields we care about.
type FindingProperties struct {
	Severity string `json:"severity,omitempty"`
}

// severityOverrides corrects severities that specific tools are known to
// misreport. Keyed by lowercase driver name, then rule id.
var severityOverrides = map[string]map[string]string{
	"bandit": {
		// Bandit reports hardcoded credentials as LOW.
		"B105": "high",
		"B106": "high",
		"B107": "high",
	},
	"eslint": {
		"no-eval": "high",
	},
	"zap": {
		// Informational alerts ZAP tags as warnings.
		"10027": "info",
		"10096": "info",
	},
}

// RemapSeverities rewrites the severity of known-misreported rules in place.
// Only runs whose driver name has an override table are touched, and within
// them only results whose rule id appears in the table. Both the SARIF level
// and the properties.severity field are set to the corrected value, so
// applying the remap twice yields the same document.
func RemapSeverities(doc *Document) {
	for i := range doc.Runs {
		run := &doc.Runs[i]
		table, ok := severityOverrides[strings.ToLower(run.Tool.Driver.Name)]
		if !ok {
			continue
		}
		for j := range run.Results {
			r := &run.Results[j]
			sev, ok := table[r.RuleID]
			if !ok {
				continue
			}
			r.Level = sev
			if r.Properties == nil {
				r.Properties = &FindingProperties{}
			}
			r.Properties.Severity = sev
		}
	}
}
