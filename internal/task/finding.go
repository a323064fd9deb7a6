package task

// Finding is one normalized analysis finding, the tool-agnostic shape every
// backend's output is reduced to.
type Finding struct {
	Tool     string `json:"tool"`
	RuleID   string `json:"rule_id,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Severity buckets, ordered from most to least severe. Unknown severities
// normalize to info.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// NormalizeSeverity maps arbitrary tool severities onto the platform buckets.
func NormalizeSeverity(s string) string {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return s
	case "CRITICAL", "Critical":
		return SeverityCritical
	case "HIGH", "High", "error":
		return SeverityHigh
	case "MEDIUM", "Medium", "moderate", "warning":
		return SeverityMedium
	case "LOW", "Low", "minor", "note", "style":
		return SeverityLow
	default:
		return SeverityInfo
	}
}
