package agent

// Result is a structured log failure diagnosis. Every field carries a
// safe default; construction never fails, even on garbage model output.
type Result struct {
	AnalysisID     string   `json:"analysis_id"`
	RootCause      string   `json:"root_cause"`
	Severity       string   `json:"severity"`
	SuggestedFixes []string `json:"suggested_fixes"`
	References     []string `json:"references"`
	Confidence     float64  `json:"confidence"`

	// RawOutput is the unparsed completion, retained for audit.
	RawOutput string `json:"raw_output,omitempty"`
}

// Severity levels in priority order.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)
