package agent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// fallbackFix is returned when no actionable fixes can be extracted.
const fallbackFix = "Review logs and check recent changes"

var confidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`confidence[:\s]+([0-9.]+)`),
	regexp.MustCompile(`confidence score[:\s]+([0-9.]+)`),
	regexp.MustCompile(`\(([0-9.]+)\s*confidence\)`),
}

// Parse extracts a structured diagnosis from free-text model output.
// toolNotes are retrieval observations scanned for additional references.
//
// Extraction is best effort over an intentionally fragile text boundary:
// every field degrades to a safe default and Parse never fails.
func Parse(output string, toolNotes []string) Result {
	return Result{
		RootCause:      extractRootCause(output),
		Severity:       extractSeverity(output),
		SuggestedFixes: extractFixes(output),
		References:     extractReferences(output, toolNotes),
		Confidence:     extractConfidence(output),
		RawOutput:      output,
	}
}

// extractRootCause finds a "root cause" line and takes the text after its
// colon, else the following line, else the first 200 characters of the
// whole output. Never returns an empty string for non-empty output.
func extractRootCause(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), "root cause") {
			continue
		}
		if idx := strings.Index(line, ":"); idx != -1 {
			if cause := strings.TrimSpace(line[idx+1:]); cause != "" {
				return cause
			}
		}
		if i+1 < len(lines) {
			if cause := strings.TrimSpace(lines[i+1]); cause != "" {
				return cause
			}
		}
	}
	return truncateRunes(output, 200)
}

// extractSeverity matches severity keywords in priority order.
func extractSeverity(output string) string {
	lower := strings.ToLower(output)
	for _, severity := range []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if strings.Contains(lower, severity) {
			return severity
		}
	}
	return SeverityMedium
}

// extractFixes collects numbered or bulleted lines following a "fix" or
// "suggestion" header, stopping at the next section header or a
// references line. Falls back to a single generic suggestion.
func extractFixes(output string) []string {
	var fixes []string
	capture := false
	for _, line := range strings.Split(output, "\n") {
		stripped := strings.TrimSpace(line)
		lower := strings.ToLower(line)

		if strings.Contains(lower, "fix") || strings.Contains(lower, "suggestion") {
			capture = true
			continue
		}
		if !capture || stripped == "" {
			continue
		}
		if strings.HasSuffix(stripped, ":") || strings.Contains(lower, "reference") {
			break
		}
		first := stripped[0]
		if (first >= '0' && first <= '9') || strings.HasPrefix(stripped, "-") ||
			strings.HasPrefix(stripped, "*") || strings.HasPrefix(stripped, "•") {
			if clean := strings.TrimLeft(stripped, "0123456789.-*• "); clean != "" {
				fixes = append(fixes, clean)
			}
		}
	}
	if len(fixes) == 0 {
		return []string{fallbackFix}
	}
	return fixes
}

// extractReferences scans the output and tool observations for URL-like
// tokens. Returned as a deduplicated, sorted set.
func extractReferences(output string, toolNotes []string) []string {
	seen := make(map[string]struct{})

	collect := func(text string, docDomains bool) {
		for _, line := range strings.Split(text, "\n") {
			if !strings.Contains(line, "http") && !strings.Contains(line, "docs.") {
				continue
			}
			for _, word := range strings.Fields(line) {
				if strings.HasPrefix(word, "http") || (docDomains && strings.Contains(word, "docs.")) {
					if ref := strings.Trim(word, ",.()"); ref != "" {
						seen[ref] = struct{}{}
					}
				}
			}
		}
	}

	collect(output, true)
	for _, note := range toolNotes {
		collect(note, false)
	}

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// extractConfidence finds an explicit confidence value, clamped to [0,1].
// Without one, defaults follow output quality: 0.75 for long outputs
// mentioning an error, 0.6 for moderate outputs, 0.4 otherwise.
func extractConfidence(output string) float64 {
	lower := strings.ToLower(output)
	for _, pattern := range confidencePatterns {
		match := pattern.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		score, err := strconv.ParseFloat(strings.Trim(match[1], "."), 64)
		if err != nil {
			continue
		}
		return clamp01(score)
	}

	switch {
	case len(output) > 500 && strings.Contains(lower, "error"):
		return 0.75
	case len(output) > 200:
		return 0.6
	default:
		return 0.4
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
