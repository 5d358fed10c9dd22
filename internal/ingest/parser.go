// Package ingest receives CI failure logs over HTTP, extracts failure
// signals, and publishes log events onto the Redis stream.
package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/workflowai/logtriage/internal/stream"
)

// Accepted log types.
const (
	LogTypeBuild  = "build"
	LogTypeDeploy = "deploy"
	LogTypeTest   = "test"
)

var errorLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)error:?\s*(.+)`),
	regexp.MustCompile(`(?i)exception:?\s*(.+)`),
	regexp.MustCompile(`(?i)fatal:?\s*(.+)`),
	regexp.MustCompile(`(?i)failed:?\s*(.+)`),
	regexp.MustCompile(`(?i)panic:?\s*(.+)`),
}

var exitCodePattern = regexp.MustCompile(`(?i)exit code:?\s*(\d+)`)

// signalKeywords are well-known failure indicators worth surfacing to the
// analysis loop verbatim.
var signalKeywords = []string{
	"NullPointerException",
	"OutOfMemoryError",
	"ConnectionRefused",
	"Timeout",
	"Permission denied",
	"No such file",
	"Syntax error",
	"Import error",
	"Module not found",
	"Compilation failed",
	"Test failed",
	"Assertion failed",
	"Segmentation fault",
	"Stack overflow",
}

// NormalizeLogType lowercases and validates a submitted log type.
func NormalizeLogType(s string) (string, error) {
	switch t := strings.ToLower(s); t {
	case LogTypeBuild, LogTypeDeploy, LogTypeTest:
		return t, nil
	default:
		return "", fmt.Errorf("invalid log_type %q (must be: build, deploy, test)", s)
	}
}

// ParseLog extracts a failure signal from raw log content: the error
// message lines, any trailing stack trace, the failed step, the exit code
// and known failure keywords. It never fails; an uninformative log yields
// a signal with only the type set.
func ParseLog(content, logType string) *stream.FailureSignal {
	signal := &stream.FailureSignal{Type: logType}

	var errorLines []string
	var stackLines []string
	var keywords []string
	inStackTrace := false

	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		for _, pattern := range errorLinePatterns {
			if matches := pattern.FindStringSubmatch(trimmed); len(matches) > 1 {
				errorLines = append(errorLines, matches[1])
				signal.LineNumber = i + 1
				keywords = append(keywords, matchKeywords(trimmed)...)
				inStackTrace = true
				break
			}
		}

		if inStackTrace {
			if isStackTraceLine(line) {
				stackLines = append(stackLines, trimmed)
			} else if len(stackLines) > 0 {
				inStackTrace = false
			}
		}

		if strings.Contains(trimmed, "Step") && strings.Contains(trimmed, "failed") {
			signal.FailedStep = trimmed
		}

		if matches := exitCodePattern.FindStringSubmatch(trimmed); len(matches) > 1 {
			if code, err := strconv.Atoi(matches[1]); err == nil {
				signal.ExitCode = code
			}
		}
	}

	signal.ErrorMessage = strings.Join(errorLines, "; ")
	signal.StackTrace = strings.Join(stackLines, "\n")
	signal.Keywords = dedupe(keywords)
	return signal
}

// isStackTraceLine recognizes common frame formats: "at ..." frames,
// indented continuation lines, and file:line references.
func isStackTraceLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.Contains(trimmed, "at ") ||
		strings.HasPrefix(line, "  ") ||
		strings.Contains(trimmed, ".go:") ||
		strings.Contains(trimmed, ".py:") ||
		strings.Contains(trimmed, ".java:")
}

func matchKeywords(line string) []string {
	var found []string
	lower := strings.ToLower(line)
	for _, keyword := range signalKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			found = append(found, keyword)
		}
	}
	return found
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
