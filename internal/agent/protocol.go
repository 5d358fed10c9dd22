package agent

import (
	"errors"
	"regexp"
	"strings"
)

// The loop speaks a fixed textual protocol with the model:
//
//	Thought: reasoning
//	Action: tool name
//	Action Input: tool input
//	Observation: tool result
//	... repeated, then ...
//	Thought: reasoning
//	Final Answer: the diagnosis
//
// parseStep interprets one model emission against that grammar.

const finalAnswerMarker = "Final Answer:"

// Verbose models append trailing notes after the final answer; extraction
// cuts at the first of these markers.
var trailingNoiseMarkers = []string{"\n\nNote:", "\n\nFor troubleshooting", "For troubleshooting"}

var (
	// errAmbiguousOutput flags output carrying both a final answer and a
	// parse-able action, a common failure mode of verbose models.
	errAmbiguousOutput = errors.New("output contains both a final answer and a parse-able action")

	// errUnparseable flags output matching neither protocol branch.
	errUnparseable = errors.New("output matches neither an action nor a final answer")

	actionRe      = regexp.MustCompile(`(?m)^\s*Action\s*:\s*(.+)$`)
	actionInputRe = regexp.MustCompile(`(?m)^\s*Action Input\s*:\s*(.+)$`)
)

// step is one parsed protocol emission: either a tool invocation or a
// final answer.
type step struct {
	action      string
	actionInput string
	finalAnswer string
	isFinal     bool
}

// parseStep parses a model emission. Output containing both a final
// answer and an action is rejected as ambiguous rather than guessed at.
func parseStep(output string) (*step, error) {
	hasFinal := strings.Contains(output, finalAnswerMarker)
	actionMatch := actionRe.FindStringSubmatch(output)

	if hasFinal && actionMatch != nil {
		return nil, errAmbiguousOutput
	}

	if hasFinal {
		idx := strings.Index(output, finalAnswerMarker)
		return &step{
			isFinal:     true,
			finalAnswer: strings.TrimSpace(output[idx+len(finalAnswerMarker):]),
		}, nil
	}

	if actionMatch != nil {
		inputMatch := actionInputRe.FindStringSubmatch(output)
		if inputMatch == nil {
			return nil, errUnparseable
		}
		return &step{
			action:      strings.TrimSpace(actionMatch[1]),
			actionInput: strings.TrimSpace(inputMatch[1]),
		}, nil
	}

	return nil, errUnparseable
}

// recoverObservation converts a protocol parse failure into a corrective
// observation fed back to the model. It never fails; total retries stay
// bounded by the loop's iteration cap.
func recoverObservation(parseErr error, output string) string {
	if errors.Is(parseErr, errAmbiguousOutput) {
		if idx := strings.Index(output, finalAnswerMarker); idx != -1 {
			answer := strings.TrimSpace(output[idx+len(finalAnswerMarker):])
			for _, marker := range trailingNoiseMarkers {
				if pos := strings.Index(answer, marker); pos != -1 {
					answer = strings.TrimSpace(answer[:pos])
				}
			}
			if len(answer) > 10 {
				return "The previous response contained a valid Final Answer but included " +
					"extra context that caused parsing issues. Please reformat your " +
					"response with ONLY the Final Answer section, without additional " +
					"notes or explanations after it."
			}
		}
	}

	return "Output format error. Please follow the exact format:\n" +
		"Thought: [your reasoning]\n" +
		"Action: [tool name]\n" +
		"Action Input: [tool input]\n" +
		"... (or) ...\n" +
		"Thought: [your reasoning]\n" +
		"Final Answer: [your answer]"
}
