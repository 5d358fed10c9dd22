package agent

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You are an expert DevOps engineer specializing in build and deployment failure analysis.

Your task is to analyze logs and identify:
1. **Root cause** - The fundamental reason for failure (not just symptoms)
2. **Severity** - Impact level (critical/high/medium/low)
3. **Fix suggestions** - Concrete, actionable steps to resolve the issue
4. **References** - Related documentation or similar issues

When analyzing logs:
- Extract error messages, stack traces, and failure signals
- Use the knowledge base tool to search for similar failures
- Consider the context (repo, branch, environment, recent changes)
- Provide step-by-step fix instructions
- Include confidence score (0.0-1.0) based on evidence quality

Be concise but thorough. Developers need quick, accurate diagnosis.`

// Input carries one analysis request into the loop.
type Input struct {
	LogContent string
	LogType    string
	Context    map[string]string
}

// buildPrompt assembles the base prompt: system instructions, tool
// catalogue, protocol grammar, and the truncated log with its context.
func buildPrompt(input Input, tools *Registry, maxLogChars int) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nYou have access to the following tools:\n\n")
	for _, t := range tools.All() {
		fmt.Fprintf(&b, "%s: %s\n", t.Name(), t.Description())
	}

	fmt.Fprintf(&b, `
Use the following format:

Thought: you should always think about what to do
Action: the tool to use, one of [%s]
Action Input: the input to the tool
Observation: the result of the tool
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original question
`, strings.Join(tools.Names(), ", "))

	logType := input.LogType
	if logType == "" {
		logType = "build"
	}

	fmt.Fprintf(&b, "\nAnalyze this %s log:\n\nLOG CONTENT:\n%s\n\nCONTEXT:\n%s\n",
		logType,
		truncateRunes(input.LogContent, maxLogChars),
		formatContext(input.Context))

	b.WriteString(`
Provide:
1. Root cause (one sentence)
2. Severity (critical/high/medium/low)
3. Suggested fixes (numbered list)
4. References (URLs or doc names)
5. Confidence score (0.0-1.0)

Thought:`)

	return b.String()
}

// formatContext renders context metadata as stable key=value lines.
func formatContext(ctx map[string]string) string {
	if len(ctx) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, ctx[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
