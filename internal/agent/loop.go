package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/llm"
)

// Config bounds a reasoning loop execution.
type Config struct {
	// MaxIterations caps think/act cycles per execution.
	MaxIterations int

	// Timeout bounds the whole execution, tool calls included.
	Timeout time.Duration

	// MaxLogChars caps log content fed into the prompt. Token budget
	// safeguard: longer logs are truncated, not rejected.
	MaxLogChars int

	// ToolTimeout bounds each tool invocation.
	ToolTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 300 * time.Second
	}
	if c.MaxLogChars == 0 {
		c.MaxLogChars = 5000
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30 * time.Second
	}
}

// Loop drives the bounded think/act/observe cycle against a completion
// provider and the tool registry. Safe for concurrent use; each Execute
// call keeps its own state.
type Loop struct {
	provider llm.Provider
	tools    *Registry
	cfg      Config
	logger   *zap.Logger
}

// NewLoop creates a reasoning loop.
func NewLoop(provider llm.Provider, tools *Registry, cfg Config, logger *zap.Logger) *Loop {
	cfg.applyDefaults()
	return &Loop{provider: provider, tools: tools, cfg: cfg, logger: logger}
}

// Execute runs one analysis. The loop terminates on a valid final answer,
// the iteration cap, or the overall timeout; whatever text the model last
// produced still flows through Parse, so a Result is produced on every
// path that reached the model at all. Only provider transport failures
// surface as errors.
func (l *Loop) Execute(ctx context.Context, input Input) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	analysisID := uuid.NewString()
	logger := l.logger.With(zap.String("analysis_id", analysisID))

	basePrompt := buildPrompt(input, l.tools, l.cfg.MaxLogChars)

	var (
		scratchpad strings.Builder
		toolNotes  []string
		lastRaw    string
	)

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		completion, err := l.provider.Generate(ctx, llm.Request{
			Prompt:    basePrompt + scratchpad.String(),
			MaxTokens: 512,
			Stop:      []string{"\nObservation:"},
		})
		if err != nil {
			return nil, fmt.Errorf("completion failed at iteration %d: %w", iteration, err)
		}
		lastRaw = completion.Text

		parsed, parseErr := parseStep(completion.Text)
		if parseErr != nil {
			observation := recoverObservation(parseErr, completion.Text)
			logger.Warn("unparseable model output, sending corrective observation",
				zap.Int("iteration", iteration),
				zap.Error(parseErr))
			writeCycle(&scratchpad, completion.Text, observation)
			continue
		}

		if parsed.isFinal {
			result := Parse(parsed.finalAnswer, toolNotes)
			result.AnalysisID = analysisID
			logger.Info("analysis complete",
				zap.Int("iterations", iteration+1),
				zap.String("severity", result.Severity))
			return &result, nil
		}

		observation := l.invokeTool(ctx, parsed.action, parsed.actionInput)
		toolNotes = append(toolNotes, observation)
		logger.Debug("tool invoked",
			zap.Int("iteration", iteration),
			zap.String("tool", parsed.action))
		writeCycle(&scratchpad, completion.Text, observation)
	}

	// Iteration cap reached: degrade to best-effort extraction from the
	// last emission rather than failing the analysis.
	logger.Warn("iteration cap reached, extracting from last output",
		zap.Int("max_iterations", l.cfg.MaxIterations))
	result := Parse(lastRaw, toolNotes)
	result.AnalysisID = analysisID
	return &result, nil
}

// invokeTool dispatches by exact name lookup. Unknown tools and tool
// errors become observations; nothing escapes the loop.
func (l *Loop) invokeTool(ctx context.Context, name, input string) string {
	tool, ok := l.tools.Get(name)
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Available tools: %s",
			name, strings.Join(l.tools.Names(), ", "))
	}

	toolCtx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	observation, err := tool.Execute(toolCtx, input)
	if err != nil {
		return fmt.Sprintf("Tool %s failed: %s", name, err)
	}
	return observation
}

func writeCycle(scratchpad *strings.Builder, output, observation string) {
	scratchpad.WriteString("\n")
	scratchpad.WriteString(strings.TrimRight(output, "\n"))
	scratchpad.WriteString("\nObservation: ")
	scratchpad.WriteString(observation)
	scratchpad.WriteString("\nThought:")
}
