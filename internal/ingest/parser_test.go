package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog_ExtractsFailureSignal(t *testing.T) {
	content := `Step 3/5: compile
Error: Module not found: 'express'
  at Function.Module._resolveFilename (module.js:547:15)
  at require (internal/module.js:11:18)
Step 3 failed
Process exited with exit code: 1`

	signal := ParseLog(content, LogTypeBuild)
	assert.Equal(t, LogTypeBuild, signal.Type)
	assert.Contains(t, signal.ErrorMessage, "Module not found: 'express'")
	assert.Equal(t, 2, signal.LineNumber)
	assert.Contains(t, signal.StackTrace, "Module._resolveFilename")
	assert.Equal(t, "Step 3 failed", signal.FailedStep)
	assert.Equal(t, 1, signal.ExitCode)
	assert.Contains(t, signal.Keywords, "Module not found")
}

func TestParseLog_JoinsMultipleErrorLines(t *testing.T) {
	content := "Error: first problem\nsome context\nFatal: second problem"
	signal := ParseLog(content, LogTypeDeploy)
	assert.Equal(t, "first problem; second problem", signal.ErrorMessage)
}

func TestParseLog_DeduplicatesKeywords(t *testing.T) {
	content := "Error: connection timeout\nError: another timeout occurred"
	signal := ParseLog(content, LogTypeTest)
	assert.Equal(t, []string{"Timeout"}, signal.Keywords)
}

func TestParseLog_UninformativeLogYieldsEmptySignal(t *testing.T) {
	signal := ParseLog("everything looks nominal\nall checks passing", LogTypeBuild)
	assert.Equal(t, LogTypeBuild, signal.Type)
	assert.Empty(t, signal.ErrorMessage)
	assert.Empty(t, signal.StackTrace)
	assert.Empty(t, signal.Keywords)
	assert.Zero(t, signal.ExitCode)
	assert.Zero(t, signal.LineNumber)
}

func TestParseLog_StackTraceEndsAtPlainLine(t *testing.T) {
	content := `panic: runtime error: index out of range
	main.process(0x0)
	/app/main.go:42 +0x1f
Build step complete`

	signal := ParseLog(content, LogTypeBuild)
	assert.Contains(t, signal.StackTrace, "main.go:42")
	assert.NotContains(t, signal.StackTrace, "Build step complete")
}

func TestNormalizeLogType(t *testing.T) {
	for _, valid := range []string{"build", "Deploy", "TEST"} {
		got, err := NormalizeLogType(valid)
		require.NoError(t, err, valid)
		assert.NotEmpty(t, got)
	}

	_, err := NormalizeLogType("lint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_type")
}
