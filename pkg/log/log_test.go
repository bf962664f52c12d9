package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	componentLog := WithComponent("lease")
	componentLog.Info().Msg("component")
	projectLog := WithProject("proj-1")
	projectLog.Info().Msg("project")
	taskLog := WithTask("task-9")
	taskLog.Info().Msg("task")
	workerLog := WithWorker("w1")
	workerLog.Info().Msg("worker")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"component":"lease"`)
	assert.Contains(t, lines[1], `"project_id":"proj-1"`)
	assert.Contains(t, lines[2], `"task_id":"task-9"`)
	assert.Contains(t, lines[3], `"worker":"w1"`)
}
