package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoConfig = `
kernel:
  policy: priority
  maxIdleTicks: 50
log:
  level: error
  console: false
tasks:
  - name: greeter
    program: echo
    args: ["hello", "kernel"]
  - name: waiter
    program: wait
    args: ["2"]
    priority: 5
  - name: notifier
    program: notify
    args: ["3"]
    priority: 9
    signal:
      - task: waiter
        flag: 2
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	*runOptions = RunOptions{Timeout: 30 * time.Second, MaxIdleTicks: -1}
	configFile = ""
	verboseFlag = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--config", writeConfig(t, demoConfig), "--timeout", "5s")
	require.NoError(t, err)

	assert.Contains(t, out, "hello kernel")
	assert.Contains(t, out, "PID")
	assert.Contains(t, out, "greeter")
	assert.Contains(t, out, "notifier")
	assert.Contains(t, out, "terminated")
}

func TestRunWithoutTasks(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

func TestRunListPrograms(t *testing.T) {
	out, err := execute(t, "run", "--programs")
	require.NoError(t, err)
	assert.Contains(t, out, "recurse")
	assert.Contains(t, out, "notify")
}

func TestConfigView(t *testing.T) {
	out, err := execute(t, "config", "view", "--config", writeConfig(t, demoConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "policy: priority")
	assert.Contains(t, out, "name: waiter")
}

func TestConfigViewBadFile(t *testing.T) {
	_, err := execute(t, "config", "view", "--config", writeConfig(t, "kernel:\n  policy: lottery\n"))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "taskctl version: dev")
}
