// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
)

// resetForTest restores package state and silences the global logger.
func resetForTest(t *testing.T) {
	t.Helper()

	origEngine := newEngine
	t.Cleanup(func() {
		newEngine = origEngine
		osExit = os.Exit
		observability.ResetForTest()
	})

	osExit = os.Exit
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})

	// Keep config discovery away from any config.yaml on the developer's machine.
	t.Setenv("HOME", t.TempDir())
	tmpDir := t.TempDir()
	origWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(origWD) })
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// createTempConfig writes content to a config.yaml in a temp dir.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
