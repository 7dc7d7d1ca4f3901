package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/config"
)

// stackDir is the shipped consent stack.
var stackDir = filepath.Join("..", "..", "stacks", "cookiesconsent")

// testOptions returns root options with default configuration, independent
// of the process environment.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	return &RootOptions{Format: format, cfg: cfg}
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeStack writes a single-file CUE stack into a temp dir.
func writeStack(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stack.cue"), []byte(src), 0o644))
	return dir
}
