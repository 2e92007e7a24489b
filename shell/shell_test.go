package shell_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/log"
	"github.com/whacked/ktest/shell"
)

func TestRunCaptureOutput(t *testing.T) {
	t.Parallel()

	out, err := shell.Run(context.Background(), "echo this is a test", shell.Options{CaptureOutput: true})
	require.NoError(t, err)
	assert.Equal(t, "this is a test", strings.TrimRight(out, "\n"))
}

func TestRunLogsOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	out, err := shell.Run(context.Background(), "echo this is a test", shell.Options{
		Logger: log.New(log.WithOutput(&buf)),
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, buf.String(), "this is a test")
}

func TestRunFailure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := shell.Run(context.Background(), "ls /invalid-dir", shell.Options{
		Logger: log.New(log.WithOutput(&buf)),
	})
	require.Error(t, err)

	var processErr shell.ProcessError
	require.True(t, errors.As(err, &processErr))
	assert.Equal(t, "ls /invalid-dir", processErr.Command)
	assert.NotZero(t, processErr.ExitCode)
	assert.Contains(t, buf.String(), "No such file or directory")
}

func TestRunExitCode(t *testing.T) {
	t.Parallel()

	_, err := shell.Run(context.Background(), "exit 3", shell.Options{CaptureOutput: true})

	var processErr shell.ProcessError
	require.True(t, errors.As(err, &processErr))
	assert.Equal(t, 3, processErr.ExitCode)
}

func TestRunDirAndEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out, err := shell.Run(context.Background(), "pwd -P; echo $KTEST_SHELL_TEST", shell.Options{
		Dir:           dir,
		Env:           map[string]string{"KTEST_SHELL_TEST": "value"},
		CaptureOutput: true,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, lines[0])
	assert.Equal(t, "value", lines[1])
}

func TestExpand(t *testing.T) {
	t.Setenv("MYVAR", "pyktest")

	expanded, err := shell.Expand("test string")
	require.NoError(t, err)
	assert.Equal(t, "test string", expanded)

	expanded, err = shell.Expand("$MYVAR/build")
	require.NoError(t, err)
	assert.Equal(t, "pyktest/build", expanded)
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, shell.CopyFile(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestJoinQuotesWords(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "make ARCH=x86_64 O=/tmp/out -j4", shell.Join([]string{"make", "ARCH=x86_64", "O=/tmp/out", "-j4"}))
	assert.Equal(t, `make 'KCFLAGS=-O2 -g' ''`, shell.Join([]string{"make", "KCFLAGS=-O2 -g", ""}))
	assert.Equal(t, `'it'\''s'`, shell.Quote("it's"))

	out, err := shell.Run(context.Background(), "printf '%s|' "+shell.Join([]string{"a b", "it's", "$HOME"}), shell.Options{CaptureOutput: true})
	require.NoError(t, err)
	assert.Equal(t, "a b|it's|$HOME|", out)
}
