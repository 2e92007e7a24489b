// Package shell runs local commands through bash and logs their output.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/log"
)

// ProcessError is returned when a command exits with a non-zero status.
type ProcessError struct {
	Command  string
	ExitCode int
}

func (err ProcessError) Error() string {
	return fmt.Sprintf("command %q returned non-zero exit status %d", err.Command, err.ExitCode)
}

// Options configures Run.
type Options struct {
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the process environment.
	Env map[string]string
	// Logger receives the command line and its output. Defaults to a discarding logger.
	Logger logrus.FieldLogger
	// CaptureOutput makes Run return stdout instead of logging it. Stderr is still logged.
	CaptureOutput bool
}

// Run executes command with `bash -c`. Without CaptureOutput, stdout and stderr are merged, logged line by line,
// and an empty string is returned.
func Run(ctx context.Context, command string, opts Options) (string, error) {
	l := opts.Logger
	if l == nil {
		l = log.Discard()
	}

	l.Info(command)

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = opts.Dir

	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for key, value := range opts.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
		}
	}

	logWriter := log.LineWriter(l)

	var stdout bytes.Buffer

	if opts.CaptureOutput {
		cmd.Stdout = &stdout
		cmd.Stderr = logWriter
	} else {
		cmd.Stdout = logWriter
		cmd.Stderr = logWriter
	}

	err := cmd.Run()
	_ = logWriter.Close()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", errors.WithStackTrace(ProcessError{Command: command, ExitCode: exitErr.ExitCode()})
		}

		return "", errors.WithStackTraceAndPrefix(err, "running %q", command)
	}

	if opts.CaptureOutput {
		return stdout.String(), nil
	}

	return "", nil
}

// Expand expands a leading ~ and references to environment variables.
func Expand(path string) (string, error) {
	expanded, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return "", errors.WithStackTrace(err)
	}

	return expanded, nil
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.WithStackTrace(err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStackTrace(err)
	}

	return errors.WithStackTrace(out.Close())
}

// Quote quotes word for bash when it contains anything beyond plain characters.
func Quote(word string) string {
	if word == "" {
		return "''"
	}

	if strings.IndexFunc(word, needsQuoting) < 0 {
		return word
	}

	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

// Join quotes each word of argv and joins them into one command line.
func Join(argv []string) string {
	quoted := make([]string, len(argv))
	for i, word := range argv {
		quoted[i] = Quote(word)
	}

	return strings.Join(quoted, " ")
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_=./,:+@%", r):
		return false
	default:
		return true
	}
}
