// Package connection defines how tasks reach the host under test.
//
// A Connection runs commands on the remote host and moves files in both
// directions. Scenarios that never touch the host can keep the Null
// connection, which fails every call so that a missing connection is noticed
// instead of silently doing nothing.
package connection

import (
	"context"

	"github.com/whacked/ktest/errors"
)

// ErrUnimplemented is returned by every operation of the Null connection.
var ErrUnimplemented = errors.New("operation is not implemented")

// Connection is an API to interact with a remote host.
type Connection interface {
	// RunCommand runs cmd on the host. When captureOutput is true the command's stdout is returned, otherwise the
	// output is logged and an empty string is returned. A non-zero exit status yields a shell.ProcessError.
	RunCommand(ctx context.Context, cmd string, captureOutput bool) (string, error)

	// Put copies the local file src to dest on the host.
	Put(ctx context.Context, src, dest string) error

	// Get copies the host file src to the local path dest.
	Get(ctx context.Context, src, dest string) error
}

// Factory creates a new Connection.
type Factory func() (Connection, error)

// Null is a Connection whose operations all fail with ErrUnimplemented.
type Null struct{}

var _ Connection = Null{}

func (Null) RunCommand(_ context.Context, _ string, _ bool) (string, error) {
	return "", errors.Errorf("run_command: %w", ErrUnimplemented)
}

func (Null) Put(_ context.Context, _, _ string) error {
	return errors.Errorf("put: %w", ErrUnimplemented)
}

func (Null) Get(_ context.Context, _, _ string) error {
	return errors.Errorf("get: %w", ErrUnimplemented)
}

// NullFactory is the default Factory. It returns a Null connection.
func NullFactory() (Connection, error) {
	return Null{}, nil
}
