package connection

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/whacked/ktest/log"
	"github.com/whacked/ktest/shell"
)

// Local runs commands on the machine running ktest. It is useful when the
// kernel under test is installed on the build host itself.
type Local struct {
	// Dir is the working directory of the commands. Empty means the current one.
	Dir    string
	Logger logrus.FieldLogger
}

var _ Connection = (*Local)(nil)

// NewLocalFactory returns a Factory producing Local connections.
func NewLocalFactory(dir string, l logrus.FieldLogger) Factory {
	return func() (Connection, error) {
		return &Local{Dir: dir, Logger: l}, nil
	}
}

func (conn *Local) RunCommand(ctx context.Context, cmd string, captureOutput bool) (string, error) {
	return shell.Run(ctx, cmd, shell.Options{
		Dir:           conn.Dir,
		Logger:        conn.logger(),
		CaptureOutput: captureOutput,
	})
}

func (conn *Local) Put(_ context.Context, src, dest string) error {
	conn.logger().Infof("Copying %s to localhost:%s", src, dest)
	return shell.CopyFile(src, dest)
}

func (conn *Local) Get(_ context.Context, src, dest string) error {
	conn.logger().Infof("Copying localhost:%s to %s", src, dest)
	return shell.CopyFile(src, dest)
}

func (conn *Local) logger() logrus.FieldLogger {
	if conn.Logger == nil {
		return log.Discard()
	}

	return conn.Logger.WithField(log.HostKey, "localhost")
}
