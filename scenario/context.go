// Package scenario schedules the tasks of a kernel test scenario.
//
// A Context owns the dependency graph of one scenario together with the
// resources its tasks share: the kernel build wrapper, the build and temp
// directories, and a lazily opened connection to the host under test.
//
// Building a scenario is a two step protocol. A task is first constructed
// with NewTask, then handed to Context.Register (or Context.AddDependencies),
// which records it and its dependencies in the graph. Context.Run then
// executes every registered task exactly once, dependencies first, on the
// calling goroutine, and stops at the first failure.
package scenario

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/kbuild"
	"github.com/whacked/ktest/log"
	"github.com/whacked/ktest/shell"
)

// LockFileName is the file inside the build directory that a run holds locked.
const LockFileName = ".ktest.lock"

// Options configures NewContext.
type Options struct {
	// SourceDir is the kernel source tree.
	SourceDir string
	// BuildDir is the build output directory (make O=). When empty a temporary one is created under TempDir and
	// removed by Close.
	BuildDir string
	// TempDir is the root of temporary files. Defaults to os.TempDir().
	TempDir string
	// Arch is the target architecture. Defaults to the host one.
	Arch string
	// ConnectionFactory creates the connection to the host under test. Defaults to connection.NullFactory.
	ConnectionFactory connection.Factory
	Logger            logrus.FieldLogger
}

// Context is the scheduler of one test scenario.
type Context struct {
	sourceDir    string
	buildDir     string
	tempDir      string
	ownsBuildDir bool

	make   *kbuild.Make
	logger logrus.FieldLogger
	graph  *graph

	connMu  sync.Mutex
	factory connection.Factory
	conn    connection.Connection
}

// NewContext creates the temp and build directories and returns a Context with an empty graph.
func NewContext(opts Options) (*Context, error) {
	l := opts.Logger
	if l == nil {
		l = log.Discard()
	}

	factory := opts.ConnectionFactory
	if factory == nil {
		factory = connection.NullFactory
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	tempDir, err := shell.Expand(tempDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.WithStackTrace(err)
	}

	sourceDir, err := shell.Expand(opts.SourceDir)
	if err != nil {
		return nil, err
	}

	c := &Context{
		sourceDir: sourceDir,
		tempDir:   tempDir,
		logger:    l,
		graph:     newGraph(),
		factory:   factory,
	}

	if opts.BuildDir != "" {
		if c.buildDir, err = shell.Expand(opts.BuildDir); err != nil {
			return nil, err
		}

		if err := os.MkdirAll(c.buildDir, 0o755); err != nil {
			return nil, errors.WithStackTrace(err)
		}
	} else {
		if c.buildDir, err = os.MkdirTemp(tempDir, "ktest-build-"); err != nil {
			return nil, errors.WithStackTrace(err)
		}

		c.ownsBuildDir = true
	}

	c.make = kbuild.New(c.sourceDir, c.buildDir, opts.Arch, l)

	l.Infof("Source directory: %s", c.sourceDir)
	l.Infof("Build directory: %s", c.buildDir)
	l.Infof("Temp directory: %s", c.tempDir)

	return c, nil
}

func (c *Context) SourceDir() string { return c.sourceDir }

func (c *Context) BuildDir() string { return c.buildDir }

func (c *Context) TempDir() string { return c.tempDir }

// Make returns the kernel build wrapper bound to the source and build directories.
func (c *Context) Make() *kbuild.Make { return c.make }

func (c *Context) Logger() logrus.FieldLogger { return c.logger }

// Connection returns the connection to the host under test, creating it on first use. A factory error is
// returned as is and the next call tries again.
func (c *Context) Connection() (connection.Connection, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		conn, err := c.factory()
		if err != nil {
			return nil, errors.WithStackTrace(err)
		}

		c.conn = conn
	}

	return c.conn, nil
}

// CreateTempDir creates a new temporary directory inside the build directory.
func (c *Context) CreateTempDir() (string, error) {
	dir, err := os.MkdirTemp(c.buildDir, "tmp-")
	return dir, errors.WithStackTrace(err)
}

// AddDependencies records that task runs only after every one of deps. Calls accumulate, and tasks unknown to
// the graph are added to it, dependencies with no dependencies of their own. Repeating an edge has no effect.
func (c *Context) AddDependencies(task *Task, deps ...*Task) {
	c.graph.add(task, deps...)
}

// Register records task with the dependencies it was built with.
func (c *Context) Register(task *Task) *Task {
	c.AddDependencies(task, task.Dependencies()...)
	return task
}

// Tasks returns the registered tasks in registration order.
func (c *Context) Tasks() []*Task {
	return c.graph.tasks()
}

// DependenciesOf returns the direct dependencies recorded for task.
func (c *Context) DependenciesOf(task *Task) []*Task {
	return c.graph.dependencies(task)
}

// Order returns a run order of targets and everything they depend on, or of the whole graph when no target is
// given. A cycle yields a *CycleError.
func (c *Context) Order(targets ...*Task) ([]*Task, error) {
	return c.graph.order(targets...)
}

// Run executes every registered task in dependency order and stops at the first failure. The order is computed
// from the edges recorded so far, so Run may be called again after the graph grows.
func (c *Context) Run(ctx context.Context) error {
	return c.RunTargets(ctx)
}

// RunTargets executes targets and their transitive dependencies. With no targets it runs the whole graph.
func (c *Context) RunTargets(ctx context.Context, targets ...*Task) error {
	order, err := c.Order(targets...)
	if err != nil {
		return err
	}

	return c.RunOrder(ctx, order)
}

// RunOrder executes a run order computed by Order. It refuses an order in which a task comes before one of its
// dependencies, so that a plan shown to the user is exactly the one that runs.
func (c *Context) RunOrder(ctx context.Context, order []*Task) error {
	if err := c.graph.checkOrder(order); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(c.buildDir, LockFileName))

	locked, err := lock.TryLock()
	if err != nil {
		return errors.WithStackTrace(err)
	}

	if !locked {
		return errors.WithStackTraceAndPrefix(ErrBuildDirLocked, "%s", c.buildDir)
	}
	defer lock.Unlock() //nolint:errcheck

	for _, task := range order {
		task.state = StatePending
	}

	for i, task := range order {
		l := c.logger.WithField(log.TaskKey, task.Name())
		l.Infof("Running task %d/%d", i+1, len(order))

		start := time.Now()

		if err := task.Invoke(ctx); err != nil {
			l.Errorf("Task failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
			return err
		}

		l.Infof("Task completed in %s", time.Since(start).Round(time.Millisecond))
	}

	return nil
}

// Close closes the connection when it supports it and removes the build directory if NewContext created it.
func (c *Context) Close() error {
	var result *multierror.Error

	c.connMu.Lock()
	if closer, ok := c.conn.(io.Closer); ok {
		result = multierror.Append(result, closer.Close())
	}
	c.conn = nil
	c.connMu.Unlock()

	if c.ownsBuildDir {
		result = multierror.Append(result, os.RemoveAll(c.buildDir))
	}

	return result.ErrorOrNil()
}
