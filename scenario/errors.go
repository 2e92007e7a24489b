package scenario

import (
	"fmt"

	"github.com/whacked/ktest/errors"
)

var (
	// ErrNoExecutor is the cause of a TaskError for a task built without an executor.
	ErrNoExecutor = errors.New("task has no executor")
	// ErrBuildDirLocked is returned by a run when another process holds the build directory.
	ErrBuildDirLocked = errors.New("build directory is locked by another run")
)

// CycleError is returned when the dependency graph is not acyclic. No task runs.
type CycleError struct {
	// Path describes the cycle using task names.
	Path string
	Err  error
}

func (err *CycleError) Error() string {
	return "dependency cycle detected: " + err.Path
}

func (err *CycleError) Unwrap() error {
	return err.Err
}

// TaskError is a failure of one phase of a task. The run stops at the first one.
type TaskError struct {
	Task  *Task
	Phase Phase
	Err   error
}

func (err *TaskError) Error() string {
	return fmt.Sprintf("task %s failed in %s: %v", err.Task.Name(), err.Phase, err.Err)
}

func (err *TaskError) Unwrap() error {
	return err.Err
}

// UnregisteredTaskError is returned when a run targets a task absent from the graph.
type UnregisteredTaskError struct {
	Task *Task
}

func (err *UnregisteredTaskError) Error() string {
	return fmt.Sprintf("task %s is not registered", err.Task.Name())
}
