package scenario

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// State is the lifecycle position of a task.
type State int

const (
	// StateConstructed is a task no Context knows about yet.
	StateConstructed State = iota
	// StateRegistered is a task present in a Context's graph.
	StateRegistered
	// StatePending is a task scheduled by a run that did not start it yet.
	StatePending
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRegistered:
		return "registered"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Phase names the step of a task invocation.
type Phase string

const (
	PhasePreExec  Phase = "pre-exec"
	PhaseExecute  Phase = "execute"
	PhasePostExec Phase = "post-exec"
)

// Executor is the work a task performs.
type Executor interface {
	Execute(ctx context.Context) error
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context) error

func (f ExecutorFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Hook runs before or after a task's Executor.
type Hook func(ctx context.Context, task *Task) error

// TaskOption configures a task built by NewTask.
type TaskOption func(*Task)

// WithPreExec sets the hook run before the executor.
func WithPreExec(hook Hook) TaskOption {
	return func(t *Task) {
		t.preExec = hook
	}
}

// WithPostExec sets the hook run after a successful executor.
func WithPostExec(hook Hook) TaskOption {
	return func(t *Task) {
		t.postExec = hook
	}
}

// WithDependencies declares the tasks this one must run after. They are recorded in a Context by Register.
func WithDependencies(deps ...*Task) TaskOption {
	return func(t *Task) {
		t.dependencies = append(t.dependencies, deps...)
	}
}

// Task is a step of a test scenario. Tasks compare by identity: two tasks built from the same
// executor and options are still distinct scheduling units.
type Task struct {
	id       uuid.UUID
	name     string
	executor Executor
	preExec  Hook
	postExec Hook

	dependencies []*Task
	state        State
}

// NewTask builds a task. It is not scheduled until it is passed to Context.Register or Context.AddDependencies.
func NewTask(name string, executor Executor, opts ...TaskOption) *Task {
	t := &Task{
		id:       uuid.New(),
		name:     name,
		executor: executor,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.name == "" {
		t.name = t.id.String()
	}

	return t
}

// ID returns the opaque handle of the task.
func (t *Task) ID() string {
	return t.id.String()
}

func (t *Task) Name() string {
	return t.name
}

func (t *Task) String() string {
	return t.name
}

// Executor returns the work the task performs.
func (t *Task) Executor() Executor {
	return t.executor
}

// Dependencies returns the dependencies declared with WithDependencies.
func (t *Task) Dependencies() []*Task {
	return append([]*Task(nil), t.dependencies...)
}

func (t *Task) State() State {
	return t.state
}

// Invoke runs the pre-exec hook, the executor and the post-exec hook, in that order. The first failure stops the
// invocation and is returned as a *TaskError.
func (t *Task) Invoke(ctx context.Context) error {
	t.state = StateRunning

	if err := t.invoke(ctx); err != nil {
		t.state = StateFailed
		return err
	}

	t.state = StateCompleted

	return nil
}

func (t *Task) invoke(ctx context.Context) error {
	if t.preExec != nil {
		if err := t.preExec(ctx, t); err != nil {
			return &TaskError{Task: t, Phase: PhasePreExec, Err: err}
		}
	}

	if t.executor == nil {
		return &TaskError{Task: t, Phase: PhaseExecute, Err: ErrNoExecutor}
	}

	if err := t.executor.Execute(ctx); err != nil {
		return &TaskError{Task: t, Phase: PhaseExecute, Err: err}
	}

	if t.postExec != nil {
		if err := t.postExec(ctx, t); err != nil {
			return &TaskError{Task: t, Phase: PhasePostExec, Err: err}
		}
	}

	return nil
}
