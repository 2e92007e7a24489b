package scenario

import (
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/whacked/ktest/errors"
)

// graph maps every task to the set of tasks it depends on. Both levels keep insertion order so that a given
// sequence of registrations always yields the same run order.
type graph struct {
	deps *linkedhashmap.Map
}

func newGraph() *graph {
	return &graph{deps: linkedhashmap.New()}
}

func (g *graph) add(task *Task, deps ...*Task) {
	set := g.node(task)

	for _, dep := range deps {
		g.node(dep)
		set.Add(dep)
	}
}

func (g *graph) node(task *Task) *linkedhashset.Set {
	if set, found := g.deps.Get(task); found {
		return set.(*linkedhashset.Set)
	}

	set := linkedhashset.New()
	g.deps.Put(task, set)

	if task.state == StateConstructed {
		task.state = StateRegistered
	}

	return set
}

func (g *graph) contains(task *Task) bool {
	_, found := g.deps.Get(task)
	return found
}

func (g *graph) tasks() []*Task {
	keys := g.deps.Keys()
	tasks := make([]*Task, len(keys))

	for i, key := range keys {
		tasks[i] = key.(*Task)
	}

	return tasks
}

func (g *graph) dependencies(task *Task) []*Task {
	set, found := g.deps.Get(task)
	if !found {
		return nil
	}

	values := set.(*linkedhashset.Set).Values()
	deps := make([]*Task, len(values))

	for i, value := range values {
		deps[i] = value.(*Task)
	}

	return deps
}

// order returns the tasks reachable from roots, dependencies first. With no roots every task is returned. The
// walk is a depth-first search following registration order, so the result is the same for the same graph.
func (g *graph) order(roots ...*Task) ([]*Task, error) {
	if len(roots) == 0 {
		roots = g.tasks()
	}

	for _, root := range roots {
		if !g.contains(root) {
			return nil, &UnregisteredTaskError{Task: root}
		}
	}

	w := &walk{graph: g, marks: make(map[*Task]mark, g.deps.Size())}

	for _, root := range roots {
		if err := w.visit(root); err != nil {
			return nil, err
		}
	}

	return w.ordered, nil
}

type mark int

const (
	unvisited mark = iota
	inProgress
	done
)

type walk struct {
	graph   *graph
	marks   map[*Task]mark
	stack   []*Task
	ordered []*Task
}

func (w *walk) visit(task *Task) error {
	switch w.marks[task] {
	case done:
		return nil
	case inProgress:
		return &CycleError{Path: w.cyclePath(task)}
	}

	w.marks[task] = inProgress
	w.stack = append(w.stack, task)

	for _, dep := range w.graph.dependencies(task) {
		if err := w.visit(dep); err != nil {
			return err
		}
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.marks[task] = done
	w.ordered = append(w.ordered, task)

	return nil
}

// cyclePath names the tasks from the in-progress occurrence of task down to the edge that leads back to it.
func (w *walk) cyclePath(task *Task) string {
	start := 0

	for i, t := range w.stack {
		if t == task {
			start = i
			break
		}
	}

	names := make([]string, 0, len(w.stack)-start+1)
	for _, t := range w.stack[start:] {
		names = append(names, t.Name())
	}

	return strings.Join(append(names, task.Name()), " -> ")
}

// checkOrder verifies that order holds registered tasks only, each once and after all of its dependencies.
func (g *graph) checkOrder(order []*Task) error {
	seen := make(map[*Task]bool, len(order))

	for _, task := range order {
		if !g.contains(task) {
			return &UnregisteredTaskError{Task: task}
		}

		if seen[task] {
			return errors.Errorf("task %s appears twice in the run order", task.Name())
		}

		for _, dep := range g.dependencies(task) {
			if !seen[dep] {
				return errors.Errorf("task %s is ordered before its dependency %s", task.Name(), dep.Name())
			}
		}

		seen[task] = true
	}

	return nil
}
