package main

import (
	"maps"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/whacked/ktest/config"
	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/connection/sshconn"
	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/scenario"
	"github.com/whacked/ktest/tasks"
)

const tempDirEnvVar = "KTEST_TEMP_DIR"

// plannedTask pairs a registered task with its declaration.
type plannedTask struct {
	spec config.TaskSpec
	task *scenario.Task
}

type plan struct {
	ctx    *scenario.Context
	byName map[string]*plannedTask
}

func connectionFactory(sc *config.Scenario, l logrus.FieldLogger) connection.Factory {
	switch {
	case sc.Local:
		return connection.NewLocalFactory(sc.Source, l)
	case sc.Host != nil:
		return sshconn.NewFactory(*sc.Host, l)
	default:
		return connection.NullFactory
	}
}

func newContext(sc *config.Scenario, l logrus.FieldLogger) (*scenario.Context, error) {
	tempDir := sc.TempDir
	if dir := os.Getenv(tempDirEnvVar); dir != "" {
		tempDir = dir
	}

	c, err := scenario.NewContext(scenario.Options{
		SourceDir:         sc.Source,
		BuildDir:          sc.BuildDir,
		TempDir:           tempDir,
		Arch:              sc.Arch,
		ConnectionFactory: connectionFactory(sc, l),
		Logger:            l,
	})
	if err != nil {
		return nil, err
	}

	if sc.Make != "" {
		c.Make().Command = sc.Make
	}

	c.Make().Jobs = sc.Jobs

	return c, nil
}

// buildPlan registers the tasks of sc in c. Every task is constructed and registered first, so that depends_on
// may name a task declared further down, then the dependency edges are added.
func buildPlan(c *scenario.Context, sc *config.Scenario) (*plan, error) {
	p := &plan{ctx: c, byName: make(map[string]*plannedTask, len(sc.Tasks))}

	for _, spec := range sc.Tasks {
		if _, found := p.byName[spec.Name]; found {
			return nil, errors.Errorf("task %q is declared twice", spec.Name)
		}

		executor, err := newExecutor(c, sc, spec)
		if err != nil {
			return nil, err
		}

		p.byName[spec.Name] = &plannedTask{
			spec: spec,
			task: c.Register(scenario.NewTask(spec.Name, executor)),
		}
	}

	for _, spec := range sc.Tasks {
		planned := p.byName[spec.Name]

		deps := make([]*scenario.Task, 0, len(spec.DependsOn))
		dependsOnBuild := false

		for _, name := range spec.DependsOn {
			dep, found := p.byName[name]
			if !found {
				return nil, errors.Errorf("task %q depends on unknown task %q", spec.Name, name)
			}

			dependsOnBuild = dependsOnBuild || dep.spec.Type == config.TypeBuild
			deps = append(deps, dep.task)
		}

		if spec.Type == config.TypeInstall && !dependsOnBuild {
			return nil, errors.Errorf("install task %q must depend on a build task", spec.Name)
		}

		c.AddDependencies(planned.task, deps...)
	}

	return p, nil
}

func newExecutor(c *scenario.Context, sc *config.Scenario, spec config.TaskSpec) (scenario.Executor, error) {
	switch spec.Type {
	case config.TypeBuild:
		return &tasks.Build{
			Ctx:      c,
			Config:   spec.Config,
			Revision: spec.Revision,
			Options:  spec.Options,
			Parallel: spec.Parallel,
			Clean:    spec.Clean,
		}, nil
	case config.TypeInstall:
		return &tasks.Install{Ctx: c}, nil
	case config.TypeInitrd:
		return &tasks.Initrd{Ctx: c}, nil
	case config.TypeBootEntry:
		return &tasks.BootEntry{
			Ctx:         c,
			Args:        spec.Args,
			Title:       spec.Title,
			MakeDefault: spec.MakeDefault,
			CopyDefault: spec.CopyDefault,
		}, nil
	case config.TypeNextBoot:
		return &tasks.NextBoot{Ctx: c}, nil
	case config.TypeCommand:
		env := maps.Clone(sc.Env)
		if env == nil {
			env = map[string]string{}
		}

		maps.Copy(env, spec.Env)

		return &tasks.Command{Ctx: c, Run: spec.Run, Env: env, Local: spec.Local}, nil
	case config.TypePublish:
		return &tasks.Publish{Ctx: c, Bucket: spec.Bucket, Prefix: spec.Prefix, Region: spec.Region}, nil
	}

	return nil, errors.Errorf("task %q has unknown type %q", spec.Name, spec.Type)
}

// targets returns the tasks named by names. No name means the whole scenario.
func (p *plan) targets(names []string) ([]*scenario.Task, error) {
	targets := make([]*scenario.Task, 0, len(names))

	for _, name := range names {
		planned, found := p.byName[name]
		if !found {
			return nil, errors.Errorf("no task named %q", name)
		}

		targets = append(targets, planned.task)
	}

	return targets, nil
}

func (p *plan) spec(task *scenario.Task) config.TaskSpec {
	if planned, found := p.byName[task.Name()]; found {
		return planned.spec
	}

	return config.TaskSpec{Name: task.Name()}
}
