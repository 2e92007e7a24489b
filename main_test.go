package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whacked/ktest/config"
	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/log"
	"github.com/whacked/ktest/scenario"
	"github.com/whacked/ktest/tasks"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newTestContext(t *testing.T, sc *config.Scenario) *scenario.Context {
	t.Helper()

	if sc.Source == "" {
		sc.Source = t.TempDir()
	}

	if sc.TempDir == "" {
		sc.TempDir = t.TempDir()
	}

	c, err := newContext(sc, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	return c
}

func names(list []*scenario.Task) []string {
	out := make([]string, len(list))
	for i, task := range list {
		out[i] = task.Name()
	}

	return out
}

func TestBuildPlan(t *testing.T) {
	t.Parallel()

	sc := &config.Scenario{
		Env:  map[string]string{"GREETING": "hello", "TARGET": "world"},
		Make: "make LLVM=1",
		Jobs: 4,
		Tasks: []config.TaskSpec{
			{Name: "smoke", Type: config.TypeCommand, DependsOn: []string{"install"}, Run: "echo ${GREETING}", Env: map[string]string{"TARGET": "host"}},
			{Name: "install", Type: config.TypeInstall, DependsOn: []string{"build"}},
			{Name: "build", Type: config.TypeBuild, Config: "/boot/config", Parallel: true},
			{Name: "initrd", Type: config.TypeInitrd, DependsOn: []string{"install"}},
			{Name: "entry", Type: config.TypeBootEntry, DependsOn: []string{"initrd"}, Args: "quiet"},
			{Name: "next", Type: config.TypeNextBoot, DependsOn: []string{"entry"}},
			{Name: "publish", Type: config.TypePublish, DependsOn: []string{"build"}, Bucket: "kernels"},
		},
	}

	c := newTestContext(t, sc)
	assert.Equal(t, "make LLVM=1", c.Make().Command)
	assert.Equal(t, 4, c.Make().Jobs)

	p, err := buildPlan(c, sc)
	require.NoError(t, err)

	assert.Equal(t, []string{"smoke", "install", "build", "initrd", "entry", "next", "publish"}, names(c.Tasks()))

	build := p.byName["build"].task
	assert.IsType(t, &tasks.Build{}, build.Executor())
	assert.Equal(t, "/boot/config", build.Executor().(*tasks.Build).Config)
	assert.True(t, build.Executor().(*tasks.Build).Parallel)

	assert.IsType(t, &tasks.Install{}, p.byName["install"].task.Executor())
	assert.IsType(t, &tasks.Initrd{}, p.byName["initrd"].task.Executor())
	assert.IsType(t, &tasks.NextBoot{}, p.byName["next"].task.Executor())
	assert.Equal(t, "quiet", p.byName["entry"].task.Executor().(*tasks.BootEntry).Args)
	assert.Equal(t, "kernels", p.byName["publish"].task.Executor().(*tasks.Publish).Bucket)

	smoke := p.byName["smoke"].task.Executor().(*tasks.Command)
	assert.Equal(t, "echo ${GREETING}", smoke.Run)
	assert.Equal(t, map[string]string{"GREETING": "hello", "TARGET": "host"}, smoke.Env)
	assert.Equal(t, "world", sc.Env["TARGET"])

	assert.Equal(t, []string{"build"}, names(c.DependenciesOf(p.byName["install"].task)))
	assert.Equal(t, []string{"install"}, names(c.DependenciesOf(p.byName["smoke"].task)))

	order, err := c.Order()
	require.NoError(t, err)

	position := make(map[string]int, len(order))
	for i, task := range order {
		position[task.Name()] = i
	}

	for _, spec := range sc.Tasks {
		for _, dep := range spec.DependsOn {
			assert.Less(t, position[dep], position[spec.Name], "%s runs before %s", dep, spec.Name)
		}
	}

	targets, err := p.targets([]string{"install"})
	require.NoError(t, err)

	order, err = c.Order(targets...)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "install"}, names(order))
}

func TestBuildPlanErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		specs []config.TaskSpec
		err   string
	}{
		"unknown dependency": {
			specs: []config.TaskSpec{{Name: "a", Type: config.TypeBuild, DependsOn: []string{"b"}}},
			err:   `task "a" depends on unknown task "b"`,
		},
		"install without build": {
			specs: []config.TaskSpec{
				{Name: "prepare", Type: config.TypeCommand, Run: "true"},
				{Name: "install", Type: config.TypeInstall, DependsOn: []string{"prepare"}},
			},
			err: `install task "install" must depend on a build task`,
		},
		"unknown type": {
			specs: []config.TaskSpec{{Name: "a", Type: "reboot"}},
			err:   `task "a" has unknown type "reboot"`,
		},
		"duplicate name": {
			specs: []config.TaskSpec{{Name: "a", Type: config.TypeBuild}, {Name: "a", Type: config.TypeInitrd}},
			err:   `task "a" is declared twice`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sc := &config.Scenario{Tasks: tc.specs}

			_, err := buildPlan(newTestContext(t, sc), sc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestBuildPlanCycle(t *testing.T) {
	t.Parallel()

	sc := &config.Scenario{Tasks: []config.TaskSpec{
		{Name: "a", Type: config.TypeCommand, Run: "true", DependsOn: []string{"b"}},
		{Name: "b", Type: config.TypeCommand, Run: "true", DependsOn: []string{"a"}},
	}}

	c := newTestContext(t, sc)

	_, err := buildPlan(c, sc)
	require.NoError(t, err)

	_, err = c.Order()

	var cycleErr *scenario.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Regexp(t, `a -> b|b -> a`, cycleErr.Path)
}

func TestPlanTargetsUnknown(t *testing.T) {
	t.Parallel()

	sc := &config.Scenario{Tasks: []config.TaskSpec{{Name: "build", Type: config.TypeBuild}}}

	p, err := buildPlan(newTestContext(t, sc), sc)
	require.NoError(t, err)

	_, err = p.targets([]string{"boot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no task named "boot"`)

	targets, err := p.targets(nil)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestConnectionFactory(t *testing.T) {
	t.Parallel()

	l := log.Discard()

	conn, err := connectionFactory(&config.Scenario{}, l)()
	require.NoError(t, err)

	_, err = conn.RunCommand(context.Background(), "true", false)
	require.ErrorIs(t, err, connection.ErrUnimplemented)

	dir := t.TempDir()

	conn, err = connectionFactory(&config.Scenario{Local: true, Source: dir}, l)()
	require.NoError(t, err)
	require.IsType(t, &connection.Local{}, conn)
	assert.Equal(t, dir, conn.(*connection.Local).Dir)
}

func TestPrintVitals(t *testing.T) {
	t.Parallel()

	sc := &config.Scenario{Tasks: []config.TaskSpec{
		{Name: "build", Type: config.TypeBuild, Revision: "v6.9", Options: "LOCALVERSION=-ktest"},
		{Name: "smoke", Type: config.TypeCommand, Run: "uname -r", Local: true, DependsOn: []string{"build"}},
		{Name: "publish", Type: config.TypePublish, Bucket: "kernels", DependsOn: []string{"build"}},
	}}

	c := newTestContext(t, sc)

	p, err := buildPlan(c, sc)
	require.NoError(t, err)

	var out bytes.Buffer
	for _, task := range c.Tasks() {
		printVitalsForTask(&out, p, task)
	}

	assert.Equal(t, strings.Join([]string{
		"build      [build] (0) @v6.9 defconfig LOCALVERSION=-ktest",
		"command    [smoke] (1) (local) uname -r",
		"  <-- build",
		"publish    [publish] (1) s3://kernels",
		"  <-- build",
		"",
	}, "\n"), out.String())
}

const cliScenario = `
env:
  OUT: %s

local: true
temp_dir: %s

tasks:
  - name: second
    type: command
    depends_on: [first]
    run: echo second >> ${OUT}/log

  - name: first
    type: command
    run: echo first >> ${OUT}/log

  - name: other
    type: command
    run: echo other >> ${OUT}/other
`

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func writeCLIScenario(t *testing.T) (string, string) {
	t.Helper()

	out := t.TempDir()
	path := filepath.Join(t.TempDir(), "Ktest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(cliScenario, out, t.TempDir())), 0o644))

	return path, out
}

func TestCLIRun(t *testing.T) {
	t.Parallel()

	path, out := writeCLIScenario(t)

	_, stderr, err := executeCLI(t, "--file", path, "second")
	require.NoError(t, err)
	assert.Contains(t, stderr, "[second]")

	content, err := os.ReadFile(filepath.Join(out, "log"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))
	assert.NoFileExists(t, filepath.Join(out, "other"))

	_, _, err = executeCLI(t, "--file", path)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "other"))
}

func TestCLITargets(t *testing.T) {
	t.Parallel()

	path, out := writeCLIScenario(t)

	stdout, _, err := executeCLI(t, "--file", path, "--targets")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\nother\n", stdout)
	assert.NoFileExists(t, filepath.Join(out, "log"))
}

func TestCLIDryRun(t *testing.T) {
	t.Parallel()

	path, out := writeCLIScenario(t)

	_, stderr, err := executeCLI(t, "--file", path, "--dry-run", "second")
	require.NoError(t, err)
	assert.Contains(t, stderr, "command    [first] (0) echo first >> ${OUT}/log")
	assert.Contains(t, stderr, "  <-- first")
	assert.NotContains(t, stderr, "[other]")
	assert.NoFileExists(t, filepath.Join(out, "log"))
}

func TestCLIValidate(t *testing.T) {
	t.Parallel()

	path, _ := writeCLIScenario(t)

	stdout, _, err := executeCLI(t, "--file", path, "--validate")
	require.NoError(t, err)
	assert.Equal(t, path+" is valid\n", stdout)

	invalid := filepath.Join(t.TempDir(), "Ktest.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("tasks: []\n"), 0o644))

	_, _, err = executeCLI(t, "--file", invalid, "--validate")
	require.Error(t, err)
}

func TestCLIErrors(t *testing.T) {
	t.Parallel()

	path, _ := writeCLIScenario(t)

	_, _, err := executeCLI(t, "--file", path, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no task named "missing"`)

	_, _, err = executeCLI(t, "--file", path, "--log-level", "chatty")
	require.Error(t, err)

	_, _, err = executeCLI(t, "--file", filepath.Join(t.TempDir(), "Ktest.yaml"))
	require.Error(t, err)
}

func TestCLITaskFailure(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	path := filepath.Join(t.TempDir(), "Ktest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
local: true
temp_dir: %s
tasks:
  - {name: broken, type: command, run: exit 4}
  - {name: after, type: command, run: touch %s/after, depends_on: [broken]}
`, t.TempDir(), out)), 0o644))

	_, _, err := executeCLI(t, "--file", path)

	var taskErr *scenario.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "broken", taskErr.Task.Name())
	assert.Equal(t, scenario.PhaseExecute, taskErr.Phase)
	assert.NoFileExists(t, filepath.Join(out, "after"))
}

func TestLogLevel(t *testing.T) {
	t.Setenv(logLevelEnvVar, "warn")

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	level, err := logLevel(cmd)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, level)

	cmd = newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "debug"}))

	level, err = logLevel(cmd)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)
}

func TestCLIRunsThePrintedOrder(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	path := filepath.Join(t.TempDir(), "Ktest.yaml")

	var decl strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&decl, "  - {name: dep%d, type: command, run: echo dep%d >> %s/log}\n", i, i, out)
	}

	decl.WriteString("  - {name: root, type: command, run: echo root >> " + out + "/log, depends_on: [dep4, dep2, dep0, dep5, dep1, dep3]}\n")

	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("local: true\ntemp_dir: %s\ntasks:\n%s", t.TempDir(), decl.String())), 0o644))

	planned, _, err := executeCLI(t, "--file", path, "--targets", "root")
	require.NoError(t, err)
	assert.Equal(t, "dep4\ndep2\ndep0\ndep5\ndep1\ndep3\nroot\n", planned)

	_, _, err = executeCLI(t, "--file", path, "root")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(out, "log"))
	require.NoError(t, err)
	assert.Equal(t, planned, string(content))
}
