// Package config reads ktest scenario files.
//
// A scenario file is YAML. It is checked against an embedded JSON schema
// before being decoded, and ${VAR} references in its string settings are
// replaced from the file's env map, then from the process environment.
package config

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yaml "gopkg.in/yaml.v3"

	"github.com/whacked/ktest/connection/sshconn"
	"github.com/whacked/ktest/errors"
)

//go:embed schemas/Ktest.yaml.schema.json
var scenarioSchema embed.FS

const scenarioSchemaPath = "schemas/Ktest.yaml.schema.json"

// FileCandidates are the scenario file names Discover looks for, in order.
var FileCandidates = []string{"Ktest.yaml", "ktest.yaml"}

// TaskType selects the step a TaskSpec runs.
type TaskType string

const (
	TypeBuild     TaskType = "build"
	TypeInstall   TaskType = "install"
	TypeInitrd    TaskType = "initrd"
	TypeBootEntry TaskType = "boot-entry"
	TypeNextBoot  TaskType = "next-boot"
	TypeCommand   TaskType = "command"
	TypePublish   TaskType = "publish"
)

// Scenario is a decoded scenario file.
type Scenario struct {
	Env      map[string]string `yaml:"env"`
	Source   string            `yaml:"source"`
	BuildDir string            `yaml:"build_dir"`
	TempDir  string            `yaml:"temp_dir"`
	Arch     string            `yaml:"arch"`
	// Make is the make command, "make" when empty.
	Make string `yaml:"make"`
	Jobs int    `yaml:"jobs"`
	// Local runs the host side steps on the build machine instead of over SSH.
	Local bool                `yaml:"local"`
	Host  *sshconn.HostConfig `yaml:"host"`
	Tasks []TaskSpec          `yaml:"tasks"`
}

// TaskSpec declares one task. Only the fields of its Type are used.
type TaskSpec struct {
	Name      string   `yaml:"name"`
	Type      TaskType `yaml:"type"`
	DependsOn []string `yaml:"depends_on"`

	// build
	Config   string `yaml:"config"`
	Revision string `yaml:"revision"`
	Options  string `yaml:"options"`
	// Parallel defaults to true when the file leaves it out.
	Parallel bool   `yaml:"parallel"`
	Clean    bool   `yaml:"clean"`

	// boot-entry
	Args        string `yaml:"args"`
	Title       string `yaml:"title"`
	MakeDefault bool   `yaml:"make_default"`
	CopyDefault bool   `yaml:"copy_default"`

	// command
	Run   string            `yaml:"run"`
	Env   map[string]string `yaml:"env"`
	Local bool              `yaml:"local"`

	// publish
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// UnmarshalYAML decodes a task, filling in the defaults of the fields left out.
func (spec *TaskSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain TaskSpec

	decoded := plain{Parallel: true}
	if err := node.Decode(&decoded); err != nil {
		return err
	}

	*spec = TaskSpec(decoded)

	return nil
}

// Discover returns the first scenario file candidate present in dir.
func Discover(dir string) (string, error) {
	for _, candidate := range FileCandidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", errors.Errorf("no %s found in %s", strings.Join(FileCandidates, " or "), dir)
}

// Validate checks the scenario file at path against the scenario schema.
func Validate(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStackTrace(err)
	}

	return validate(path, source)
}

func validate(path string, source []byte) error {
	var object map[string]any
	if err := yaml.Unmarshal(source, &object); err != nil {
		return errors.WithStackTraceAndPrefix(err, "reading %s", path)
	}

	schemaSource, err := fs.ReadFile(scenarioSchema, scenarioSchemaPath)
	if err != nil {
		return errors.WithStackTrace(err)
	}

	validator := jsonschema.MustCompileString(scenarioSchemaPath, string(schemaSource))
	if err := validator.Validate(object); err != nil {
		return errors.WithStackTraceAndPrefix(err, "validating %s", path)
	}

	return nil
}

// Load reads, validates and decodes the scenario file at path. Relative
// directories in it are resolved against the directory of the file.
func Load(path string) (*Scenario, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStackTrace(err)
	}

	if err := validate(path, source); err != nil {
		return nil, err
	}

	var sc Scenario
	if err := yaml.Unmarshal(source, &sc); err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "decoding %s", path)
	}

	if err := sc.check(); err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "%s", path)
	}

	sc.substitute()
	sc.resolve(filepath.Dir(path))

	return &sc, nil
}

// Task returns the declaration of the task called name.
func (sc *Scenario) Task(name string) (TaskSpec, bool) {
	for _, spec := range sc.Tasks {
		if spec.Name == name {
			return spec, true
		}
	}

	return TaskSpec{}, false
}

func (sc *Scenario) check() error {
	seen := make(map[string]bool, len(sc.Tasks))

	for _, spec := range sc.Tasks {
		if seen[spec.Name] {
			return errors.Errorf("task %q is declared twice", spec.Name)
		}

		seen[spec.Name] = true
	}

	return nil
}

// vars returns the process environment overlaid with the scenario env map. Values of the env map may refer to
// the process environment.
func (sc *Scenario) vars() map[string]string {
	vars := make(map[string]string)

	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			vars[name] = value
		}
	}

	for name, value := range sc.Env {
		vars[name] = os.ExpandEnv(value)
	}

	return vars
}

func substituteWithContext(s string, vars map[string]string) string {
	return os.Expand(s, func(name string) string {
		return vars[name]
	})
}

// substitute expands ${VAR} references in the settings. Commands are left alone since they are rendered when they
// run, with the build's variables.
func (sc *Scenario) substitute() {
	vars := sc.vars()

	for name := range sc.Env {
		sc.Env[name] = vars[name]
	}

	for _, field := range []*string{&sc.Source, &sc.BuildDir, &sc.TempDir, &sc.Arch, &sc.Make} {
		*field = substituteWithContext(*field, vars)
	}

	if sc.Host != nil {
		for _, field := range []*string{&sc.Host.Host, &sc.Host.User, &sc.Host.KeyFile, &sc.Host.Password, &sc.Host.KnownHosts} {
			*field = substituteWithContext(*field, vars)
		}
	}

	for i := range sc.Tasks {
		spec := &sc.Tasks[i]

		for _, field := range []*string{
			&spec.Config, &spec.Revision, &spec.Options, &spec.Args, &spec.Title,
			&spec.Bucket, &spec.Prefix, &spec.Region,
		} {
			*field = substituteWithContext(*field, vars)
		}
	}
}

func (sc *Scenario) resolve(base string) {
	if sc.Source == "" {
		sc.Source = "."
	}

	for _, field := range []*string{&sc.Source, &sc.BuildDir, &sc.TempDir} {
		if *field == "" || filepath.IsAbs(*field) || strings.HasPrefix(*field, "~") {
			continue
		}

		*field = filepath.Join(base, *field)
	}

	for i := range sc.Tasks {
		config := &sc.Tasks[i].Config
		if *config != "" && !filepath.IsAbs(*config) && !strings.HasPrefix(*config, "~") {
			*config = filepath.Join(base, *config)
		}
	}
}
