package tasks

import (
	"context"
	"os"
	"strings"

	"github.com/whacked/ktest/scenario"
	"github.com/whacked/ktest/shell"
)

// Command runs a shell command on the host under test, or on the build host when Local is set.
//
// The command may reference ${release}, ${arch}, ${build_dir} and ${source_dir}; other variables come from Env
// and then from the environment of ktest.
type Command struct {
	Ctx   *scenario.Context
	Run   string
	Env   map[string]string
	Local bool
}

func (c *Command) Execute(ctx context.Context) error {
	command, err := c.render(ctx)
	if err != nil {
		return err
	}

	if c.Local {
		_, err := shell.Run(ctx, command, shell.Options{
			Dir:    c.Ctx.SourceDir(),
			Env:    c.Env,
			Logger: c.Ctx.Logger(),
		})

		return err
	}

	conn, err := c.Ctx.Connection()
	if err != nil {
		return err
	}

	_, err = conn.RunCommand(ctx, command, false)

	return err
}

func (c *Command) render(ctx context.Context) (string, error) {
	var (
		release  string
		queryErr error
	)

	mapper := func(name string) string {
		switch name {
		case "release":
			if release == "" && queryErr == nil {
				release, queryErr = c.Ctx.Make().KernelRelease(ctx)
			}

			return release
		case "arch":
			return c.Ctx.Make().Arch
		case "build_dir":
			return c.Ctx.BuildDir()
		case "source_dir":
			return c.Ctx.SourceDir()
		}

		if value, ok := c.Env[name]; ok {
			return value
		}

		return os.Getenv(name)
	}

	rendered := os.Expand(c.Run, mapper)
	if queryErr != nil {
		return "", queryErr
	}

	return strings.TrimSpace(rendered), nil
}
