// Package tasks provides the steps of a kernel test scenario: building the
// kernel, installing it on the host under test and setting up its boot.
package tasks

import (
	"context"
	"os"
	"path/filepath"

	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/gitrepo"
	"github.com/whacked/ktest/scenario"
	"github.com/whacked/ktest/shell"
)

// Build builds the kernel.
type Build struct {
	Ctx *scenario.Context
	// Config is the path of a .config file. When empty the configuration is generated with defconfig.
	Config string
	// Revision is checked out before building when set.
	Revision string
	// Options are extra arguments to make.
	Options string
	// Parallel builds with one job per CPU.
	Parallel bool
	// Clean runs mrproper before the build.
	Clean bool
}

func (b *Build) Execute(ctx context.Context) error {
	m := b.Ctx.Make()

	if b.Revision != "" {
		hash, err := gitrepo.Checkout(b.Ctx.SourceDir(), b.Revision)
		if err != nil {
			return err
		}

		b.Ctx.Logger().Infof("Checked out %s (%s)", b.Revision, hash)
	}

	if b.Clean {
		if err := m.Run(ctx, "mrproper", "", false); err != nil {
			return err
		}
	}

	if b.Config != "" {
		config, err := shell.Expand(b.Config)
		if err != nil {
			return err
		}

		info, err := os.Stat(config)
		if err != nil {
			return errors.WithStackTrace(err)
		}

		if !info.Mode().IsRegular() {
			return errors.Errorf("kernel config %s is not a regular file", config)
		}

		if err := shell.CopyFile(config, filepath.Join(b.Ctx.BuildDir(), ".config")); err != nil {
			return err
		}

		if err := m.Run(ctx, "olddefconfig", "", false); err != nil {
			return err
		}
	} else if err := m.Run(ctx, "defconfig", "", false); err != nil {
		return err
	}

	return m.Run(ctx, "", b.Options, b.Parallel)
}
