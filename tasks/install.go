package tasks

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/whacked/ktest/scenario"
	"github.com/whacked/ktest/shell"
)

const (
	packageTarget    = "tarbz2-pkg"
	packageExtension = ".tar.bz2"
	remoteTempDir    = "/tmp"
)

// Install installs the built kernel on the host under test.
type Install struct {
	Ctx *scenario.Context
}

// NewInstall returns an install task depending on build.
func NewInstall(c *scenario.Context, build *scenario.Task, opts ...scenario.TaskOption) *scenario.Task {
	opts = append(opts, scenario.WithDependencies(build))
	return scenario.NewTask("install", &Install{Ctx: c}, opts...)
}

func (i *Install) Execute(ctx context.Context) error {
	pkg, err := packageKernel(ctx, i.Ctx)
	if err != nil {
		return err
	}

	conn, err := i.Ctx.Connection()
	if err != nil {
		return err
	}

	dest := path.Join(remoteTempDir, filepath.Base(pkg))

	if err := conn.Put(ctx, pkg, dest); err != nil {
		return err
	}

	_, err = conn.RunCommand(ctx, fmt.Sprintf("tar -xjf %s -C /", shell.Quote(dest)), false)

	return err
}

// packageFilename returns the archive the packaging target produces for release.
func packageFilename(c *scenario.Context, release string) string {
	return filepath.Join(c.BuildDir(), fmt.Sprintf("linux-%s-%s%s", release, c.Make().PackageArch(), packageExtension))
}

// packageKernel packs the build output in a tarball and returns its path.
func packageKernel(ctx context.Context, c *scenario.Context) (string, error) {
	release, err := c.Make().KernelRelease(ctx)
	if err != nil {
		return "", err
	}

	if err := c.Make().Run(ctx, packageTarget, "", false); err != nil {
		return "", err
	}

	return packageFilename(c, release), nil
}
