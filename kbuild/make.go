// Package kbuild wraps the kernel's make based build.
package kbuild

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/shell"
)

// DefaultCommand is the make binary used when Make.Command is empty.
const DefaultCommand = "make"

// Make invokes the kernel build system for one source tree and one output directory.
type Make struct {
	// SrcDir is the kernel source tree.
	SrcDir string
	// OutDir is the binary output directory (make O=).
	OutDir string
	// Arch is the target architecture (make ARCH=).
	Arch string
	// Command is the make binary. It may carry extra words, e.g. "make LLVM=1".
	Command string
	// Jobs is the job count of parallel builds. Zero means runtime.NumCPU().
	Jobs int

	Logger logrus.FieldLogger
}

// New returns a Make for arch, defaulting to the host architecture.
func New(srcDir, outDir, arch string, l logrus.FieldLogger) *Make {
	if arch == "" {
		arch = HostArch()
	}

	return &Make{
		SrcDir:  srcDir,
		OutDir:  outDir,
		Arch:    arch,
		Command: DefaultCommand,
		Logger:  l,
	}
}

// Run calls make with the given target and extra arguments. When parallel is true the build runs Jobs instances
// in parallel. It fails with a shell.ProcessError if make exits with a non-zero status.
func (m *Make) Run(ctx context.Context, target, args string, parallel bool) error {
	argv, err := m.argv(target, args, parallel)
	if err != nil {
		return err
	}

	_, err = shell.Run(ctx, shell.Join(argv), shell.Options{Dir: m.SrcDir, Logger: m.Logger})

	return err
}

// KernelRelease returns the output of `make kernelrelease`.
func (m *Make) KernelRelease(ctx context.Context) (string, error) {
	return m.query(ctx, "kernelrelease")
}

// KernelVersion returns the output of `make kernelversion`.
func (m *Make) KernelVersion(ctx context.Context) (string, error) {
	return m.query(ctx, "kernelversion")
}

// PackageArch is the architecture name used by the kernel's packaging targets.
func (m *Make) PackageArch() string {
	return PackageArch(m.Arch)
}

func (m *Make) query(ctx context.Context, target string) (string, error) {
	argv, err := m.argv(target, "", false)
	if err != nil {
		return "", err
	}

	out, err := shell.Run(ctx, shell.Join(argv), shell.Options{
		Dir:           m.SrcDir,
		Logger:        m.Logger,
		CaptureOutput: true,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimRight(out, "\n"), nil
}

func (m *Make) argv(target, args string, parallel bool) ([]string, error) {
	command := m.Command
	if command == "" {
		command = DefaultCommand
	}

	argv, err := shlex.Split(command)
	if err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "parsing make command %q", command)
	}

	if m.Arch != "" {
		argv = append(argv, "ARCH="+m.Arch)
	}

	if m.OutDir != "" {
		argv = append(argv, "O="+m.OutDir)
	}

	if parallel {
		jobs := m.Jobs
		if jobs <= 0 {
			jobs = runtime.NumCPU()
		}

		argv = append(argv, fmt.Sprintf("-j%d", jobs))
	}

	extra, err := shlex.Split(args)
	if err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "parsing make arguments %q", args)
	}

	argv = append(argv, extra...)

	if target != "" {
		argv = append(argv, target)
	}

	return argv, nil
}

// HostArch returns the kernel name of the architecture ktest runs on.
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "arm64"
	case "386":
		return "i386"
	case "ppc64le", "ppc64":
		return "powerpc"
	default:
		return runtime.GOARCH
	}
}

// PackageArch maps a kernel architecture to the name the packaging targets put in archive names.
func PackageArch(arch string) string {
	if arch == "x86_64" {
		return "x86"
	}

	return arch
}
