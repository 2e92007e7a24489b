// Package bootloader manipulates the boot configuration of the host under test.
package bootloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/shell"
)

// Grubby wraps the grubby command for one kernel version.
type Grubby struct {
	Conn          connection.Connection
	KernelVersion string
}

// AddKernelOptions configures Grubby.AddKernel.
type AddKernelOptions struct {
	// Args are additional kernel command line arguments.
	Args string
	// Title is the boot menu title.
	Title string
	// MakeDefault makes the new entry the default one.
	MakeDefault bool
	// CopyDefault copies as much information as possible from the current default kernel.
	CopyDefault bool
}

// AddKernel adds a new boot entry for the kernel.
func (g Grubby) AddKernel(ctx context.Context, opts AddKernelOptions) error {
	var cmdline strings.Builder

	fmt.Fprintf(&cmdline, "grubby --add-kernel=%s", shell.Quote(g.kernelPath()))

	if opts.Args != "" {
		fmt.Fprintf(&cmdline, " --args=%s", shell.Quote(opts.Args))
	}

	if opts.MakeDefault {
		cmdline.WriteString(" --make-default")
	}

	if opts.CopyDefault {
		cmdline.WriteString(" --copy-default")
	}

	if opts.Title != "" {
		fmt.Fprintf(&cmdline, " --title=%s", shell.Quote(opts.Title))
	}

	_, err := g.Conn.RunCommand(ctx, cmdline.String(), false)

	return err
}

// AddArgs adds kernel command line arguments.
func (g Grubby) AddArgs(ctx context.Context, args string) error {
	_, err := g.Conn.RunCommand(ctx,
		fmt.Sprintf("grubby --update-kernel=%s --args=%s", shell.Quote(g.kernelPath()), shell.Quote(args)), false)

	return err
}

// RemoveArgs removes kernel command line arguments.
func (g Grubby) RemoveArgs(ctx context.Context, args string) error {
	_, err := g.Conn.RunCommand(ctx,
		fmt.Sprintf("grubby --update-kernel=%s --remove-args=%s", shell.Quote(g.kernelPath()), shell.Quote(args)), false)

	return err
}

// RemoveKernel removes the kernel entry.
func (g Grubby) RemoveKernel(ctx context.Context) error {
	_, err := g.Conn.RunCommand(ctx, "grubby --remove-kernel="+shell.Quote(g.kernelPath()), false)
	return err
}

// SetDefault makes the kernel the default boot entry.
func (g Grubby) SetDefault(ctx context.Context) error {
	_, err := g.Conn.RunCommand(ctx, "grubby --set-default="+shell.Quote(g.kernelPath()), false)
	return err
}

// DefaultKernel returns the path of the default kernel.
func (g Grubby) DefaultKernel(ctx context.Context) (string, error) {
	out, err := g.Conn.RunCommand(ctx, "grubby --default-kernel", true)
	return strings.TrimRight(out, "\n"), err
}

// DefaultTitle returns the title of the default kernel.
func (g Grubby) DefaultTitle(ctx context.Context) (string, error) {
	out, err := g.Conn.RunCommand(ctx, "grubby --default-title", true)
	return strings.TrimRight(out, "\n"), err
}

// kernelPath is the installed kernel image. grubby accepts either the bare
// version or the image path; the path works on every distribution.
func (g Grubby) kernelPath() string {
	if strings.HasPrefix(g.KernelVersion, "/") {
		return g.KernelVersion
	}

	return "/boot/vmlinuz-" + g.KernelVersion
}
