package tasks

import (
	"context"

	"github.com/whacked/ktest/bootloader"
	"github.com/whacked/ktest/scenario"
)

// Initrd generates the initramfs of the built kernel on the host under test.
type Initrd struct {
	Ctx *scenario.Context
}

func (i *Initrd) Execute(ctx context.Context) error {
	release, err := i.Ctx.Make().KernelRelease(ctx)
	if err != nil {
		return err
	}

	conn, err := i.Ctx.Connection()
	if err != nil {
		return err
	}

	return bootloader.MakeInitrd(ctx, conn, release)
}

// BootEntry adds a boot entry for the built kernel.
type BootEntry struct {
	Ctx *scenario.Context

	Args        string
	Title       string
	MakeDefault bool
	CopyDefault bool
}

func (b *BootEntry) Execute(ctx context.Context) error {
	release, err := b.Ctx.Make().KernelRelease(ctx)
	if err != nil {
		return err
	}

	conn, err := b.Ctx.Connection()
	if err != nil {
		return err
	}

	return bootloader.Grubby{Conn: conn, KernelVersion: release}.AddKernel(ctx, bootloader.AddKernelOptions{
		Args:        b.Args,
		Title:       b.Title,
		MakeDefault: b.MakeDefault,
		CopyDefault: b.CopyDefault,
	})
}

// NextBoot selects the built kernel for the next boot only, leaving the default entry untouched.
type NextBoot struct {
	Ctx *scenario.Context
}

func (n *NextBoot) Execute(ctx context.Context) error {
	release, err := n.Ctx.Make().KernelRelease(ctx)
	if err != nil {
		return err
	}

	conn, err := n.Ctx.Connection()
	if err != nil {
		return err
	}

	title, err := bootloader.Title(ctx, conn, release)
	if err != nil {
		return err
	}

	n.Ctx.Logger().Infof("Next boot: %s", title)

	return bootloader.Grub2Reboot(ctx, conn, title)
}
