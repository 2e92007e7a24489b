package bootloader

import (
	"context"
	"strings"

	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/shell"
)

// Grub2Reboot makes title the boot entry of the next boot only.
func Grub2Reboot(ctx context.Context, conn connection.Connection, title string) error {
	_, err := conn.RunCommand(ctx, "grub2-reboot "+shell.Quote(title), false)
	return err
}

// Title returns the boot menu title of kernelVersion, read from its Boot Loader Specification entry.
func Title(ctx context.Context, conn connection.Connection, kernelVersion string) (string, error) {
	machineID, err := conn.RunCommand(ctx, "cat /etc/machine-id", true)
	if err != nil {
		return "", err
	}

	machineID = strings.TrimSpace(machineID)

	entry, err := conn.RunCommand(ctx,
		"grep -F title "+shell.Quote("/boot/loader/entries/"+machineID+"-"+kernelVersion+".conf"), true)
	if err != nil {
		return "", err
	}

	fields := strings.Fields(strings.TrimRight(entry, "\n"))
	if len(fields) < 2 {
		return "", errors.Errorf("no title in the boot entry of kernel %s", kernelVersion)
	}

	return strings.Join(fields[1:], " "), nil
}

// MakeInitrd creates the initramfs of kernelVersion with dracut.
func MakeInitrd(ctx context.Context, conn connection.Connection, kernelVersion string) error {
	_, err := conn.RunCommand(ctx, "dracut -f --kver "+shell.Quote(kernelVersion), false)
	return err
}
