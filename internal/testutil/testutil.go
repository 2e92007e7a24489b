// Package testutil holds fakes shared by the package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/shell"
)

const fakeMakeScript = `#!/bin/bash
echo "$*" >> "$(dirname "$0")/calls"
for arg in "$@"; do
	case "$arg" in
		kernelrelease) echo "${FAKE_RELEASE:-6.9.0-ktest}" ;;
		kernelversion) echo "6.9.0" ;;
		fail) echo "make: *** fail" >&2; exit 2 ;;
		tarbz2-pkg)
			for a in "$@"; do
				case "$a" in O=*) out="${a#O=}" ;; ARCH=*) arch="${a#ARCH=}" ;; esac
			done
			[ "$arch" = "x86_64" ] && arch=x86
			echo "payload" > "$out/linux-${FAKE_RELEASE:-6.9.0-ktest}-$arch.tar.bz2"
			;;
	esac
done
`

// FakeMake writes a make replacement into a temp dir and returns its path. Every invocation appends its
// arguments to a "calls" file next to it; Calls reads them back.
func FakeMake(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "make")
	if err := os.WriteFile(path, []byte(fakeMakeScript), 0o755); err != nil { //nolint:gosec
		t.Fatal(err)
	}

	return path
}

// Calls returns the argument lines recorded by the fake make at path.
func Calls(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "calls"))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		t.Fatal(err)
	}

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// Transfer is a recorded Put or Get.
type Transfer struct {
	Src  string
	Dest string
}

// Recorder is a connection.Connection that records every call. Outputs maps a command to the output returned when
// it is captured; Failures maps a command to the exit code it fails with.
type Recorder struct {
	mu sync.Mutex

	Outputs  map[string]string
	Failures map[string]int

	Commands []string
	Puts     []Transfer
	Gets     []Transfer
}

var _ connection.Connection = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{Outputs: map[string]string{}, Failures: map[string]int{}}
}

func (rec *Recorder) RunCommand(_ context.Context, cmd string, captureOutput bool) (string, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.Commands = append(rec.Commands, cmd)

	if code, ok := rec.Failures[cmd]; ok {
		return "", shell.ProcessError{Command: cmd, ExitCode: code}
	}

	if captureOutput {
		return rec.Outputs[cmd], nil
	}

	return "", nil
}

func (rec *Recorder) Put(_ context.Context, src, dest string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.Puts = append(rec.Puts, Transfer{Src: src, Dest: dest})

	return nil
}

func (rec *Recorder) Get(_ context.Context, src, dest string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.Gets = append(rec.Gets, Transfer{Src: src, Dest: dest})

	return nil
}

// Factory returns a connection.Factory always handing out rec.
func (rec *Recorder) Factory() connection.Factory {
	return func() (connection.Connection, error) {
		return rec, nil
	}
}
