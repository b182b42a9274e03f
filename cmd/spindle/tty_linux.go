//go:build linux

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal asks the kernel for the file's terminal attributes; anything
// that is not a tty fails the ioctl.
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
