//go:build !windows

package shell

import (
	"os"

	"golang.org/x/sys/unix"
)

// hangup delivers SIGHUP to the shell's process group. pty.Start makes the
// shell a session leader, so its pgid equals its pid. Interactive shells
// forward the hangup to their jobs before exiting.
func hangup(p *os.Process) {
	_ = unix.Kill(-p.Pid, unix.SIGHUP)
}

// killGroup kills the shell's process group outright.
func killGroup(p *os.Process) {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		_ = p.Kill()
	}
}
