//go:build !windows

package hostops

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}
