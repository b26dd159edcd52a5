//go:build windows

package shell

import "os"

func hangup(p *os.Process) {}

func killGroup(p *os.Process) {
	_ = p.Kill()
}
