package hostops

import (
	"context"
	"fmt"
	"os/exec"
)

// Power actions accepted from the dashboard.
const (
	PowerShutdown = "shutdown"
	PowerRestart  = "restart"
	PowerSleep    = "sleep"
)

var powerCommands = map[string]map[string][]string{
	"windows": {
		PowerShutdown: {"shutdown", "/s", "/t", "0"},
		PowerRestart:  {"shutdown", "/r", "/t", "0"},
		PowerSleep:    {"rundll32.exe", "powrprof.dll,SetSuspendState", "0,1,0"},
	},
	"darwin": {
		PowerShutdown: {"shutdown", "-h", "now"},
		PowerRestart:  {"shutdown", "-r", "now"},
		PowerSleep:    {"pmset", "sleepnow"},
	},
	"linux": {
		PowerShutdown: {"shutdown", "-h", "now"},
		PowerRestart:  {"shutdown", "-r", "now"},
		PowerSleep:    {"systemctl", "suspend"},
	},
}

// PowerCommand returns the platform command line for action. ok is false
// for unknown actions or platforms.
func PowerCommand(goos, action string) (argv []string, ok bool) {
	byAction, ok := powerCommands[goos]
	if !ok {
		return nil, false
	}
	argv, ok = byAction[action]
	return argv, ok
}

// Runner executes a command line.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts argv and waits for it to exit.
func (ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, out)
	}
	return nil
}
