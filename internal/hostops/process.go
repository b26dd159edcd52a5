package hostops

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// TopProcesses is the size of the process list sent to the dashboard.
const TopProcesses = 15

// DefaultCPUSample is how long HostLister watches CPU time before reporting.
const DefaultCPUSample = 250 * time.Millisecond

var ErrInvalidPID = errors.New("invalid pid")

// Process is a sampled process.
type Process struct {
	PID  int32
	Name string
	CPU  float64
	Mem  float32
}

// Lister samples the running processes.
type Lister interface {
	Processes(ctx context.Context) ([]Process, error)
}

// HostLister reads processes through gopsutil. CPU is the share of one core
// used during Sample, not the average since the process started.
type HostLister struct {
	Sample time.Duration
}

// Processes returns every process visible to the server. Per-process
// sampling errors leave the field zero rather than dropping the process.
func (l HostLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	sample := l.Sample
	if sample <= 0 {
		sample = DefaultCPUSample
	}

	before := make([]float64, len(procs))
	for i, p := range procs {
		before[i] = busySeconds(ctx, p)
	}
	start := time.Now()
	timer := time.NewTimer(sample)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}
	elapsed := time.Since(start)

	result := make([]Process, 0, len(procs))
	for i, p := range procs {
		name, _ := p.NameWithContext(ctx)
		mem, _ := p.MemoryPercentWithContext(ctx)
		result = append(result, Process{
			PID:  p.Pid,
			Name: name,
			CPU:  cpuPercent(before[i], busySeconds(ctx, p), elapsed),
			Mem:  mem,
		})
	}
	return result, nil
}

// busySeconds returns user plus system CPU time, or -1 when unavailable.
func busySeconds(ctx context.Context, p *process.Process) float64 {
	t, err := p.TimesWithContext(ctx)
	if err != nil {
		return -1
	}
	return t.User + t.System
}

// cpuPercent converts the CPU time spent between two samples into percent
// of one core. Missing samples and counter resets yield zero.
func cpuPercent(before, after float64, elapsed time.Duration) float64 {
	if before < 0 || after < before || elapsed <= 0 {
		return 0
	}
	return (after - before) / elapsed.Seconds() * 100
}

// Top returns at most n processes by CPU, highest first. Ties keep the
// order the lister returned them in.
func Top(ctx context.Context, lister Lister, n int) ([]Process, error) {
	procs, err := lister.Processes(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].CPU > procs[j].CPU
	})
	if len(procs) > n {
		procs = procs[:n]
	}
	return procs, nil
}

// Kill asks the process to terminate.
func Kill(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	return terminate(pid)
}
