// Package telemetry samples host metrics and pushes them on a timer.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	DefaultInterval = 2 * time.Second

	gib           = 1024 * 1024 * 1024
	logEveryTicks = 5
)

// Stats is one host sample.
type Stats struct {
	CPUPercent float64
	MemUsed    uint64
	MemTotal   uint64
	Platform   string
	Distro     string
}

// CPU formats the load with one decimal, e.g. "12.5".
func (s Stats) CPU() string {
	return strconv.FormatFloat(s.CPUPercent, 'f', 1, 64)
}

// MemUsedGiB formats used memory in GiB with two decimals.
func (s Stats) MemUsedGiB() string {
	return formatGiB(s.MemUsed)
}

// MemTotalGiB formats total memory in GiB with two decimals.
func (s Stats) MemTotalGiB() string {
	return formatGiB(s.MemTotal)
}

func formatGiB(b uint64) string {
	return strconv.FormatFloat(float64(b)/gib, 'f', 2, 64)
}

// Sampler reads host metrics.
type Sampler interface {
	Sample(ctx context.Context) (Stats, error)
}

// HostSampler samples the local machine through gopsutil.
type HostSampler struct{}

// Sample reads CPU load, active memory and OS identity.
func (HostSampler) Sample(ctx context.Context) (Stats, error) {
	load, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Stats{}, fmt.Errorf("cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("memory: %w", err)
	}
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("host: %w", err)
	}

	s := Stats{
		MemUsed:  vm.Active,
		MemTotal: vm.Total,
		Platform: info.OS,
		Distro:   info.Platform,
	}
	if len(load) > 0 {
		s.CPUPercent = load[0]
	}
	return s, nil
}

// Poller pushes a sample every Interval while Verified reports true.
type Poller struct {
	Interval time.Duration
	Sampler  Sampler
	Verified func() bool
	Emit     func(Stats)
	Logger   zerolog.Logger

	emitted atomic.Int64
}

// Run ticks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick samples and emits once. It does nothing while unverified, and a
// failed sample is logged and dropped.
func (p *Poller) Tick(ctx context.Context) {
	if p.Verified == nil || !p.Verified() {
		return
	}
	stats, err := p.Sampler.Sample(ctx)
	if err != nil {
		p.Logger.Warn().Err(err).Msg("stats sample failed")
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.Emit(stats)

	if n := p.emitted.Add(1); n%logEveryTicks == 0 {
		p.Logger.Debug().Int64("count", n).Msg("sys-stats emitted")
	}
}

// Emitted returns how many samples have been pushed.
func (p *Poller) Emitted() int64 {
	return p.emitted.Load()
}
