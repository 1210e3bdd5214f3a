// Package hostmetrics periodically samples this process's own CPU and
// memory usage and reports it into the metrics sink, using a ticker-driven
// refresh loop over shirou/gopsutil/v3's process accessors.
package hostmetrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/metrics"
)

// Sampler reports this process's CPU percent and resident set size on a
// fixed interval until its context is cancelled.
type Sampler struct {
	interval time.Duration
	log      *logrus.Entry
	proc     *process.Process
}

// New builds a Sampler for the current process. interval <= 0 disables
// sampling (Run returns immediately).
func New(interval time.Duration, log *logrus.Entry) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{interval: interval, log: log, proc: proc}, nil
}

// Run samples on every tick until ctx is cancelled. Intended to run in its
// own goroutine for the lifetime of the engine process.
func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	cpuPercent, err := s.proc.CPUPercent()
	if err != nil {
		s.log.WithError(err).Debug("hostmetrics: cpu sample failed")
		return
	}
	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		s.log.WithError(err).Debug("hostmetrics: memory sample failed")
		return
	}
	metrics.SetHostMetrics(cpuPercent, memInfo.RSS)
}
