package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	throttleOnRatio  = 0.8
	throttleOffRatio = 0.6
)

// Monitor samples memory usage and flips a throttle flag with hysteresis:
// on above 80% of host or cgroup memory, off once both fall below 60%.
type Monitor struct {
	reader    MemoryReader
	log       *zap.SugaredLogger
	throttled atomic.Bool
	last      atomic.Pointer[MemoryStatus]
}

func NewMonitor(reader MemoryReader, log *zap.SugaredLogger) *Monitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Monitor{reader: reader, log: log}
}

func (m *Monitor) Throttled() bool {
	return m.throttled.Load()
}

// Status returns the latest sample, reading one if none was taken yet.
func (m *Monitor) Status() MemoryStatus {
	if s := m.last.Load(); s != nil {
		return *s
	}
	return m.Sample()
}

// Sample reads memory usage once and updates the throttle flag.
func (m *Monitor) Sample() MemoryStatus {
	s := m.reader.Read()
	m.last.Store(&s)

	throttleOn := s.HostRatio > throttleOnRatio || s.CgroupRatio > throttleOnRatio
	throttleOff := s.HostRatio < throttleOffRatio && s.CgroupRatio < throttleOffRatio

	if throttleOn && m.throttled.CompareAndSwap(false, true) {
		m.log.Warnw("memory throttle enabled", "host_ratio", s.HostRatio, "cgroup_ratio", s.CgroupRatio)
	} else if throttleOff && m.throttled.CompareAndSwap(true, false) {
		m.log.Infow("memory throttle disabled", "host_ratio", s.HostRatio, "cgroup_ratio", s.CgroupRatio)
	}
	return s
}

// Run samples every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}
