package metrics

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MemoryReader reads host and container memory usage from procfs and the
// cgroup filesystem. Roots are configurable so tests can point at fixtures.
type MemoryReader struct {
	ProcRoot   string
	CgroupRoot string
}

func DefaultMemoryReader() MemoryReader {
	return MemoryReader{ProcRoot: "/proc", CgroupRoot: "/sys/fs/cgroup"}
}

type MemoryStatus struct {
	HostUsedBytes    uint64  `json:"hostUsedBytes"`
	HostTotalBytes   uint64  `json:"hostTotalBytes"`
	HostRatio        float64 `json:"hostRatio"`
	CgroupUsedBytes  uint64  `json:"cgroupUsedBytes"`
	CgroupLimitBytes uint64  `json:"cgroupLimitBytes"`
	CgroupRatio      float64 `json:"cgroupRatio"`
}

func (m MemoryReader) Read() MemoryStatus {
	var s MemoryStatus
	s.HostUsedBytes, s.HostTotalBytes = m.hostMemory()
	s.CgroupUsedBytes, s.CgroupLimitBytes = m.cgroupMemory()
	if s.HostTotalBytes > 0 {
		s.HostRatio = float64(s.HostUsedBytes) / float64(s.HostTotalBytes)
	}
	if s.CgroupLimitBytes > 0 {
		s.CgroupRatio = float64(s.CgroupUsedBytes) / float64(s.CgroupLimitBytes)
	}
	return s
}

func parseUint(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "max" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func meminfoKB(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v * 1024, true
}

func (m MemoryReader) hostMemory() (used, total uint64) {
	data, err := os.ReadFile(filepath.Join(m.ProcRoot, "meminfo"))
	if err != nil {
		return 0, 0
	}
	var memTotal, memAvailable uint64
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			if v, ok := meminfoKB(line); ok {
				memTotal = v
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			if v, ok := meminfoKB(line); ok {
				memAvailable = v
			}
		}
	}
	if memTotal == 0 {
		return 0, 0
	}
	if memAvailable > memTotal {
		memAvailable = 0
	}
	return memTotal - memAvailable, memTotal
}

func (m MemoryReader) readPair(usageFile, limitFile string) (uint64, uint64, bool) {
	usage, errU := os.ReadFile(filepath.Join(m.CgroupRoot, usageFile))
	limit, errL := os.ReadFile(filepath.Join(m.CgroupRoot, limitFile))
	if errU != nil || errL != nil {
		return 0, 0, false
	}
	u, okU := parseUint(string(usage))
	l, okL := parseUint(string(limit))
	if !okU || !okL || l == 0 {
		return 0, 0, false
	}
	return u, l, true
}

// cgroupMemory tries cgroup v1 first, then v2. An unlimited cgroup reports
// zero.
func (m MemoryReader) cgroupMemory() (used, limit uint64) {
	if u, l, ok := m.readPair("memory/memory.usage_in_bytes", "memory/memory.limit_in_bytes"); ok {
		return u, l
	}
	if u, l, ok := m.readPair("memory.current", "memory.max"); ok {
		return u, l
	}
	return 0, 0
}
