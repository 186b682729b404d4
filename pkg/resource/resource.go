// Package resource implements the cgroup/host memory sensor (C10 — spec
// §4.10) that sizes the unified cache at startup and watches utilization at
// runtime.
package resource

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/axiomgraph/axiom/pkg/logging"
)

// Environment selects the allocation ratio applied to available memory.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvContainer   Environment = "container"
	EnvProduction  Environment = "production"
)

func (e Environment) ratio() float64 {
	switch e {
	case EnvDevelopment:
		return 0.25
	case EnvContainer:
		return 0.40
	case EnvProduction:
		return 0.50
	default:
		return 0.25
	}
}

// modelReservationBytes is deducted before applying the allocation ratio,
// approximating fixed overhead reserved for an embedding model runtime.
const modelReservationBytes int64 = 150 * 1024 * 1024

// largeHostThresholdBytes is where logarithmic scaling kicks in to avoid
// over-allocating cache budget on very large hosts.
const largeHostThresholdBytes int64 = 64 * 1024 * 1024 * 1024 // 64GB

// Sensor probes available memory and periodically samples utilization.
type Sensor struct {
	mu  sync.RWMutex
	env Environment
	log logging.Logger

	available int64
	allocated int64

	current int64 // bytes currently attributed to the cache by the caller
}

// New creates a Sensor for env, probing memory immediately.
func New(env Environment, log logging.Logger) *Sensor {
	if log == nil {
		log = logging.NopLogger()
	}
	s := &Sensor{env: env, log: log}
	s.available = probeAvailableMemory()
	s.allocated = s.computeAllocation()
	return s
}

func (s *Sensor) computeAllocation() int64 {
	usable := s.available - modelReservationBytes
	if usable < 0 {
		usable = 0
	}
	alloc := int64(float64(usable) * s.env.ratio())
	if s.available > largeHostThresholdBytes {
		// logarithmic damping above the large-host threshold
		scale := math.Log2(float64(s.available)/float64(largeHostThresholdBytes)) + 1
		alloc = int64(float64(alloc) / scale)
	}
	return alloc
}

// CacheBudgetBytes returns the recommended byte budget for the unified
// cache.
func (s *Sensor) CacheBudgetBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocated
}

// ReportUsage records the cache's current byte usage so Utilization/
// Watch can compute pressure.
func (s *Sensor) ReportUsage(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = bytes
}

// Utilization returns current usage as a fraction of the allocated budget.
func (s *Sensor) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allocated == 0 {
		return 0
	}
	return float64(s.current) / float64(s.allocated)
}

// Stats is the get_stats() payload: current allocation, utilization, and an
// actionable recommendation string.
type Stats struct {
	AvailableBytes   int64
	AllocatedBytes   int64
	CurrentBytes     int64
	Utilization      float64
	PressureWarning  bool
	Recommendation   string
}

// GetStats reports the sensor's current view.
func (s *Sensor) GetStats() Stats {
	u := s.Utilization()
	rec := ""
	pressure := u > 0.85
	if pressure {
		rec = "memory utilization above 85%; consider raising cache.max_size or lowering metadataIndex.maxIndexSize"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		AvailableBytes:  s.available,
		AllocatedBytes:  s.allocated,
		CurrentBytes:    s.current,
		Utilization:     u,
		PressureWarning: pressure,
		Recommendation:  rec,
	}
}

// Watch periodically samples utilization and logs a memory-pressure-high
// warning above 85%, until ctx channel stop is closed.
func (s *Sensor) Watch(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if u := s.Utilization(); u > 0.85 {
				s.log.Warn("memory-pressure-high", "utilization", u)
			}
		}
	}
}

// probeAvailableMemory checks cgroup-v2, then cgroup-v1, then host meminfo,
// returning the first successful reading.
func probeAvailableMemory() int64 {
	if v, ok := probeCgroupV2(); ok {
		return v
	}
	if v, ok := probeCgroupV1(); ok {
		return v
	}
	if v, ok := probeHostMeminfo(); ok {
		return v
	}
	return 2 * 1024 * 1024 * 1024 // 2GB fallback when no probe succeeds
}

func probeCgroupV2() (int64, bool) {
	data, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func probeCgroupV1() (int64, bool) {
	data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || v <= 0 || v > (1<<62) {
		return 0, false
	}
	return v, true
}

func probeHostMeminfo() (int64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
