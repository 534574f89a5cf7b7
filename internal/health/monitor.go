package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
)

// Thresholds classify a health sample into a capability level.
type Thresholds struct {
	// MinAvailableRAMBytes below which inference is unsupported.
	MinAvailableRAMBytes uint64
	// ReducedRAMBytes below which inference runs with a warning.
	ReducedRAMBytes uint64
	// ElevatedTempC and CriticalTempC classify the hottest thermal zone.
	ElevatedTempC float64
	CriticalTempC float64
}

// DefaultThresholds suit a small on-device model of a few GB.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAvailableRAMBytes: 1 << 30, // 1 GiB
		ReducedRAMBytes:      2 << 30, // 2 GiB
		ElevatedTempC:        70,
		CriticalTempC:        85,
	}
}

// Monitor samples memory and thermal state from the proc and sysfs trees.
// Paths are injectable so tests can point at fixtures.
type Monitor struct {
	meminfoPath string
	thermalGlob string
	thresholds  Thresholds
	logger      *zap.Logger
}

var _ interfaces.DeviceHealthMonitor = (*Monitor)(nil)

// NewMonitor creates a monitor reading the standard Linux paths.
func NewMonitor(thresholds Thresholds, logger *zap.Logger) *Monitor {
	return &Monitor{
		meminfoPath: "/proc/meminfo",
		thermalGlob: "/sys/class/thermal/thermal_zone*/temp",
		thresholds:  thresholds,
		logger:      logger,
	}
}

// NewMonitorWithPaths creates a monitor reading injected paths, for tests.
func NewMonitorWithPaths(meminfoPath, thermalGlob string, thresholds Thresholds, logger *zap.Logger) *Monitor {
	return &Monitor{
		meminfoPath: meminfoPath,
		thermalGlob: thermalGlob,
		thresholds:  thresholds,
		logger:      logger,
	}
}

// Sample reads one health snapshot and classifies capability.
func (m *Monitor) Sample(ctx context.Context) (interfaces.HealthSnapshot, error) {
	var snapshot interfaces.HealthSnapshot

	if err := ctx.Err(); err != nil {
		return snapshot, err
	}

	available, total, err := readMeminfo(m.meminfoPath)
	if err != nil {
		return snapshot, fmt.Errorf("read meminfo: %w", err)
	}
	snapshot.AvailableRAMBytes = available
	snapshot.TotalRAMBytes = total

	maxTempC, err := readMaxThermal(m.thermalGlob)
	if err != nil {
		// Machines without thermal zones report nominal; memory gating still
		// applies.
		m.logger.Debug("thermal read unavailable", zap.Error(err))
		maxTempC = 0
	}

	switch {
	case maxTempC >= m.thresholds.CriticalTempC:
		snapshot.Thermal = interfaces.ThermalCritical
	case maxTempC >= m.thresholds.ElevatedTempC:
		snapshot.Thermal = interfaces.ThermalElevated
	default:
		snapshot.Thermal = interfaces.ThermalNominal
	}

	switch {
	case snapshot.Thermal == interfaces.ThermalCritical:
		snapshot.Capability = interfaces.CapabilityUnsupported
		snapshot.Reason = fmt.Sprintf("device is severely throttled (%.0f°C); let it cool down before grading", maxTempC)
	case available < m.thresholds.MinAvailableRAMBytes:
		snapshot.Capability = interfaces.CapabilityUnsupported
		snapshot.Reason = fmt.Sprintf("only %d MB of memory available; close other applications before grading", available>>20)
	case snapshot.Thermal == interfaces.ThermalElevated || available < m.thresholds.ReducedRAMBytes:
		snapshot.Capability = interfaces.CapabilityReduced
		snapshot.Reason = "device is under load; grading may be slow"
	default:
		snapshot.Capability = interfaces.CapabilityFull
	}

	return snapshot, nil
}

// readMeminfo returns MemAvailable and MemTotal in bytes.
func readMeminfo(path string) (available, total uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, parseErr := strconv.ParseUint(fields[1], 10, 64)
		if parseErr != nil {
			continue
		}
		switch fields[0] {
		case "MemAvailable:":
			available = kb << 10
		case "MemTotal:":
			total = kb << 10
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal in %s", path)
	}
	return available, total, nil
}

// readMaxThermal returns the hottest zone temperature in °C. Zone files hold
// millidegrees.
func readMaxThermal(glob string) (float64, error) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no thermal zones match %s", glob)
	}

	var maxC float64
	found := false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		c := milli / 1000
		if !found || c > maxC {
			maxC = c
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no readable thermal zones match %s", glob)
	}
	return maxC, nil
}
