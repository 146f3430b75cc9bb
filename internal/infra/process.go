package infra

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/wardenhq/warden/internal/domain"
)

// ProcessDetector approximates foreground detection on a desktop with no
// adb device: a watched process that is running counts as foreground.
// Used for local development and as a degraded fallback; the adb detector
// is authoritative on Android.
type ProcessDetector struct {
	// watch maps a case-insensitive process-name pattern to the package
	// identifier it stands in for.
	watch map[string]string
}

// NewProcessDetector creates a process-scan detector.
func NewProcessDetector(watch map[string]string) *ProcessDetector {
	return &ProcessDetector{watch: watch}
}

// Sample scans running processes for watched patterns. The first match
// wins; no match yields an empty-package sample.
func (d *ProcessDetector) Sample(ctx context.Context) (domain.ForegroundSample, error) {
	if len(d.watch) == 0 {
		return domain.ForegroundSample{}, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return domain.ForegroundSample{}, err
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		lower := strings.ToLower(name)
		for pattern, pkg := range d.watch {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return domain.ForegroundSample{Package: pkg, Name: name}, nil
			}
		}
	}
	return domain.ForegroundSample{}, nil
}

// Ensure ProcessDetector implements domain.ForegroundDetector.
var _ domain.ForegroundDetector = (*ProcessDetector)(nil)
