package usecase

import (
	"time"

	"github.com/wardenhq/warden/internal/domain"
)

// UsageMeter accumulates foreground time per package for the current
// local day. Deltas are kept as durations so sub-minute remainders are
// never rounded away at low tick rates.
type UsageMeter struct {
	day     time.Time // midnight of the day being accumulated
	elapsed map[string]time.Duration
}

// NewUsageMeter creates a meter anchored to the day containing now.
func NewUsageMeter(now time.Time) *UsageMeter {
	return &UsageMeter{
		day:     dayStart(now),
		elapsed: make(map[string]time.Duration),
	}
}

// Record adds one tick's foreground time for a package and returns the
// corresponding usage event.
func (m *UsageMeter) Record(pkg string, delta time.Duration, now time.Time) domain.UsageEvent {
	m.elapsed[pkg] += delta
	return domain.UsageEvent{Package: pkg, Timestamp: now, Delta: delta}
}

// Rollover resets all accumulation when now has crossed the local day
// boundary. Returns true when a reset happened.
func (m *UsageMeter) Rollover(now time.Time) bool {
	if dayStart(now).Equal(m.day) {
		return false
	}
	m.day = dayStart(now)
	m.elapsed = make(map[string]time.Duration)
	return true
}

// Day returns the midnight anchor of the day being accumulated.
func (m *UsageMeter) Day() time.Time { return m.day }

// Seconds returns whole seconds accumulated for a package today.
func (m *UsageMeter) Seconds(pkg string) int {
	return int(m.elapsed[pkg] / time.Second)
}

// UsedMins returns whole minutes accumulated for a package today.
func (m *UsageMeter) UsedMins(pkg string) int {
	return int(m.elapsed[pkg] / time.Minute)
}

// Snapshot returns per-package whole seconds for every package seen today.
func (m *UsageMeter) Snapshot() map[string]int {
	out := make(map[string]int, len(m.elapsed))
	for pkg, d := range m.elapsed {
		out[pkg] = int(d / time.Second)
	}
	return out
}

// Load replaces today's accumulation, used when restoring persisted state.
func (m *UsageMeter) Load(seconds map[string]int) {
	m.elapsed = make(map[string]time.Duration, len(seconds))
	for pkg, s := range seconds {
		m.elapsed[pkg] = time.Duration(s) * time.Second
	}
}

func dayStart(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
