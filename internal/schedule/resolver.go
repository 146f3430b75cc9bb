// Package schedule resolves which time window, if any, governs the
// current tick and applies its overrides to the global config.
package schedule

import (
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/domain"
)

// Resolve picks the winning window for the given instant and returns the
// effective config. With no active window the manual config governs
// unmodified. An active window is a total override of the mode and
// punishment fields, not a partial merge.
//
// Overlaps are resolved deterministically: the window with the latest
// start time wins, ties broken by lowest id. The result is a pure
// function of the input set and is stable under reordering.
func Resolve(manual domain.GlobalConfig, windows []domain.ScheduleWindow, now time.Time) (domain.GlobalConfig, *domain.ScheduleWindow) {
	win := Active(windows, now)
	if win == nil {
		eff := manual
		eff.Normalize()
		return eff, nil
	}

	eff := manual
	eff.StudyMode = win.StudyMode
	eff.DoomscrollMode = win.DoomscrollMode
	eff.PunishmentType = win.PunishmentType
	eff.PunishmentTarget = win.PunishmentTarget
	eff.Focus = fmt.Sprintf("SCHEDULE: %s", win.Label)
	eff.Normalize()
	return eff, win
}

// Active returns the winning window covering the given instant, or nil.
func Active(windows []domain.ScheduleWindow, now time.Time) *domain.ScheduleWindow {
	t := domain.ClockTime{Hour: now.Hour(), Minute: now.Minute()}

	var best *domain.ScheduleWindow
	for i := range windows {
		w := &windows[i]
		if !w.Contains(t) {
			continue
		}
		if best == nil || laterStart(w, best) {
			best = w
		}
	}
	return best
}

// laterStart reports whether a takes precedence over b: latest start_time
// wins, then lowest id.
func laterStart(a, b *domain.ScheduleWindow) bool {
	as, bs := a.Start.Minutes(), b.Start.Minutes()
	if as != bs {
		return as > bs
	}
	return a.ID < b.ID
}
