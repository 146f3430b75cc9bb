package domain

import (
	"context"
	"time"
)

// DeviceAutomator executes corrective actions on the device.
// Implementation: adb key events and launch intents.
type DeviceAutomator interface {
	// Home navigates to the home screen.
	Home(ctx context.Context) error

	// Back navigates back one step.
	Back(ctx context.Context) error

	// LaunchApp force-opens the given package.
	LaunchApp(ctx context.Context, pkg string) error

	// Tap taps absolute screen coordinates.
	Tap(ctx context.Context, x, y int) error

	// Type enters text into the focused field.
	Type(ctx context.Context, text string) error
}

// ForegroundDetector samples the device's current foreground activity.
// Implementations: adb dumpsys (Android), gopsutil process scan (desktop).
type ForegroundDetector interface {
	// Sample returns the current foreground app, or an empty-package sample
	// when nothing restricted is in the foreground.
	Sample(ctx context.Context) (ForegroundSample, error)
}

// Classifier is the opaque content-classification collaborator.
// A returned error means the collaborator is unavailable; callers must
// fail safe to the most restrictive verdict.
type Classifier interface {
	// IsDoomscroll reports whether the foreground content is short-form or
	// ambient feed content (shorts, reels, endless scroll).
	IsDoomscroll(ctx context.Context, pkg string, screenText []string) (bool, error)

	// MatchesFocus reports whether the content is relevant to the
	// configured persona and focus.
	MatchesFocus(ctx context.Context, screenText []string, persona, focus string) (bool, error)
}

// Planner translates a free-text task into an ordered action list.
// Implementation: LLM-backed; treated as an opaque capability.
type Planner interface {
	Plan(ctx context.Context, prompt string) ([]Action, error)
}

// AppInventory lists packages installed on the device.
type AppInventory interface {
	// InstalledApps returns package identifiers with friendly names.
	InstalledApps(ctx context.Context) ([]AppRule, error)
}

// StateStore persists rules, per-day usage and schedule windows.
// Implementation: SQLCipher encrypted SQLite.
type StateStore interface {
	// LoadRules returns all app rules keyed by package.
	LoadRules() (map[string]AppRule, error)

	// UpsertRule inserts or updates one rule.
	UpsertRule(rule AppRule) error

	// SeedRule inserts a rule only if the package is unknown.
	SeedRule(rule AppRule) error

	// LoadDay returns per-package usage for the given local day.
	LoadDay(day time.Time) (map[string]DayUsage, error)

	// SaveDay writes per-package usage for the given local day.
	SaveDay(day time.Time, usage map[string]DayUsage) error

	// LoadConfig returns the persisted global config, or ok=false when
	// none has been saved yet.
	LoadConfig() (cfg GlobalConfig, ok bool, err error)

	// SaveConfig persists the global config.
	SaveConfig(cfg GlobalConfig) error

	// LoadSchedules returns all schedule windows.
	LoadSchedules() ([]ScheduleWindow, error)

	// AddSchedule inserts a window and returns its assigned id.
	AddSchedule(w ScheduleWindow) (int64, error)

	// DeleteSchedule removes a window by id.
	DeleteSchedule(id int64) error

	// Close releases the database connection.
	Close() error
}
