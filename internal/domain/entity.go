// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// PunishmentKind identifies the corrective device action to take on a violation.
type PunishmentKind string

const (
	PunishHome    PunishmentKind = "HOME"
	PunishBack    PunishmentKind = "BACK"
	PunishOpenApp PunishmentKind = "OPEN_APP"
)

// Punishment is the resolved corrective action. Target is only meaningful
// for OPEN_APP; an OPEN_APP punishment with an empty target is invalid and
// execution falls back to HOME.
type Punishment struct {
	Kind   PunishmentKind
	Target string
}

// Validate rejects punishments a config or schedule write must not accept.
func (p Punishment) Validate() error {
	switch p.Kind {
	case PunishHome, PunishBack:
		return nil
	case PunishOpenApp:
		if p.Target == "" {
			return &ValidationError{Field: "punishment_target", Reason: "required when punishment_type is OPEN_APP"}
		}
		return nil
	default:
		return &ValidationError{Field: "punishment_type", Reason: "must be HOME, BACK or OPEN_APP"}
	}
}

// AppRule is the per-package usage rule. Package is the unique key.
type AppRule struct {
	Package   string `json:"package"`
	Name      string `json:"name"`
	LimitMins int    `json:"limit_mins"`
	Blocked   bool   `json:"is_blocked"`
}

// GlobalConfig is the singleton enforcement configuration. It is only
// mutated through explicit config-update commands applied between ticks.
type GlobalConfig struct {
	Persona          string         `json:"persona"`
	Focus            string         `json:"focus"`
	StudyMode        bool           `json:"study_mode"`
	DoomscrollMode   bool           `json:"doomscroll_mode"`
	GracePeriodSecs  int            `json:"grace_period"`
	MaxStrikes       int            `json:"max_strikes"`
	PenaltySecs      int            `json:"penalty_duration"`
	PunishmentType   PunishmentKind `json:"punishment_type"`
	PunishmentTarget string         `json:"punishment_target"`
}

// Punishment returns the config's punishment as a tagged variant.
func (c GlobalConfig) Punishment() Punishment {
	return Punishment{Kind: c.PunishmentType, Target: c.PunishmentTarget}
}

// Normalize fills defaults and applies the study-mode contract: study mode
// forces the doomscroll guard on.
func (c *GlobalConfig) Normalize() {
	if c.PunishmentType == "" {
		c.PunishmentType = PunishHome
	}
	if c.StudyMode {
		c.DoomscrollMode = true
	}
}

// Validate checks invariants a config write must hold.
func (c GlobalConfig) Validate() error {
	if c.GracePeriodSecs < 0 {
		return &ValidationError{Field: "grace_period", Reason: "must be >= 0"}
	}
	if c.MaxStrikes < 1 {
		return &ValidationError{Field: "max_strikes", Reason: "must be >= 1"}
	}
	if c.PenaltySecs < 0 {
		return &ValidationError{Field: "penalty_duration", Reason: "must be >= 0"}
	}
	return c.Punishment().Validate()
}

// ClockTime is a time-of-day without a date, in local wall-clock terms.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Minutes returns the offset from midnight.
func (t ClockTime) Minutes() int { return t.Hour*60 + t.Minute }

// ScheduleWindow is a named time range with its own mode and punishment
// overrides. Windows whose end precedes their start wrap past midnight.
// Windows are immutable once created; edits are delete-and-recreate.
type ScheduleWindow struct {
	ID               int64          `json:"id"`
	Start            ClockTime      `json:"-"`
	End              ClockTime      `json:"-"`
	Label            string         `json:"label"`
	StudyMode        bool           `json:"study_mode"`
	DoomscrollMode   bool           `json:"doomscroll_mode"`
	PunishmentType   PunishmentKind `json:"punishment_type"`
	PunishmentTarget string         `json:"punishment_target"`
}

// Contains reports whether the window covers the given time of day.
// The interval is [start, end); midnight-wrap windows match the two
// half-ranges on either side of midnight.
func (w ScheduleWindow) Contains(t ClockTime) bool {
	now, start, end := t.Minutes(), w.Start.Minutes(), w.End.Minutes()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// Validate checks invariants a schedule write must hold.
func (w ScheduleWindow) Validate() error {
	if w.Start == w.End {
		return &ValidationError{Field: "end_time", Reason: "window must not be empty"}
	}
	return Punishment{Kind: w.PunishmentType, Target: w.PunishmentTarget}.Validate()
}

// StrikeRecord tracks violations for one package since day start.
type StrikeRecord struct {
	Count         int
	GraceDeadline time.Time // zero when no grace session is open
	PunishedUntil time.Time // zero when not in the penalty box
}

// Penalized reports whether the package is inside a sustained penalty.
func (s *StrikeRecord) Penalized(now time.Time) bool {
	return s != nil && now.Before(s.PunishedUntil)
}

// UsageEvent is emitted by the usage monitor each tick the package holds
// the foreground.
type UsageEvent struct {
	Package   string
	Timestamp time.Time
	Delta     time.Duration
}

// ForegroundSample is one observation of the device's foreground activity.
// ScreenText carries visible UI text for the content classifiers; it may
// be empty when the detector cannot read the screen.
type ForegroundSample struct {
	Package    string
	Name       string
	ScreenText []string
}

// AgentTaskStatus is the lifecycle of a natural-language automation task.
type AgentTaskStatus string

const (
	TaskPending AgentTaskStatus = "PENDING"
	TaskRunning AgentTaskStatus = "RUNNING"
	TaskSuccess AgentTaskStatus = "SUCCESS"
	TaskError   AgentTaskStatus = "ERROR"
)

// AgentTask is a transient automation request. One live task at a time.
type AgentTask struct {
	ID        string          `json:"id"`
	Prompt    string          `json:"prompt"`
	Status    AgentTaskStatus `json:"status"`
	Output    string          `json:"output"`
	StartedAt time.Time       `json:"started_at"`
}

// ActionKind is a single device-automation step in an agent plan.
type ActionKind string

const (
	ActionHome ActionKind = "HOME"
	ActionBack ActionKind = "BACK"
	ActionOpen ActionKind = "OPEN_APP"
	ActionTap  ActionKind = "TAP"
	ActionType ActionKind = "TYPE"
	ActionWait ActionKind = "WAIT"
)

// Action is one step of an agent plan, executed in order.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target,omitempty"` // package for OPEN_APP, text for TYPE
	X      int        `json:"x,omitempty"`
	Y      int        `json:"y,omitempty"`
	Millis int        `json:"millis,omitempty"` // duration for WAIT
}

// DayUsage is the persisted per-package accumulation for one local day.
type DayUsage struct {
	Seconds int
	Strikes int
}
