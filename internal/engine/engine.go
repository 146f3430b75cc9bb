// Package engine runs the enforcement tick loop. A single goroutine owns
// all mutable state; external reads and mutations are queued as commands
// and applied strictly between ticks, so every tick observes a consistent
// snapshot of rules, config and schedules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/schedule"
	"github.com/wardenhq/warden/internal/usecase"
)

// ErrStopped is returned for calls made after the engine loop has exited.
var ErrStopped = errors.New("engine not running")

// statusLogLines is how many ring entries /status exposes.
const statusLogLines = 50

// Config holds engine loop configuration.
type Config struct {
	TickInterval  time.Duration // foreground sampling cadence
	FlushInterval time.Duration // how often RAM state is synced to the store
	Whitelist     []string      // packages the loop skips entirely
	SeedLimitMins int           // default daily limit for newly seen packages
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:  2 * time.Second,
		FlushInterval: 60 * time.Second,
		SeedLimitMins: 30,
	}
}

// StatusSnapshot is the push-able status the API serves without touching
// loop state.
type StatusSnapshot struct {
	Running     bool     `json:"running"`
	CurrentApp  string   `json:"current_app"`
	LastVerdict string   `json:"last_verdict"`
	Logs        []string `json:"logs"`
}

// AppView is one rule joined with today's usage and strikes.
type AppView struct {
	Package   string `json:"package"`
	Name      string `json:"name"`
	LimitMins int    `json:"limit_mins"`
	UsedMins  int    `json:"used_mins"`
	Strikes   int    `json:"strikes"`
	Blocked   bool   `json:"is_blocked"`
}

// ConfigPatch is a partial config update; nil fields keep prior values.
type ConfigPatch struct {
	Persona          *string
	Focus            *string
	StudyMode        *bool
	DoomscrollMode   *bool
	GracePeriodSecs  *int
	MaxStrikes       *int
	PenaltySecs      *int
	PunishmentType   *string
	PunishmentTarget *string
}

// loopState is everything the tick goroutine owns.
type loopState struct {
	running     bool
	manual      domain.GlobalConfig
	rules       map[string]domain.AppRule
	schedules   []domain.ScheduleWindow
	strikes     map[string]*domain.StrikeRecord
	meter       *usecase.UsageMeter
	lastPkg     string
	lastSample  time.Time
	currentApp  string
	lastVerdict string
	logs        *logRing
}

type command func(st *loopState)

// Engine is the enforcement core.
type Engine struct {
	cfg       Config
	detector  domain.ForegroundDetector
	evaluator *usecase.Evaluator
	punisher  *usecase.Punisher
	store     domain.StateStore
	logger    *zap.Logger
	clock     func() time.Time

	commands chan command
	done     chan struct{}

	// status is republished by the loop after every tick and command so
	// reads never wait behind in-flight collaborator calls.
	statusMu sync.RWMutex
	status   StatusSnapshot
}

// New creates an engine. The store may be nil, in which case state lives
// only in memory (used by tests).
func New(
	cfg Config,
	detector domain.ForegroundDetector,
	evaluator *usecase.Evaluator,
	punisher *usecase.Punisher,
	store domain.StateStore,
	logger *zap.Logger,
) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Engine{
		cfg:       cfg,
		detector:  detector,
		evaluator: evaluator,
		punisher:  punisher,
		store:     store,
		logger:    logger,
		clock:     time.Now,
		commands:  make(chan command, 16),
		done:      make(chan struct{}),
		status: StatusSnapshot{
			CurrentApp:  "Waiting...",
			LastVerdict: "SAFE",
			Logs:        []string{},
		},
	}
}

// Run drives the tick loop until the context is canceled. State is loaded
// from the store on entry and flushed on exit.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	now := e.clock()
	st := &loopState{
		manual:      defaultGlobalConfig(),
		rules:       make(map[string]domain.AppRule),
		strikes:     make(map[string]*domain.StrikeRecord),
		meter:       usecase.NewUsageMeter(now),
		lastSample:  now,
		currentApp:  "Waiting...",
		lastVerdict: "SAFE",
		logs:        newLogRing(100),
	}
	if err := e.load(st); err != nil {
		e.logger.Error("failed to load persisted state", zap.Error(err))
	}
	e.log(st, "engine initialized | %s", st.manual.Persona)
	e.publish(st)

	ticker := time.NewTicker(e.cfg.TickInterval)
	flusher := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	defer flusher.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			e.flush(st)
			return ctx.Err()

		case cmd := <-e.commands:
			cmd(st)

		case <-ticker.C:
			if st.running {
				e.tick(ctx, st)
				e.publish(st)
			}

		case <-flusher.C:
			if st.running {
				e.flush(st)
			}
		}
	}
}

// tick runs one full observe -> resolve -> evaluate -> punish -> record
// pass as a single atomic unit. No single-tick fault is fatal.
func (e *Engine) tick(ctx context.Context, st *loopState) {
	now := e.clock()
	delta := now.Sub(st.lastSample)
	st.lastSample = now
	if delta < 0 || delta > 2*e.cfg.TickInterval {
		delta = e.cfg.TickInterval
	}

	e.rolloverIfNeeded(st, now)

	sample, err := e.detector.Sample(ctx)
	if err != nil {
		e.logger.Warn("foreground sampling failed", zap.Error(err))
		return
	}
	if sample.Package == "" {
		st.currentApp = "Waiting..."
		return
	}

	if sample.Name != "" {
		st.currentApp = sample.Name
	} else {
		st.currentApp = sample.Package
	}

	// App switch closes the previous grace session.
	if sample.Package != st.lastPkg {
		if prev, ok := st.strikes[st.lastPkg]; ok {
			e.evaluator.ResetSession(prev)
		}
		st.lastPkg = sample.Package
		st.lastVerdict = "SAFE"
		e.log(st, "app switch: %s", st.currentApp)
	}

	if e.whitelisted(sample.Package) {
		return
	}

	ev := st.meter.Record(sample.Package, delta, now)
	e.logger.Debug("usage recorded",
		zap.String("package", ev.Package),
		zap.Duration("delta", ev.Delta))

	effective, win := schedule.Resolve(st.manual, st.schedules, now)
	if win != nil {
		e.logger.Debug("schedule window active",
			zap.Int64("id", win.ID),
			zap.String("label", win.Label))
	}

	rule := ruleFor(st, sample.Package)
	strike := st.strikes[sample.Package]
	if strike == nil {
		strike = &domain.StrikeRecord{}
		st.strikes[sample.Package] = strike
	}
	before := strike.Count

	verdict := e.evaluator.Evaluate(ctx, usecase.TickInput{
		Sample:    sample,
		Rule:      rule,
		UsedSecs:  st.meter.Seconds(sample.Package),
		Effective: effective,
		Strike:    strike,
		Now:       now,
	})
	st.lastVerdict = verdictLabel(verdict)

	if verdict.Struck && strike.Count != before {
		e.log(st, "STRIKE %d: %s (%s)", strike.Count, sample.Package, verdict.Reason)
	}

	if verdict.Punish {
		if err := e.punisher.Execute(ctx, effective.Punishment()); err != nil {
			e.log(st, "punishment failed: %v", err)
			e.logger.Warn("punishment failed", zap.Error(err))
		} else {
			e.log(st, "punished %s: %s", sample.Package, verdict.Reason)
		}
	}
}

// rolloverIfNeeded resets usage and strike counts at the local day
// boundary, flushing the closing day first.
func (e *Engine) rolloverIfNeeded(st *loopState, now time.Time) {
	if sameDay(st.meter.Day(), now) {
		return
	}
	e.flush(st)
	st.meter.Rollover(now)
	st.strikes = make(map[string]*domain.StrikeRecord)
	e.log(st, "day boundary: usage and strikes reset")
}

func (e *Engine) whitelisted(pkg string) bool {
	for _, w := range e.cfg.Whitelist {
		if w == pkg {
			return true
		}
	}
	return false
}

// load restores config, rules, schedules and today's usage from the store.
func (e *Engine) load(st *loopState) error {
	if e.store == nil {
		return nil
	}

	if cfg, ok, err := e.store.LoadConfig(); err != nil {
		return fmt.Errorf("load config: %w", err)
	} else if ok {
		cfg.Normalize()
		st.manual = cfg
	}

	rules, err := e.store.LoadRules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	st.rules = rules

	schedules, err := e.store.LoadSchedules()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	st.schedules = schedules

	day, err := e.store.LoadDay(st.meter.Day())
	if err != nil {
		return fmt.Errorf("load day: %w", err)
	}
	seconds := make(map[string]int, len(day))
	for pkg, u := range day {
		seconds[pkg] = u.Seconds
		if u.Strikes > 0 {
			st.strikes[pkg] = &domain.StrikeRecord{Count: u.Strikes}
		}
	}
	st.meter.Load(seconds)
	return nil
}

// flush syncs RAM state to the store.
func (e *Engine) flush(st *loopState) {
	if e.store == nil {
		return
	}
	usage := make(map[string]domain.DayUsage)
	for pkg, secs := range st.meter.Snapshot() {
		usage[pkg] = domain.DayUsage{Seconds: secs}
	}
	for pkg, s := range st.strikes {
		u := usage[pkg]
		u.Strikes = s.Count
		usage[pkg] = u
	}
	if err := e.store.SaveDay(st.meter.Day(), usage); err != nil {
		e.logger.Warn("usage sync failed", zap.Error(err))
	}
}

// publish copies the loop's status into the read-side snapshot.
func (e *Engine) publish(st *loopState) {
	snap := StatusSnapshot{
		Running:     st.running,
		CurrentApp:  st.currentApp,
		LastVerdict: st.lastVerdict,
		Logs:        st.logs.Last(statusLogLines),
	}
	e.statusMu.Lock()
	e.status = snap
	e.statusMu.Unlock()
}

// do queues a command and waits for the loop to apply it between ticks.
// The status snapshot is republished before the caller is released so a
// follow-up Status sees the command's effects.
func (e *Engine) do(fn command) error {
	applied := make(chan struct{})
	wrapped := func(st *loopState) {
		fn(st)
		e.publish(st)
		close(applied)
	}
	select {
	case e.commands <- wrapped:
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-applied:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// --- external operations, all applied between ticks ---

// SetRunning toggles the tick loop. Starting reloads persisted state so
// the first tick observes fresh rules; stopping flushes RAM to the store.
// While stopped no usage accrues and no punishment fires, but analytics
// queries and the agent bridge stay available.
func (e *Engine) SetRunning(run bool) error {
	return e.do(func(st *loopState) {
		if st.running == run {
			return
		}
		if run {
			if err := e.load(st); err != nil {
				e.logger.Error("reload on start failed", zap.Error(err))
			}
			st.lastSample = e.clock()
			e.log(st, "enforcement started")
		} else {
			e.flush(st)
			e.log(st, "enforcement stopped")
		}
		st.running = run
	})
}

// Status returns the latest published status snapshot. It never enters
// the command queue, so it stays responsive while a tick is mid-flight
// inside a slow collaborator call.
func (e *Engine) Status() (StatusSnapshot, error) {
	select {
	case <-e.done:
		return StatusSnapshot{}, ErrStopped
	default:
	}
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status, nil
}

// Apps returns every rule joined with today's usage, sorted by used time
// descending.
func (e *Engine) Apps() ([]AppView, error) {
	var views []AppView
	err := e.do(func(st *loopState) {
		views = make([]AppView, 0, len(st.rules))
		for pkg, rule := range st.rules {
			v := AppView{
				Package:   pkg,
				Name:      rule.Name,
				LimitMins: rule.LimitMins,
				UsedMins:  st.meter.UsedMins(pkg),
				Blocked:   rule.Blocked,
			}
			if s := st.strikes[pkg]; s != nil {
				v.Strikes = s.Count
			}
			views = append(views, v)
		}
	})
	if err != nil {
		return nil, err
	}
	sortAppViews(views)
	return views, nil
}

// UpdateApp sets the limit and blocked flag for a package.
func (e *Engine) UpdateApp(pkg string, limitMins int, blocked bool) error {
	if pkg == "" {
		return &domain.ValidationError{Field: "package", Reason: "must not be empty"}
	}
	if limitMins < 0 {
		return &domain.ValidationError{Field: "limit", Reason: "must be >= 0"}
	}
	return e.do(func(st *loopState) {
		rule, ok := st.rules[pkg]
		if !ok {
			rule = domain.AppRule{Package: pkg, Name: friendlySegment(pkg)}
		}
		rule.LimitMins = limitMins
		rule.Blocked = blocked
		st.rules[pkg] = rule

		// An explicit rule update clears the package's strike state.
		delete(st.strikes, pkg)

		if e.store != nil {
			if err := e.store.UpsertRule(rule); err != nil {
				e.logger.Warn("rule persist failed", zap.String("package", pkg), zap.Error(err))
			}
		}
		e.log(st, "rule updated: %s limit=%dm blocked=%v", pkg, limitMins, blocked)
	})
}

// ConfigView returns the manual global config.
func (e *Engine) ConfigView() (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := e.do(func(st *loopState) { cfg = st.manual })
	return cfg, err
}

// UpdateConfig applies a partial config update. Validation failures leave
// prior config untouched.
func (e *Engine) UpdateConfig(patch ConfigPatch) (domain.GlobalConfig, error) {
	var out domain.GlobalConfig
	var verr error
	err := e.do(func(st *loopState) {
		next := st.manual
		applyPatch(&next, patch)
		next.Normalize()
		if verr = next.Validate(); verr != nil {
			return
		}
		st.manual = next
		out = next
		if e.store != nil {
			if err := e.store.SaveConfig(next); err != nil {
				e.logger.Warn("config persist failed", zap.Error(err))
			}
		}
		e.log(st, "config updated: penalty=%ds type=%s", next.PenaltySecs, next.PunishmentType)
	})
	if err != nil {
		return out, err
	}
	return out, verr
}

// Schedules returns all schedule windows.
func (e *Engine) Schedules() ([]domain.ScheduleWindow, error) {
	var out []domain.ScheduleWindow
	err := e.do(func(st *loopState) {
		out = append([]domain.ScheduleWindow(nil), st.schedules...)
	})
	return out, err
}

// AddSchedule validates and inserts a window, returning it with its
// assigned id.
func (e *Engine) AddSchedule(w domain.ScheduleWindow) (domain.ScheduleWindow, error) {
	if w.PunishmentType == "" {
		w.PunishmentType = domain.PunishHome
	}
	if err := w.Validate(); err != nil {
		return domain.ScheduleWindow{}, err
	}
	var out domain.ScheduleWindow
	var saveErr error
	err := e.do(func(st *loopState) {
		if e.store != nil {
			id, err := e.store.AddSchedule(w)
			if err != nil {
				// Without a persisted id the window could not be
				// addressed for deletion, so it is not kept.
				saveErr = fmt.Errorf("persist schedule: %w", err)
				return
			}
			w.ID = id
		} else {
			w.ID = nextScheduleID(st.schedules)
		}
		st.schedules = append(st.schedules, w)
		out = w
		e.log(st, "schedule added: %s %02d:%02d-%02d:%02d", w.Label,
			w.Start.Hour, w.Start.Minute, w.End.Hour, w.End.Minute)
	})
	if err != nil {
		return domain.ScheduleWindow{}, err
	}
	if saveErr != nil {
		e.logger.Warn("schedule persist failed", zap.Error(saveErr))
		return domain.ScheduleWindow{}, saveErr
	}
	return out, nil
}

// DeleteSchedule removes a window by id.
func (e *Engine) DeleteSchedule(id int64) error {
	var found bool
	err := e.do(func(st *loopState) {
		for i, w := range st.schedules {
			if w.ID == id {
				st.schedules = append(st.schedules[:i], st.schedules[i+1:]...)
				found = true
				break
			}
		}
		if found && e.store != nil {
			if err := e.store.DeleteSchedule(id); err != nil {
				e.logger.Warn("schedule delete failed", zap.Int64("id", id), zap.Error(err))
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// Analytics derives the daily summary from live state.
func (e *Engine) Analytics() (usecase.AnalyticsSnapshot, error) {
	var snap usecase.AnalyticsSnapshot
	err := e.do(func(st *loopState) {
		snap = usecase.BuildAnalytics(st.rules, st.meter.Snapshot(), st.strikes)
	})
	return snap, err
}

// --- helpers ---

func (e *Engine) log(st *loopState, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	st.logs.Append(line)
	e.logger.Info(line)
}

func ruleFor(st *loopState, pkg string) *domain.AppRule {
	if rule, ok := st.rules[pkg]; ok {
		return &rule
	}
	return nil
}

func verdictLabel(v usecase.Verdict) string {
	switch v.State {
	case usecase.StateGrace:
		return "GRACE"
	case usecase.StatePunished:
		if v.Reason != "" {
			return "PUNISHED: " + v.Reason
		}
		return "PUNISHED"
	default:
		return "SAFE"
	}
}

func defaultGlobalConfig() domain.GlobalConfig {
	cfg := domain.GlobalConfig{
		Persona:         "CS Undergrad",
		Focus:           "Data Structures and Algorithms, Maths, Development, AI",
		DoomscrollMode:  true,
		GracePeriodSecs: 10,
		MaxStrikes:      3,
		PenaltySecs:     60,
		PunishmentType:  domain.PunishHome,
	}
	cfg.Normalize()
	return cfg
}

func applyPatch(cfg *domain.GlobalConfig, p ConfigPatch) {
	if p.Persona != nil {
		cfg.Persona = *p.Persona
	}
	if p.Focus != nil {
		cfg.Focus = *p.Focus
	}
	if p.StudyMode != nil {
		cfg.StudyMode = *p.StudyMode
	}
	if p.DoomscrollMode != nil {
		cfg.DoomscrollMode = *p.DoomscrollMode
	}
	if p.GracePeriodSecs != nil {
		cfg.GracePeriodSecs = *p.GracePeriodSecs
	}
	if p.MaxStrikes != nil {
		cfg.MaxStrikes = *p.MaxStrikes
	}
	if p.PenaltySecs != nil {
		cfg.PenaltySecs = *p.PenaltySecs
	}
	if p.PunishmentType != nil {
		cfg.PunishmentType = domain.PunishmentKind(*p.PunishmentType)
	}
	if p.PunishmentTarget != nil {
		cfg.PunishmentTarget = *p.PunishmentTarget
	}
}

func sortAppViews(views []AppView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].UsedMins != views[j].UsedMins {
			return views[i].UsedMins > views[j].UsedMins
		}
		return views[i].Package < views[j].Package
	})
}

func nextScheduleID(windows []domain.ScheduleWindow) int64 {
	var max int64
	for _, w := range windows {
		if w.ID > max {
			max = w.ID
		}
	}
	return max + 1
}

func sameDay(day, now time.Time) bool {
	y1, m1, d1 := day.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func friendlySegment(pkg string) string {
	seg := pkg
	if i := strings.LastIndex(pkg, "."); i >= 0 && i < len(pkg)-1 {
		seg = pkg[i+1:]
	}
	return strings.ToUpper(seg[:1]) + seg[1:]
}
