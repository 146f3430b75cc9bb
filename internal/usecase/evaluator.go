// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
)

// EvalState is the per-package enforcement state for one tick.
type EvalState string

const (
	StateAllowed  EvalState = "ALLOWED"
	StateGrace    EvalState = "GRACE"
	StatePunished EvalState = "PUNISHED"
)

// Verdict is the evaluator's decision for the current tick.
type Verdict struct {
	State     EvalState
	Punish    bool   // a corrective action must fire this tick
	Sustained bool   // the package entered (or is inside) the penalty box
	Struck    bool   // a strike was recorded this tick
	Reason    string
}

// TickInput is the consistent snapshot the evaluator sees for one tick.
type TickInput struct {
	Sample    domain.ForegroundSample
	Rule      *domain.AppRule // nil when the package has no rule
	UsedSecs  int
	Effective domain.GlobalConfig
	Strike    *domain.StrikeRecord // never nil
	Now       time.Time
}

// Evaluator drives the ALLOWED -> GRACE -> PUNISHED state machine per
// package. It owns no mutable state of its own beyond the grace session
// recorded on the StrikeRecord; the engine feeds it one consistent
// snapshot per tick.
type Evaluator struct {
	classifier domain.Classifier
	logger     *zap.Logger
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(classifier domain.Classifier, logger *zap.Logger) *Evaluator {
	return &Evaluator{classifier: classifier, logger: logger}
}

// ResetSession clears the grace session for a package that left the
// foreground. Grace is per-continuous-foreground-session; the strike
// count survives.
func (e *Evaluator) ResetSession(strike *domain.StrikeRecord) {
	strike.GraceDeadline = time.Time{}
}

// Evaluate runs the state machine for one tick.
func (e *Evaluator) Evaluate(ctx context.Context, in TickInput) Verdict {
	// Hard block short-circuits everything.
	if in.Rule != nil && in.Rule.Blocked {
		return Verdict{State: StatePunished, Punish: true, Reason: "app is blocked"}
	}

	// Content checks bypass the grace window entirely.
	if v, violated := e.checkContent(ctx, in); violated {
		return v
	}

	// Daily limit. A zero limit grants no screen time at all; packages
	// without a rule stay unrestricted.
	if in.Rule != nil && in.UsedSecs >= in.Rule.LimitMins*60 {
		return e.checkLimit(in)
	}

	return Verdict{State: StateAllowed}
}

// checkContent applies the doomscroll guard and the study-mode focus
// check. A classifier failure fails safe to the most restrictive verdict.
func (e *Evaluator) checkContent(ctx context.Context, in TickInput) (Verdict, bool) {
	if len(in.Sample.ScreenText) == 0 {
		return Verdict{}, false
	}

	if in.Effective.DoomscrollMode {
		doom, err := e.classifier.IsDoomscroll(ctx, in.Sample.Package, in.Sample.ScreenText)
		if err != nil {
			e.logger.Warn("doomscroll classifier unavailable, failing closed",
				zap.String("package", in.Sample.Package),
				zap.Error(err))
			doom = true
		}
		if doom {
			sustained := e.registerStrike(in, true)
			return Verdict{
				State:     StatePunished,
				Punish:    true,
				Sustained: sustained,
				Struck:    true,
				Reason:    "ambient content detected",
			}, true
		}
	}

	if in.Effective.StudyMode {
		relevant, err := e.classifier.MatchesFocus(ctx, in.Sample.ScreenText,
			in.Effective.Persona, in.Effective.Focus)
		if err != nil {
			e.logger.Warn("focus classifier unavailable, failing closed",
				zap.String("package", in.Sample.Package),
				zap.Error(err))
			relevant = false
		}
		if !relevant {
			sustained := e.registerStrike(in, true)
			return Verdict{
				State:     StatePunished,
				Punish:    true,
				Sustained: sustained,
				Struck:    true,
				Reason:    "content off focus",
			}, true
		}
	}

	return Verdict{}, false
}

// checkLimit handles the over-limit path: open a grace session, let it
// run out, then strike. A package inside the penalty box gets zero grace.
func (e *Evaluator) checkLimit(in TickInput) Verdict {
	grace := time.Duration(in.Effective.GracePeriodSecs) * time.Second
	if in.Strike.Penalized(in.Now) {
		grace = 0
	}

	if in.Strike.GraceDeadline.IsZero() {
		in.Strike.GraceDeadline = in.Now.Add(grace)
		if grace > 0 {
			return Verdict{State: StateGrace, Reason: "limit reached, grace open"}
		}
	}

	if in.Now.Before(in.Strike.GraceDeadline) {
		return Verdict{State: StateGrace, Reason: "limit reached, grace open"}
	}

	// Grace expired while still foreground: strike and punish. The
	// session is closed so that re-evaluation opens a fresh one.
	in.Strike.GraceDeadline = time.Time{}
	sustained := e.registerStrike(in, false)
	return Verdict{
		State:     StatePunished,
		Punish:    true,
		Sustained: sustained,
		Struck:    true,
		Reason:    "limit exceeded past grace",
	}
}

// registerStrike increments the strike count, capped at max_strikes.
// Reaching the cap always opens the penalty box. Content violations open
// it on every strike (penaltyAlways), matching the guard semantics: a
// struck package loses its grace period for the penalty duration.
func (e *Evaluator) registerStrike(in TickInput, penaltyAlways bool) bool {
	if in.Strike.Count < in.Effective.MaxStrikes {
		in.Strike.Count++
	}

	penalty := time.Duration(in.Effective.PenaltySecs) * time.Second
	if in.Strike.Count >= in.Effective.MaxStrikes || penaltyAlways {
		in.Strike.PunishedUntil = in.Now.Add(penalty)
	}
	return in.Strike.Count >= in.Effective.MaxStrikes
}
