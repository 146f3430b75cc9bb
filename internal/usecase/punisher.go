package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
)

// Punisher executes exactly one corrective device action per violation.
type Punisher struct {
	automator domain.DeviceAutomator
	logger    *zap.Logger
}

// NewPunisher creates a punishment executor.
func NewPunisher(automator domain.DeviceAutomator, logger *zap.Logger) *Punisher {
	return &Punisher{automator: automator, logger: logger}
}

// Execute dispatches the resolved punishment. OPEN_APP with an empty
// target, or a failed launch, fails closed to HOME. Failures are reported
// to the caller and logged, never retried; the state machine completes
// its transition regardless to avoid livelock.
func (p *Punisher) Execute(ctx context.Context, punishment domain.Punishment) error {
	switch punishment.Kind {
	case domain.PunishBack:
		if err := p.automator.Back(ctx); err != nil {
			return &domain.AutomationFailure{Action: "BACK", Err: err}
		}
		return nil

	case domain.PunishOpenApp:
		if punishment.Target == "" {
			p.logger.Warn("OPEN_APP punishment has no target, falling back to HOME")
			return p.home(ctx)
		}
		if err := p.automator.LaunchApp(ctx, punishment.Target); err != nil {
			p.logger.Warn("app launch failed, falling back to HOME",
				zap.String("target", punishment.Target),
				zap.Error(err))
			return p.home(ctx)
		}
		return nil

	default:
		return p.home(ctx)
	}
}

func (p *Punisher) home(ctx context.Context) error {
	if err := p.automator.Home(ctx); err != nil {
		return &domain.AutomationFailure{Action: "HOME", Err: err}
	}
	return nil
}
