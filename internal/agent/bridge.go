// Package agent brokers natural-language automation tasks to the device.
// The bridge runs outside the enforcement tick loop and is single-flight:
// one task at a time, never blocking and never blocked by the engine.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
)

// Bridge accepts free-text task requests, translates them to an ordered
// action list and executes the actions sequentially on the device.
type Bridge struct {
	planner   domain.Planner
	automator domain.DeviceAutomator
	logger    *zap.Logger

	mu   sync.Mutex
	busy bool
	task domain.AgentTask
}

// NewBridge creates an agent bridge.
func NewBridge(planner domain.Planner, automator domain.DeviceAutomator, logger *zap.Logger) *Bridge {
	return &Bridge{planner: planner, automator: automator, logger: logger}
}

// Current returns the most recent task, or ok=false when none has run yet.
func (b *Bridge) Current() (domain.AgentTask, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.task, b.task.ID != ""
}

// Execute runs one task to completion and returns its final state. A
// request arriving while another task is RUNNING is rejected with
// ErrAgentBusy. Device actions are not transactional: on the first
// failing action the task ends in ERROR and earlier actions stand.
func (b *Bridge) Execute(ctx context.Context, prompt string) (domain.AgentTask, error) {
	if prompt == "" {
		return domain.AgentTask{}, &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	b.mu.Lock()
	if b.busy {
		b.mu.Unlock()
		return domain.AgentTask{}, domain.ErrAgentBusy
	}
	b.busy = true
	b.task = domain.AgentTask{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    domain.TaskRunning,
		StartedAt: time.Now(),
	}
	b.mu.Unlock()

	b.logger.Info("agent task started", zap.String("prompt", prompt))
	status, output := b.run(ctx, prompt)

	b.mu.Lock()
	b.task.Status = status
	b.task.Output = output
	b.busy = false
	task := b.task
	b.mu.Unlock()

	b.logger.Info("agent task finished",
		zap.String("status", string(status)),
		zap.String("output", output))
	return task, nil
}

func (b *Bridge) run(ctx context.Context, prompt string) (domain.AgentTaskStatus, string) {
	actions, err := b.planner.Plan(ctx, prompt)
	if err != nil {
		return domain.TaskError, fmt.Sprintf("planning failed: %v", err)
	}
	if len(actions) == 0 {
		return domain.TaskError, "planner produced no actions"
	}

	for i, action := range actions {
		if err := b.execute(ctx, action); err != nil {
			return domain.TaskError, fmt.Sprintf("action %d/%d (%s) failed: %v",
				i+1, len(actions), action.Kind, err)
		}
	}
	return domain.TaskSuccess, fmt.Sprintf("completed %d actions", len(actions))
}

func (b *Bridge) execute(ctx context.Context, action domain.Action) error {
	switch action.Kind {
	case domain.ActionHome:
		return b.automator.Home(ctx)
	case domain.ActionBack:
		return b.automator.Back(ctx)
	case domain.ActionOpen:
		if action.Target == "" {
			return &domain.ValidationError{Field: "target", Reason: "OPEN_APP action needs a package"}
		}
		return b.automator.LaunchApp(ctx, action.Target)
	case domain.ActionTap:
		return b.automator.Tap(ctx, action.X, action.Y)
	case domain.ActionType:
		return b.automator.Type(ctx, action.Target)
	case domain.ActionWait:
		select {
		case <-time.After(time.Duration(action.Millis) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action %q", action.Kind)}
	}
}
