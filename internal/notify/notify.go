// Package notify delivers the assistant's final message to a person.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/jarvis/internal/devices"
)

// Notifier sends a message to profile. command names the controller
// notification command the trigger asked to answer on, when there is one.
type Notifier interface {
	Notify(ctx context.Context, profile, message, command string) error
}

// Scenario tags understood by the controller's notification scenario.
const (
	TagProfile = "#profile#"
	TagMessage = "#msg#"
	TagCommand = "#command#"
)

// Scenario launches the controller notification scenario with the message
// passed as tags.
type Scenario struct {
	runner devices.ScenarioRunner
	id     int
}

func NewScenario(runner devices.ScenarioRunner, id int) *Scenario {
	return &Scenario{runner: runner, id: id}
}

func (s *Scenario) Notify(ctx context.Context, profile, message, command string) error {
	tags := map[string]string{
		TagProfile: profile,
		TagMessage: message,
		TagCommand: command,
	}
	if err := s.runner.StartScenario(ctx, s.id, tags); err != nil {
		return fmt.Errorf("launching notification scenario %d: %w", s.id, err)
	}
	slog.Debug("notification sent", "profile", profile, "scenario", s.id)
	return nil
}

// Log writes notifications to the structured log only.
type Log struct{}

func (Log) Notify(_ context.Context, profile, message, command string) error {
	slog.Info("notification", "profile", profile, "command", command, "message", message)
	return nil
}

func (Log) PushSnapshot(_ context.Context, profile string, camera devices.Equipment, still []byte, _ string) error {
	slog.Info("camera snapshot", "profile", profile, "camera", camera.HumanName(), "bytes", len(still))
	return nil
}
