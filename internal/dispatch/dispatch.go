// Package dispatch decides whether an interpreted reply may act on the house
// and performs the command or camera action it names.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jarvis/internal/assistant"
	"github.com/kalambet/jarvis/internal/devices"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/provider"
)

// UnknownProfile is the profile the trigger sends when nobody was recognised.
const UnknownProfile = "Inconnu"

const (
	cameraQuestion       = "Analyse l'image de la caméra de surveillance"
	cameraQuestionPrefix = "Réponds à la question en analysant l'image de la caméra de surveillance: "

	// NoImageResponse replaces the reply when no camera returned a still.
	NoImageResponse = "❌ Impossible de récupérer les images des caméras."

	cameraConcurrency = 4
)

// Asker runs the follow-up vision question of the camera action.
type Asker interface {
	Ask(ctx context.Context, req assistant.AskRequest) (interpret.Response, error)
}

// SnapshotPusher delivers a camera picture to the user's notification
// channel before the analysis is sent. still is nil when the fetch failed.
type SnapshotPusher interface {
	PushSnapshot(ctx context.Context, profile string, camera devices.Equipment, still []byte, notifyCommand string) error
}

// Outcome describes what Execute did.
type Outcome struct {
	Executed bool
	// Names are the human names of the commands or cameras involved.
	Names    []string
	Reason   string
	Response string
}

// Dispatcher executes command and camera actions against the registry.
type Dispatcher struct {
	registry devices.Registry
	asker    Asker
	pusher   SnapshotPusher
	dryRun   bool
}

// New returns a Dispatcher. pusher may be nil, in which case camera
// snapshots are only analysed.
func New(registry devices.Registry, asker Asker, pusher SnapshotPusher, dryRun bool) *Dispatcher {
	return &Dispatcher{registry: registry, asker: asker, pusher: pusher, dryRun: dryRun}
}

// IsExecutable returns "" when the reply may be executed for profile, or the
// first reason it may not.
func (d *Dispatcher) IsExecutable(ctx context.Context, resp interpret.Response, profile string) string {
	if resp.Mode != interpret.ModeAction {
		return fmt.Sprintf("Le mode n'est pas action (%s)", resp.Mode)
	}
	if resp.ActionType != interpret.ActionCommand && resp.ActionType != interpret.ActionCamera {
		return fmt.Sprintf("Type d'action non géré: %s", resp.ActionType)
	}
	ids := devices.SplitIDs(resp.ID)
	if resp.ActionType == interpret.ActionCommand && len(ids) == 0 {
		return fmt.Sprintf("Aucun ID de commande fourni pour l'action %s", resp.ActionType)
	}
	if profile == "" || profile == UnknownProfile {
		return fmt.Sprintf("Action non autorisée pour le profil: %s", profile)
	}
	if d.dryRun {
		return "Action non autorisée"
	}
	if resp.ActionType != interpret.ActionCommand {
		return ""
	}
	for _, id := range ids {
		cmd, err := d.registry.Command(ctx, id)
		if errors.Is(err, devices.ErrNotFound) {
			return fmt.Sprintf("Commande ID %s non trouvée pour l'action %s", id, resp.ActionType)
		}
		if err != nil {
			return fmt.Sprintf("Commande ID %s illisible: %v", id, err)
		}
		if cmd.Type != devices.CommandAction {
			return fmt.Sprintf("La commande ID '%s' n'est pas une action", id)
		}
	}
	return ""
}

// Execute performs the action of resp. It never fails: problems are logged
// and reflected in the outcome.
func (d *Dispatcher) Execute(ctx context.Context, resp interpret.Response, profile, notifyCommand string) Outcome {
	switch resp.ActionType {
	case interpret.ActionCommand:
		return d.executeCommands(ctx, resp)
	case interpret.ActionCamera:
		return d.executeCameras(ctx, resp, profile, notifyCommand)
	default:
		return Outcome{Reason: fmt.Sprintf("unhandled action type: %s", resp.ActionType), Response: resp.Response}
	}
}

func (d *Dispatcher) executeCommands(ctx context.Context, resp interpret.Response) Outcome {
	out := Outcome{Response: resp.Response}
	for _, id := range devices.SplitIDs(resp.ID) {
		out.Executed = true
		cmd, err := d.registry.Command(ctx, id)
		if err != nil {
			slog.Error("resolving command", "id", id, "error", err)
			continue
		}
		out.Names = append(out.Names, cmd.HumanName())
		if _, err := d.registry.Execute(ctx, id, nil); err != nil {
			slog.Error("executing command", "id", id, "name", cmd.HumanName(), "error", err)
			continue
		}
		slog.Info("command executed", "id", id, "name", cmd.HumanName())
	}
	return out
}

type cameraShot struct {
	name  string
	still []byte
}

func (d *Dispatcher) executeCameras(ctx context.Context, resp interpret.Response, profile, notifyCommand string) Outcome {
	ids := devices.SplitIDs(resp.ID)
	shots := make([]cameraShot, len(ids))

	var g errgroup.Group
	g.SetLimit(cameraConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			shots[i] = d.shoot(ctx, id, profile, notifyCommand)
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Response: resp.Response}
	var images []provider.Image
	for i, s := range shots {
		if s.name != "" {
			out.Names = append(out.Names, s.name)
		}
		if len(s.still) > 0 {
			images = append(images, provider.Image{Data: s.still, Filename: fmt.Sprintf("camera-%s.jpg", ids[i])})
		}
	}
	if len(images) == 0 {
		slog.Warn("no camera image available", "ids", resp.ID)
		out.Response = NoImageResponse
		out.Reason = "aucune image de caméra"
		return out
	}

	question := cameraQuestion
	if resp.Question != "" {
		question = cameraQuestionPrefix + resp.Question
	}
	analysis, err := d.asker.Ask(ctx, assistant.AskRequest{
		Profile:  profile,
		Question: question,
		Images:   images,
	})
	if err != nil {
		slog.Error("camera analysis failed", "cameras", len(images), "error", err)
		out.Reason = fmt.Sprintf("analyse des images impossible: %v", err)
		return out
	}
	out.Executed = true
	out.Response = analysis.Response
	return out
}

// shoot fetches one camera still and pushes it to the notification channel.
func (d *Dispatcher) shoot(ctx context.Context, id, profile, notifyCommand string) cameraShot {
	eq, err := d.registry.Equipment(ctx, id)
	if err != nil {
		slog.Error("resolving camera", "id", id, "error", err)
		return cameraShot{}
	}
	shot := cameraShot{name: eq.HumanName()}

	still, err := d.registry.CameraStill(ctx, id)
	if err != nil {
		slog.Warn("camera still unavailable", "camera", shot.name, "error", err)
	} else {
		shot.still = still
	}

	if d.pusher != nil {
		if err := d.pusher.PushSnapshot(ctx, profile, eq, shot.still, notifyCommand); err != nil {
			slog.Warn("pushing camera snapshot", "camera", shot.name, "error", err)
		}
	}
	return shot
}

// CameraCommandPusher asks the camera itself to send its snapshot through
// the controller's notification command.
type CameraCommandPusher struct {
	Registry devices.Registry
}

func (p CameraCommandPusher) PushSnapshot(ctx context.Context, _ string, camera devices.Equipment, _ []byte, notifyCommand string) error {
	if camera.Type != devices.TypeCamera {
		return fmt.Errorf("equipment %s is not a camera", camera.HumanName())
	}
	cmd, ok := camera.CommandByLogicalID(devices.LogicalSendSnapshot)
	if !ok {
		return fmt.Errorf("camera %s has no %s command", camera.HumanName(), devices.LogicalSendSnapshot)
	}

	if !camera.Enabled {
		if err := p.Registry.SetEnabled(ctx, camera, true); err != nil {
			return fmt.Errorf("enabling camera: %w", err)
		}
		defer func() {
			if err := p.Registry.SetEnabled(context.WithoutCancel(ctx), camera, false); err != nil {
				slog.Warn("restoring camera state", "camera", camera.HumanName(), "error", err)
			}
		}()
	}

	options := map[string]string{
		"title":   fmt.Sprintf("nbSnap=1 message='%s' disable_notify=1 sendFirstSnap=0", camera.HumanName()),
		"message": notifyCommand,
	}
	if _, err := p.Registry.Execute(ctx, cmd.ID, options); err != nil {
		return fmt.Errorf("sending snapshot: %w", err)
	}
	return nil
}
