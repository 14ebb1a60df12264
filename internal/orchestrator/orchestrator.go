// Package orchestrator processes one trigger end to end: ask, act, notify.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/jarvis/internal/assistant"
	"github.com/kalambet/jarvis/internal/devices"
	"github.com/kalambet/jarvis/internal/dispatch"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/notify"
	"github.com/kalambet/jarvis/internal/provider"
	"github.com/kalambet/jarvis/internal/storage"
)

const (
	DefaultProfile = "Franck"

	// NotUnderstood is sent when the final message would be empty.
	NotUnderstood = "🤔 Je n'ai pas compris la demande."

	failurePrefix = "\n Je n'ai pas pu executer la commande : "
)

// Assistant is the conversational side used by the orchestrator.
type Assistant interface {
	Ask(ctx context.Context, req assistant.AskRequest) (interpret.Response, error)
	InferRooms(ctx context.Context, question string, allowed []string) []string
	Reset(ctx context.Context, profile string) error
}

// Dispatcher checks and performs actions.
type Dispatcher interface {
	IsExecutable(ctx context.Context, resp interpret.Response, profile string) string
	Execute(ctx context.Context, resp interpret.Response, profile, notifyCommand string) dispatch.Outcome
}

// RoomLister returns the configured room inclusion list.
type RoomLister interface {
	Rooms() []string
}

// InteractionLog records processed requests.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Config holds the orchestration switches.
type Config struct {
	DefaultProfile string
	RoomInference  bool
}

// Request is one trigger from the controller or an API client.
type Request struct {
	Profile       string
	Question      string
	Rooms         []string
	Mode          interpret.Mode
	NotifyCommand string
	Images        []provider.Image
	InferRooms    bool
}

// Result is the outcome of Process. Response is nil on failure.
type Result struct {
	Success          bool                `json:"success"`
	Response         *interpret.Response `json:"response"`
	ActionExecuted   bool                `json:"action_executed"`
	NotificationSent bool                `json:"notification_sent"`
	Message          string              `json:"message,omitempty"`
	Error            string              `json:"error,omitempty"`
	RequestID        string              `json:"request_id"`
	Duration         time.Duration       `json:"duration_ns"`
}

// Orchestrator wires the assistant, the dispatcher and the notifier.
type Orchestrator struct {
	assistant    Assistant
	dispatcher   Dispatcher
	notifier     notify.Notifier
	rooms        RoomLister
	interactions InteractionLog
	cfg          Config
}

// New creates an Orchestrator. rooms and interactions may be nil.
func New(a Assistant, d Dispatcher, n notify.Notifier, rooms RoomLister, interactions InteractionLog, cfg Config) *Orchestrator {
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = DefaultProfile
	}
	return &Orchestrator{assistant: a, dispatcher: d, notifier: n, rooms: rooms, interactions: interactions, cfg: cfg}
}

// Process runs one request. Errors are reported in the result.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{RequestID: uuid.NewString()}
	log := slog.With("request_id", res.RequestID, "profile", req.Profile)

	notifyProfile := req.Profile
	if notifyProfile == "" || notifyProfile == dispatch.UnknownProfile {
		notifyProfile = o.cfg.DefaultProfile
	}

	resp, outcome, err := o.run(ctx, log, req, notifyProfile)
	if err != nil {
		log.Error("request failed", "error", err)
		res.Error = err.Error()
		res.Duration = time.Since(start)
		o.record(log, req, res)
		return res
	}
	res.Success = true
	res.ActionExecuted = outcome.Executed

	res.Message = composeMessage(resp, outcome)
	if err := o.notifier.Notify(ctx, notifyProfile, res.Message, req.NotifyCommand); err != nil {
		log.Error("sending notification", "to", notifyProfile, "error", err)
	} else {
		res.NotificationSent = true
	}

	res.Response = &resp
	res.Duration = time.Since(start)
	log.Info("request processed",
		"mode", resp.Mode, "type", resp.ActionType, "executed", res.ActionExecuted,
		"notified", res.NotificationSent, "duration", res.Duration)
	o.record(log, req, res)
	return res
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, req Request, notifyProfile string) (interpret.Response, dispatch.Outcome, error) {
	rooms := req.Rooms
	if o.cfg.RoomInference && req.InferRooms && len(req.Images) == 0 {
		allowed := rooms
		if allowed == nil && o.rooms != nil {
			allowed = o.rooms.Rooms()
		}
		if inferred := o.assistant.InferRooms(ctx, req.Question, allowed); inferred != nil {
			rooms = inferred
		}
	}

	var resp interpret.Response
	switch {
	case assistant.IsReset(req.Question):
		if err := o.assistant.Reset(ctx, req.Profile); err != nil {
			return resp, dispatch.Outcome{}, err
		}
		log.Info("conversation reset")
		return assistant.ResetResponse(req.Question), dispatch.Outcome{}, nil
	case len(req.Images) > 0:
		r, err := o.assistant.Ask(ctx, assistant.AskRequest{
			Profile:  req.Profile,
			Question: req.Question,
			Images:   req.Images,
		})
		if err != nil {
			return resp, dispatch.Outcome{}, err
		}
		resp = r
	default:
		r, err := o.assistant.Ask(ctx, assistant.AskRequest{
			Profile:        req.Profile,
			Question:       req.Question,
			Rooms:          rooms,
			Mode:           req.Mode,
			SendDeviceData: true,
		})
		if err != nil {
			return resp, dispatch.Outcome{}, err
		}
		resp = r
	}

	// A camera reply acts even when the model labelled it informational.
	if resp.Mode != interpret.ModeAction && resp.ActionType != interpret.ActionCamera {
		return resp, dispatch.Outcome{}, nil
	}

	var outcome dispatch.Outcome
	switch resp.ActionType {
	case interpret.ActionCommand:
		if reason := o.dispatcher.IsExecutable(ctx, resp, req.Profile); reason != "" {
			log.Info("action not executed", "reason", reason)
			outcome.Reason = reason
			break
		}
		outcome = o.dispatcher.Execute(ctx, resp, req.Profile, req.NotifyCommand)
	case interpret.ActionCamera:
		asAction := resp
		asAction.Mode = interpret.ModeAction
		if len(devices.SplitIDs(resp.ID)) == 0 {
			outcome.Reason = "Aucun ID de caméra fourni"
			break
		}
		if reason := o.dispatcher.IsExecutable(ctx, asAction, req.Profile); reason != "" {
			log.Info("camera not consulted", "reason", reason)
			outcome.Reason = reason
			break
		}
		if err := o.notifier.Notify(ctx, notifyProfile, resp.Response, req.NotifyCommand); err != nil {
			log.Warn("sending camera intent", "error", err)
		}
		outcome = o.dispatcher.Execute(ctx, resp, req.Profile, req.NotifyCommand)
		resp.Response = outcome.Response
	default:
		outcome = o.dispatcher.Execute(ctx, resp, req.Profile, req.NotifyCommand)
	}
	return resp, outcome, nil
}

func composeMessage(resp interpret.Response, outcome dispatch.Outcome) string {
	msg := resp.Response
	if resp.Mode == interpret.ModeAction && !outcome.Executed {
		msg += failurePrefix + outcome.Reason + ".\n"
	}
	if len(outcome.Names) > 0 {
		msg += " \n" + strings.Join(outcome.Names, "\n")
	}
	if strings.TrimSpace(msg) == "" {
		return NotUnderstood
	}
	return msg
}

func (o *Orchestrator) record(log *slog.Logger, req Request, res Result) {
	if o.interactions == nil {
		return
	}
	i := storage.Interaction{
		ID:               res.RequestID,
		CreatedAt:        time.Now(),
		Profile:          req.Profile,
		Question:         req.Question,
		Message:          res.Message,
		Status:           "completed",
		ActionExecuted:   res.ActionExecuted,
		NotificationSent: res.NotificationSent,
		Error:            res.Error,
		DurationMs:       res.Duration.Milliseconds(),
	}
	if !res.Success {
		i.Status = "failed"
	}
	if res.Response != nil {
		if data, err := json.Marshal(res.Response); err == nil {
			i.ResponseJSON = string(data)
		}
	}
	if err := o.interactions.SaveInteraction(i); err != nil {
		log.Warn("recording interaction", "error", err)
	}
}
