// Package assistant runs the conversational ask path: history, device
// snapshot, system prompt, provider call and reply interpretation.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/jarvis/internal/conversation"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/provider"
)

const (
	DefaultTextModel   = "gpt-4o-mini"
	DefaultVisionModel = "gpt-4o"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000

	roomInferenceMaxTokens = 500

	// WholeHouse is the room the model answers when it cannot narrow down.
	WholeHouse = "Maison"

	visionHistoryMarker = " [avec image(s)]"
)

// Completer is the provider surface used by the assistant.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (provider.Completion, error)
}

// Snapshotter renders the device snapshot for a set of rooms.
type Snapshotter interface {
	Collect(ctx context.Context, rooms []string, mode interpret.Mode) (string, error)
}

// Config holds the model settings.
type Config struct {
	TextModel   string
	VisionModel string
	Temperature float64
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.TextModel == "" {
		c.TextModel = DefaultTextModel
	}
	if c.VisionModel == "" {
		c.VisionModel = DefaultVisionModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Assistant answers questions with per-profile conversation memory.
type Assistant struct {
	llm      Completer
	history  conversation.Store
	snapshot Snapshotter
	cfg      Config
}

// New creates an Assistant. snapshot may be nil when device data is never
// requested.
func New(llm Completer, history conversation.Store, snapshot Snapshotter, cfg Config) *Assistant {
	return &Assistant{llm: llm, history: history, snapshot: snapshot, cfg: cfg.withDefaults()}
}

// AskRequest is one question to the assistant.
type AskRequest struct {
	Profile        string
	Question       string
	Rooms          []string
	Mode           interpret.Mode
	SendDeviceData bool
	Images         []provider.Image
}

// Ask sends the question with the profile's history and stores the new turn.
// Provider failures are returned; malformed replies are not errors.
func (a *Assistant) Ask(ctx context.Context, req AskRequest) (interpret.Response, error) {
	start := time.Now()
	log := slog.With("profile", req.Profile)

	if n, err := a.history.PruneExpired(ctx); err != nil {
		return interpret.Response{}, fmt.Errorf("pruning conversations: %w", err)
	} else if n > 0 {
		log.Debug("pruned idle conversations", "count", n)
	}

	past, err := a.history.History(ctx, req.Profile)
	if err != nil {
		return interpret.Response{}, fmt.Errorf("reading history: %w", err)
	}

	content := req.Question
	if req.SendDeviceData && a.snapshot != nil {
		mode := req.Mode
		if mode == "" {
			mode = interpret.ModeAction
		}
		snap, err := a.snapshot.Collect(ctx, req.Rooms, mode)
		if err != nil {
			return interpret.Response{}, fmt.Errorf("collecting device state: %w", err)
		}
		content += DeviceDataIntro + snap
	}

	messages := make([]provider.Message, 0, len(past)+1)
	for _, m := range past {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: conversation.RoleUser, Content: content})

	model := a.cfg.TextModel
	if len(req.Images) > 0 {
		model = a.cfg.VisionModel
	}

	log.Debug("asking provider", "model", model, "history", len(past), "bytes", len(content), "images", len(req.Images))

	completion, err := a.llm.Complete(ctx, provider.Request{
		System:      SystemPrompt(req.Profile),
		Messages:    messages,
		Model:       model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		JSON:        true,
		Images:      req.Images,
	})
	if err != nil {
		return interpret.Response{}, err
	}

	stored := req.Question
	if len(req.Images) > 0 {
		stored += visionHistoryMarker
	}
	if err := a.history.AppendTurn(ctx, req.Profile, conversation.RoleUser, stored); err != nil {
		return interpret.Response{}, fmt.Errorf("saving user turn: %w", err)
	}
	if err := a.history.AppendTurn(ctx, req.Profile, conversation.RoleAssistant, completion.Content); err != nil {
		return interpret.Response{}, fmt.Errorf("saving assistant turn: %w", err)
	}

	resp := interpret.Parse(completion.Content)
	if d := resp.Diagnostic(); d.Fallback {
		log.Warn("model reply is not valid JSON, using raw text", "reason", d.Reason)
	}
	log.Debug("ask completed", "duration", time.Since(start), "tokens", completion.TotalTokens)
	return resp, nil
}

// InferRooms asks the model which of the allowed rooms the question is
// about. It never touches conversation history. A nil result means the
// caller should keep its default room set.
func (a *Assistant) InferRooms(ctx context.Context, question string, allowed []string) []string {
	completion, err := a.llm.Complete(ctx, provider.Request{
		System:      roomsPrompt(allowed),
		Messages:    []provider.Message{{Role: conversation.RoleUser, Content: question}},
		Model:       a.cfg.TextModel,
		MaxTokens:   roomInferenceMaxTokens,
		Temperature: a.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("room inference failed", "error", err)
		return nil
	}

	var result struct {
		Pieces []string `json:"pieces"`
	}
	if err := json.Unmarshal([]byte(interpret.StripFences(completion.Content)), &result); err != nil {
		slog.Warn("room inference returned invalid JSON", "error", err, "response", completion.Content)
		return nil
	}
	if len(result.Pieces) == 0 || slices.Contains(result.Pieces, WholeHouse) {
		slog.Debug("room inference kept the default rooms", "pieces", result.Pieces)
		return nil
	}

	rooms := result.Pieces
	if len(allowed) > 0 {
		rooms = make([]string, 0, len(result.Pieces))
		for _, p := range result.Pieces {
			p = strings.TrimSpace(p)
			if slices.Contains(allowed, p) && !slices.Contains(rooms, p) {
				rooms = append(rooms, p)
			}
		}
		if len(rooms) == 0 {
			slog.Debug("room inference returned no known room", "pieces", result.Pieces)
			return nil
		}
	}
	slog.Info("rooms inferred", "rooms", rooms)
	return rooms
}

// Reset forgets the profile's conversation.
func (a *Assistant) Reset(ctx context.Context, profile string) error {
	return a.history.Reset(ctx, profile)
}

// ResetResponse is the canned reply to a reset request.
func ResetResponse(question string) interpret.Response {
	return interpret.Response{
		Question:   question,
		Response:   "✅ J'ai réinitialisé le contexte de notre discussion.",
		Mode:       interpret.ModeInfo,
		Confidence: interpret.ConfidenceHigh,
	}
}

var resetKeywords = []string{"reset", "init", "oubliette", "raz"}

// IsReset reports whether the question asks to clear the conversation.
func IsReset(question string) bool {
	return slices.Contains(resetKeywords, strings.ToLower(strings.TrimSpace(question)))
}
