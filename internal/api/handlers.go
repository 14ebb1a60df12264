// Package api exposes the assistant over HTTP for the home controller and
// over MCP for desktop agents.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jarvis/internal/conversation"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/orchestrator"
	"github.com/kalambet/jarvis/internal/provider"
	"github.com/kalambet/jarvis/internal/storage"
)

const (
	maxRequestBodySize = 20 << 20 // images are sent inline
	defaultListLimit   = 20
	maxListLimit       = 200
)

// Processor runs one trigger end to end.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// InteractionReader reads the interaction log.
type InteractionReader interface {
	GetInteraction(id string) (storage.Interaction, error)
	GetRecentInteractions(profile string, limit int) ([]storage.Interaction, error)
}

// ModelLister lists the provider's models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

type Deps struct {
	Processor    Processor
	History      conversation.Store
	Interactions InteractionReader
	Models       ModelLister // optional
	Token        string
	RateLimit    float64
}

// NewHandler returns the HTTP API. /health is public; everything under /v1
// requires the bearer token and is rate limited per client.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RateLimit(deps.RateLimit, 5))

		r.Post("/ask", handleAsk(deps))
		r.Post("/reset", handleReset(deps))
		r.Get("/conversations", handleConversations(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Get("/models", handleModels(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type AskImage struct {
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

type AskRequest struct {
	Profile       string         `json:"profile"`
	Question      string         `json:"question"`
	Rooms         []string       `json:"rooms,omitempty"`
	Mode          interpret.Mode `json:"mode,omitempty"`
	NotifyCommand string         `json:"notify_command,omitempty"`
	Images        []AskImage     `json:"images,omitempty"`
	InferRooms    bool           `json:"infer_rooms,omitempty"`
}

func (a AskRequest) toRequest() (orchestrator.Request, error) {
	req := orchestrator.Request{
		Profile:       a.Profile,
		Question:      a.Question,
		Rooms:         a.Rooms,
		Mode:          a.Mode,
		NotifyCommand: a.NotifyCommand,
		InferRooms:    a.InferRooms,
	}
	for i, img := range a.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return req, fmt.Errorf("image %d is not valid base64: %w", i, err)
		}
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image-%d.jpg", i+1)
		}
		req.Images = append(req.Images, provider.Image{Data: data, Filename: name})
	}
	return req, nil
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body AskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if body.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		switch body.Mode {
		case "", interpret.ModeInfo, interpret.ModeAction:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "mode must be info or action, got %q", body.Mode)
			return
		}
		req, err := body.toRequest()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res := deps.Processor.Process(r.Context(), req)
		status := http.StatusOK
		if !res.Success {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, res)
	}
}

type resetRequest struct {
	Profile string `json:"profile"`
	All     bool   `json:"all"`
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resetRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var err error
		switch {
		case body.All:
			err = deps.History.ResetAll(r.Context())
		case body.Profile != "":
			err = deps.History.Reset(r.Context(), body.Profile)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "profile or all is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reset failed: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type conversationSummary struct {
	Profile   string    `json:"profile"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

func summarize(records []conversation.Record) []conversationSummary {
	out := make([]conversationSummary, len(records))
	for i, rec := range records {
		out[i] = conversationSummary{
			Profile:   rec.Profile,
			Messages:  len(rec.Messages),
			CreatedAt: time.Unix(rec.CreatedAt, 0).UTC(),
			LastUsed:  time.Unix(rec.LastUsed, 0).UTC(),
		}
	}
	return out
}

func handleConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.History.Profiles(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(records))
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxListLimit)
		}
		items, err := deps.Interactions.GetRecentInteractions(r.URL.Query().Get("profile"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interactions: %v", err)
			return
		}
		if items == nil {
			items = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Interactions.GetInteraction(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "model listing not available")
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, provider.ModelList{Object: "list", Data: models})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
