package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/jarvis/internal/conversation"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/provider"
)

// mockCompleter returns queued replies and records every request.
type mockCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []provider.Request
}

func (m *mockCompleter) Complete(_ context.Context, req provider.Request) (provider.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return provider.Completion{}, m.err
	}
	if len(m.replies) == 0 {
		return provider.Completion{Content: `{"response":"ok"}`}, nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return provider.Completion{Content: reply, TotalTokens: 42}, nil
}

type mockSnapshotter struct {
	rooms []string
	mode  interpret.Mode
	calls int
	out   string
}

func (m *mockSnapshotter) Collect(_ context.Context, rooms []string, mode interpret.Mode) (string, error) {
	m.calls++
	m.rooms = rooms
	m.mode = mode
	return m.out, nil
}

func TestAsk_TextPath(t *testing.T) {
	llm := &mockCompleter{replies: []string{`{"question":"Quelle est la température du salon ?","response":"🌡️ Il fait 21.5°C.","mode":"info","confidence":"high"}`}}
	store := conversation.NewMemoryStore(conversation.Options{})
	snap := &mockSnapshotter{out: `{"Salon":{"Thermomètre":{"Etat":"21.5°C"}}}`}
	a := New(llm, store, snap, Config{})

	resp, err := a.Ask(context.Background(), AskRequest{
		Profile:        "Franck",
		Question:       "Quelle est la température du salon ?",
		Rooms:          []string{"Salon"},
		Mode:           interpret.ModeInfo,
		SendDeviceData: true,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Mode != interpret.ModeInfo || !strings.Contains(resp.Response, "21.5") {
		t.Errorf("response = %+v", resp)
	}

	req := llm.requests[0]
	if req.Model != DefaultTextModel {
		t.Errorf("Model = %q, want %q", req.Model, DefaultTextModel)
	}
	if !req.JSON || req.MaxTokens != DefaultMaxTokens || req.Temperature != DefaultTemperature {
		t.Errorf("request settings = %+v", req)
	}
	if !strings.Contains(req.System, "Je m'appelle Franck.") {
		t.Error("system prompt not personalised")
	}
	user := req.Messages[len(req.Messages)-1].Content.(string)
	want := "Quelle est la température du salon ?" + DeviceDataIntro + snap.out
	if user != want {
		t.Errorf("user content = %q, want %q", user, want)
	}
	if snap.mode != interpret.ModeInfo || len(snap.rooms) != 1 {
		t.Errorf("snapshot called with %v/%q", snap.rooms, snap.mode)
	}

	hist, _ := store.History(context.Background(), "Franck")
	if len(hist) != 2 {
		t.Fatalf("history = %d messages, want 2", len(hist))
	}
	if hist[0].Content != "Quelle est la température du salon ?" {
		t.Errorf("stored question = %q, want the bare question", hist[0].Content)
	}
	if hist[1].Role != conversation.RoleAssistant || !strings.Contains(hist[1].Content, "21.5") {
		t.Errorf("stored answer = %+v", hist[1])
	}
}

func TestAsk_SendsHistory(t *testing.T) {
	llm := &mockCompleter{}
	store := conversation.NewMemoryStore(conversation.Options{})
	ctx := context.Background()
	store.AppendTurn(ctx, "Evan", conversation.RoleUser, "Allume le salon")
	store.AppendTurn(ctx, "Evan", conversation.RoleAssistant, `{"response":"fait"}`)
	a := New(llm, store, nil, Config{TextModel: "mistral-small"})

	if _, err := a.Ask(ctx, AskRequest{Profile: "Evan", Question: "et la cuisine ?"}); err != nil {
		t.Fatal(err)
	}
	msgs := llm.requests[0].Messages
	if len(msgs) != 3 || msgs[0].Content != "Allume le salon" || msgs[2].Content != "et la cuisine ?" {
		t.Errorf("messages = %+v", msgs)
	}
	if llm.requests[0].Model != "mistral-small" {
		t.Errorf("Model = %q", llm.requests[0].Model)
	}
}

func TestAsk_VisionPath(t *testing.T) {
	llm := &mockCompleter{}
	store := conversation.NewMemoryStore(conversation.Options{})
	snap := &mockSnapshotter{}
	a := New(llm, store, snap, Config{})

	images := []provider.Image{{Data: []byte{0xFF, 0xD8}, Filename: "cam.jpg"}}
	if _, err := a.Ask(context.Background(), AskRequest{Profile: "Franck", Question: "Qui est là ?", Images: images}); err != nil {
		t.Fatal(err)
	}
	if llm.requests[0].Model != DefaultVisionModel {
		t.Errorf("Model = %q, want %q", llm.requests[0].Model, DefaultVisionModel)
	}
	if len(llm.requests[0].Images) != 1 {
		t.Error("images not forwarded")
	}
	if snap.calls != 0 {
		t.Error("device data collected without SendDeviceData")
	}
	hist, _ := store.History(context.Background(), "Franck")
	if hist[0].Content != "Qui est là ? [avec image(s)]" {
		t.Errorf("stored question = %q", hist[0].Content)
	}
}

func TestAsk_ProviderErrorStoresNothing(t *testing.T) {
	llm := &mockCompleter{err: &provider.APIError{Status: 401, Message: "Clé API invalide ou expirée"}}
	store := conversation.NewMemoryStore(conversation.Options{})
	a := New(llm, store, nil, Config{})

	_, err := a.Ask(context.Background(), AskRequest{Profile: "Franck", Question: "Bonjour"})
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *provider.APIError", err)
	}
	if hist, _ := store.History(context.Background(), "Franck"); len(hist) != 0 {
		t.Errorf("history = %d messages, want 0", len(hist))
	}
}

func TestAsk_MalformedReplyIsNotAnError(t *testing.T) {
	llm := &mockCompleter{replies: []string{"not json at all"}}
	a := New(llm, conversation.NewMemoryStore(conversation.Options{}), nil, Config{})

	resp, err := a.Ask(context.Background(), AskRequest{Profile: "Franck", Question: "Bonjour"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Confidence != interpret.ConfidenceLow || resp.Response != "not json at all" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestInferRooms(t *testing.T) {
	allowed := []string{"Salon", "Cuisine", "Jardin"}
	tests := []struct {
		name  string
		reply string
		err   error
		want  []string
	}{
		{"accepted", `{"pieces":["Cuisine","Salon"]}`, nil, []string{"Cuisine", "Salon"}},
		{"intersected", `{"pieces":["Cuisine","Grenier"]}`, nil, []string{"Cuisine"}},
		{"whole house", `{"pieces":["Maison"]}`, nil, nil},
		{"whole house mixed", `{"pieces":["Salon","Maison"]}`, nil, nil},
		{"empty", `{"pieces":[]}`, nil, nil},
		{"invalid json", `pieces: Salon`, nil, nil},
		{"wrong shape", `{"pieces":"Salon"}`, nil, nil},
		{"unknown only", `{"pieces":["Grenier"]}`, nil, nil},
		{"provider error", "", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockCompleter{replies: []string{tt.reply}, err: tt.err}
			store := conversation.NewMemoryStore(conversation.Options{})
			a := New(llm, store, nil, Config{})

			got := a.InferRooms(context.Background(), "Allume la cuisine", allowed)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || (got == nil) != (tt.want == nil) {
				t.Errorf("InferRooms = %q, want %q", got, tt.want)
			}

			req := llm.requests[0]
			if req.MaxTokens != 500 || !req.JSON {
				t.Errorf("request = %+v, want max_tokens 500 and JSON", req)
			}
			if len(req.Messages) != 1 {
				t.Errorf("room inference sent %d messages, want 1", len(req.Messages))
			}
			if !strings.Contains(req.System, "Salon, Cuisine, Jardin") {
				t.Error("allowed rooms missing from prompt")
			}
			if recs, _ := store.Profiles(context.Background()); len(recs) != 0 {
				t.Error("room inference touched history")
			}
		})
	}
}

func TestIsReset(t *testing.T) {
	for _, q := range []string{"reset", " RESET ", "Init", "oubliette", "RaZ"} {
		if !IsReset(q) {
			t.Errorf("IsReset(%q) = false", q)
		}
	}
	for _, q := range []string{"reset the lights", "", "initialise"} {
		if IsReset(q) {
			t.Errorf("IsReset(%q) = true", q)
		}
	}
}

func TestResetClearsOnlyProfile(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.Options{})
	ctx := context.Background()
	store.AppendTurn(ctx, "Franck", conversation.RoleUser, "a")
	store.AppendTurn(ctx, "Evan", conversation.RoleUser, "b")

	a := New(&mockCompleter{}, store, nil, Config{})
	if err := a.Reset(ctx, "Franck"); err != nil {
		t.Fatal(err)
	}
	if h, _ := store.History(ctx, "Franck"); len(h) != 0 {
		t.Error("Franck not reset")
	}
	if h, _ := store.History(ctx, "Evan"); len(h) != 1 {
		t.Error("Evan lost history")
	}
}
