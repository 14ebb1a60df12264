package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"

	"github.com/kalambet/jarvis/internal/devices"
)

func TestScenario_Notify(t *testing.T) {
	reg := devices.NewFileRegistry(nil)
	n := NewScenario(reg, 387)

	if err := n.Notify(context.Background(), "Franck", "💡 C'est fait.", "cmd:telegram"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	runs := reg.Scenarios()
	if len(runs) != 1 || runs[0].ID != 387 {
		t.Fatalf("scenarios = %+v, want one run of 387", runs)
	}
	tags := runs[0].Tags
	if tags["#profile#"] != "Franck" || tags["#msg#"] != "💡 C'est fait." || tags["#command#"] != "cmd:telegram" {
		t.Errorf("tags = %v", tags)
	}
}

type failingRunner struct{}

func (failingRunner) StartScenario(context.Context, int, map[string]string) error {
	return devices.ErrNotFound
}

func TestScenario_NotifyError(t *testing.T) {
	err := NewScenario(failingRunner{}, 1).Notify(context.Background(), "Franck", "x", "")
	if !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type telegramCall struct {
	method string
	fields map[string]string
	file   []byte
}

func fakeTelegram(t *testing.T) (*httptest.Server, func() []telegramCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []telegramCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := telegramCall{method: r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], fields: map[string]string{}}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				call.fields[k] = v[0]
			}
			if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
				f, _ := fh[0].Open()
				call.file, _ = io.ReadAll(f)
				f.Close()
			}
		}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":123,"type":"private"}}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []telegramCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]telegramCall(nil), calls...)
	}
}

func TestTelegram_Notify(t *testing.T) {
	srv, calls := fakeTelegram(t)
	tg, err := NewTelegram("123:abc", map[string]int64{"Franck": 123}, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	if err := tg.Notify(context.Background(), "Franck", "Bonjour", ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := calls()
	if len(got) != 1 || got[0].method != "sendMessage" {
		t.Fatalf("calls = %+v", got)
	}
	if got[0].fields["chat_id"] != "123" || got[0].fields["text"] != "Bonjour" {
		t.Errorf("fields = %v", got[0].fields)
	}
}

func TestTelegram_UnknownProfile(t *testing.T) {
	srv, calls := fakeTelegram(t)
	tg, err := NewTelegram("123:abc", map[string]int64{"Franck": 123}, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Notify(context.Background(), "Evan", "x", ""); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("err = %v, want ErrUnknownRecipient", err)
	}
	if len(calls()) != 0 {
		t.Error("message sent to an unknown profile")
	}
}

func TestTelegram_PushSnapshot(t *testing.T) {
	srv, calls := fakeTelegram(t)
	tg, err := NewTelegram("123:abc", map[string]int64{"Franck": 123}, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	cam := devices.Equipment{ID: "20", Name: "Portail", Room: "Jardin", Type: devices.TypeCamera}
	still := []byte{0xFF, 0xD8, 0xFF}

	if err := tg.PushSnapshot(context.Background(), "Franck", cam, still, ""); err != nil {
		t.Fatalf("PushSnapshot: %v", err)
	}
	if err := tg.PushSnapshot(context.Background(), "Franck", cam, nil, ""); err != nil {
		t.Fatalf("PushSnapshot without still: %v", err)
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("calls = %d, want 2", len(got))
	}
	if got[0].method != "sendPhoto" || got[0].fields["caption"] != "[Jardin][Portail]" || string(got[0].file) != string(still) {
		t.Errorf("photo call = %+v", got[0])
	}
	if got[1].method != "sendMessage" || !strings.Contains(got[1].fields["text"], "aucune image") {
		t.Errorf("fallback call = %+v", got[1])
	}
}

func TestParseChats(t *testing.T) {
	chats, err := ParseChats(" Franck:123, Evan : -456 ,")
	if err != nil {
		t.Fatal(err)
	}
	if chats["Franck"] != 123 || chats["Evan"] != -456 || len(chats) != 2 {
		t.Errorf("chats = %v", chats)
	}

	for _, bad := range []string{"Franck", ":12", "Franck:abc"} {
		if _, err := ParseChats(bad); err == nil {
			t.Errorf("ParseChats(%q) = nil error", bad)
		}
	}
}
