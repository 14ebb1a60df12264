package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/jarvis/internal/assistant"
	"github.com/kalambet/jarvis/internal/devices"
	"github.com/kalambet/jarvis/internal/interpret"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'g'}

func testRegistry(t *testing.T) *devices.FileRegistry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "portail.jpg"), jpeg, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "garage.jpg"), jpeg, 0o644); err != nil {
		t.Fatal(err)
	}
	reg := devices.NewFileRegistry([]devices.Room{
		{Name: "Salon", Visible: true, Equipment: []devices.Equipment{
			{ID: "10", Name: "Lampe", Enabled: true, Visible: true, Commands: []devices.Command{
				{ID: "100", Name: "On", Type: "action", Visible: true},
				{ID: "101", Name: "Off", Type: "action", Visible: true},
				{ID: "102", Name: "Etat", Type: "info", Value: "0"},
			}},
		}},
		{Name: "Jardin", Visible: true, Equipment: []devices.Equipment{
			{ID: "20", Name: "Portail", Type: "camera", Enabled: true, Visible: true,
				Still: filepath.Join(dir, "portail.jpg"),
				Commands: []devices.Command{
					{ID: "200", Name: "Envoyer snapshot", LogicalID: "sendSnapshot", Type: "action"},
				}},
			{ID: "21", Name: "Garage", Type: "camera", Enabled: false, Visible: true,
				Still: filepath.Join(dir, "garage.jpg"),
				Commands: []devices.Command{
					{ID: "210", Name: "Envoyer snapshot", LogicalID: "sendSnapshot", Type: "action"},
				}},
			{ID: "22", Name: "Sans image", Type: "camera", Enabled: true, Visible: true},
		}},
	})
	return reg
}

type mockAsker struct {
	mu   sync.Mutex
	reqs []assistant.AskRequest
	resp interpret.Response
	err  error
}

func (m *mockAsker) Ask(_ context.Context, req assistant.AskRequest) (interpret.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.resp, m.err
}

func action(id string, typ interpret.ActionType) interpret.Response {
	return interpret.Response{
		Question:   "Allume la lampe",
		Response:   "✅ J'allume la lampe.",
		ID:         id,
		Mode:       interpret.ModeAction,
		Confidence: interpret.ConfidenceHigh,
		ActionType: typ,
	}
}

func TestIsExecutable(t *testing.T) {
	reg := testRegistry(t)
	d := New(reg, &mockAsker{}, nil, false)

	info := action("100", interpret.ActionCommand)
	info.Mode = interpret.ModeInfo

	tests := []struct {
		name    string
		resp    interpret.Response
		profile string
		want    string
	}{
		{"ok", action("100, 101", interpret.ActionCommand), "Franck", ""},
		{"camera ok", action("20", interpret.ActionCamera), "Franck", ""},
		{"info mode", info, "Franck", "Le mode n'est pas action (info)"},
		{"no type", action("100", interpret.ActionNone), "Franck", "Type d'action non géré: "},
		{"unknown type", action("100", "scenario"), "Franck", "Type d'action non géré: scenario"},
		{"blank id", action(" , ", interpret.ActionCommand), "Franck", "Aucun ID de commande fourni pour l'action command"},
		{"unknown profile", action("100", interpret.ActionCommand), "Inconnu", "Action non autorisée pour le profil: Inconnu"},
		{"empty profile", action("100", interpret.ActionCommand), "", "Action non autorisée pour le profil: "},
		{"missing command", action("100,999", interpret.ActionCommand), "Franck", "Commande ID 999 non trouvée pour l'action command"},
		{"info command", action("102", interpret.ActionCommand), "Franck", "La commande ID '102' n'est pas une action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsExecutable(context.Background(), tt.resp, tt.profile); got != tt.want {
				t.Errorf("IsExecutable = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsExecutable_DryRun(t *testing.T) {
	d := New(testRegistry(t), &mockAsker{}, nil, true)
	if got := d.IsExecutable(context.Background(), action("100", interpret.ActionCommand), "Franck"); got != "Action non autorisée" {
		t.Errorf("IsExecutable = %q, want %q", got, "Action non autorisée")
	}
}

func TestExecute_Commands(t *testing.T) {
	reg := testRegistry(t)
	d := New(reg, &mockAsker{}, nil, false)

	out := d.Execute(context.Background(), action("100, ,999,101", interpret.ActionCommand), "Franck", "")
	if !out.Executed {
		t.Error("Executed = false, want true")
	}
	execs := reg.Executions()
	if len(execs) != 2 || execs[0].CommandID != "100" || execs[1].CommandID != "101" {
		t.Errorf("executions = %+v, want 100 then 101", execs)
	}
	want := "[Salon][Lampe][On]|[Salon][Lampe][Off]"
	if got := strings.Join(out.Names, "|"); got != want {
		t.Errorf("Names = %q, want %q", got, want)
	}
	if out.Response != "✅ J'allume la lampe." {
		t.Errorf("Response = %q", out.Response)
	}
}

func TestExecute_UnhandledType(t *testing.T) {
	d := New(testRegistry(t), &mockAsker{}, nil, false)
	out := d.Execute(context.Background(), action("1", "scenario"), "Franck", "")
	if out.Executed || out.Reason != "unhandled action type: scenario" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestExecute_Camera(t *testing.T) {
	reg := testRegistry(t)
	asker := &mockAsker{resp: interpret.Response{Response: "Une voiture est garée devant le portail."}}
	d := New(reg, asker, CameraCommandPusher{Registry: reg}, false)

	resp := action("20,21", interpret.ActionCamera)
	resp.Question = "Qui est devant ?"
	out := d.Execute(context.Background(), resp, "Franck", "cmd:telegram")

	if !out.Executed {
		t.Fatalf("Executed = false, reason %q", out.Reason)
	}
	if out.Response != "Une voiture est garée devant le portail." {
		t.Errorf("Response = %q", out.Response)
	}
	if got := strings.Join(out.Names, "|"); got != "[Jardin][Portail]|[Jardin][Garage]" {
		t.Errorf("Names = %q", got)
	}

	if len(asker.reqs) != 1 {
		t.Fatalf("vision asks = %d, want 1", len(asker.reqs))
	}
	req := asker.reqs[0]
	if req.SendDeviceData {
		t.Error("camera analysis must not send device data")
	}
	if req.Question != "Réponds à la question en analysant l'image de la caméra de surveillance: Qui est devant ?" {
		t.Errorf("Question = %q", req.Question)
	}
	if len(req.Images) != 2 || req.Images[0].Filename != "camera-20.jpg" || req.Images[1].Filename != "camera-21.jpg" {
		t.Errorf("images out of order: %+v", req.Images)
	}

	execs := reg.Executions()
	if len(execs) != 2 {
		t.Fatalf("snapshot pushes = %d, want 2", len(execs))
	}
	for _, e := range execs {
		if e.Options["message"] != "cmd:telegram" || !strings.Contains(e.Options["title"], "nbSnap=1") {
			t.Errorf("push options = %v", e.Options)
		}
	}
	garage, _ := reg.Equipment(context.Background(), "21")
	if garage.Enabled {
		t.Error("disabled camera left enabled after push")
	}
}

func TestExecute_CameraDefaultQuestion(t *testing.T) {
	asker := &mockAsker{resp: interpret.Response{Response: "RAS"}}
	d := New(testRegistry(t), asker, nil, false)

	resp := action("20", interpret.ActionCamera)
	resp.Question = ""
	d.Execute(context.Background(), resp, "Franck", "")
	if asker.reqs[0].Question != "Analyse l'image de la caméra de surveillance" {
		t.Errorf("Question = %q", asker.reqs[0].Question)
	}
}

func TestExecute_CameraWithoutImages(t *testing.T) {
	asker := &mockAsker{}
	d := New(testRegistry(t), asker, nil, false)

	out := d.Execute(context.Background(), action("22,404", interpret.ActionCamera), "Franck", "")
	if out.Executed {
		t.Error("Executed = true, want false")
	}
	if out.Response != NoImageResponse {
		t.Errorf("Response = %q, want %q", out.Response, NoImageResponse)
	}
	if len(asker.reqs) != 0 {
		t.Error("vision ask sent without images")
	}
}

func TestExecute_CameraAnalysisError(t *testing.T) {
	asker := &mockAsker{err: errors.New("provider down")}
	d := New(testRegistry(t), asker, nil, false)

	out := d.Execute(context.Background(), action("20", interpret.ActionCamera), "Franck", "")
	if out.Executed || out.Reason == "" {
		t.Errorf("outcome = %+v, want not executed with a reason", out)
	}
}

func TestCameraCommandPusher_NoSnapshotCommand(t *testing.T) {
	reg := testRegistry(t)
	cam, _ := reg.Equipment(context.Background(), "22")
	if err := (CameraCommandPusher{Registry: reg}).PushSnapshot(context.Background(), "Franck", cam, nil, ""); err == nil {
		t.Error("expected error for camera without sendSnapshot")
	}
}
