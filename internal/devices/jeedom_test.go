package devices

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeJeedom answers JSON-RPC calls from a method -> result table and
// records every request.
type fakeJeedom struct {
	t       *testing.T
	mu      sync.Mutex
	results map[string]any
	calls   []rpcRequest
	stills  map[string][]byte
}

func (f *fakeJeedom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != jeedomAPIPath {
		f.mu.Lock()
		data, ok := f.stills[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decoding rpc request: %v", err)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	result, ok := f.results[req.Method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32601, "message": "Méthode introuvable : " + req.Method},
		})
		return
	}
	if fn, ok := result.(func(map[string]any) any); ok {
		result = fn(req.Params)
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeJeedom) callsTo(method string) []rpcRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpcRequest
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newFakeJeedom(t *testing.T) (*fakeJeedom, *JeedomClient) {
	t.Helper()
	f := &fakeJeedom{t: t, results: map[string]any{}, stills: map[string][]byte{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewJeedomClient(srv.URL+"/", "secret")
}

var salonTree = []any{
	map[string]any{
		"id": "1", "name": "Salon", "isVisible": "1",
		"eqLogics": []any{
			map[string]any{
				"id": "10", "name": "Lampe", "object_id": "1", "eqType_name": "zwave",
				"isEnable": "1", "isVisible": 1,
				"category": map[string]any{"light": "1", "heating": "0"},
				"cmds": []any{
					map[string]any{"id": 100, "eqLogic_id": "10", "name": "On", "type": "action", "isVisible": "1"},
					map[string]any{"id": 101, "eqLogic_id": "10", "name": "Etat", "type": "info", "isVisible": "0", "state": 1},
				},
			},
		},
	},
	map[string]any{"id": "2", "name": "Grenier", "isVisible": "0", "eqLogics": []any{}},
}

func TestJeedom_RoomEquipment(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["jeeObject::full"] = salonTree

	eqs, err := c.RoomEquipment(context.Background(), "Salon")
	if err != nil {
		t.Fatalf("RoomEquipment: %v", err)
	}
	if len(eqs) != 1 {
		t.Fatalf("got %d equipment, want 1", len(eqs))
	}
	eq := eqs[0]
	if eq.ID != "10" || eq.Room != "Salon" || !eq.Enabled || !eq.Visible {
		t.Errorf("equipment = %+v", eq)
	}
	if !eq.Categories["light"] || eq.Categories["heating"] {
		t.Errorf("categories = %v, want light only", eq.Categories)
	}
	if len(eq.Commands) != 2 || eq.Commands[1].Value != "1" || eq.Commands[0].ID != "100" {
		t.Errorf("commands = %+v", eq.Commands)
	}
	if got := eq.Commands[0].HumanName(); got != "[Salon][Lampe][On]" {
		t.Errorf("HumanName = %q, want %q", got, "[Salon][Lampe][On]")
	}

	calls := f.callsTo("jeeObject::full")
	if len(calls) != 1 || calls[0].Params["apikey"] != "secret" || calls[0].JSONRPC != "2.0" {
		t.Errorf("rpc call = %+v", calls)
	}
}

func TestJeedom_HiddenAndUnknownRooms(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["jeeObject::full"] = salonTree

	for _, room := range []string{"Grenier", "Cave"} {
		eqs, err := c.RoomEquipment(context.Background(), room)
		if err != nil {
			t.Fatalf("RoomEquipment(%s): %v", room, err)
		}
		if len(eqs) != 0 {
			t.Errorf("RoomEquipment(%s) = %d items, want 0", room, len(eqs))
		}
	}
}

func TestJeedom_CommandResolvesHumanName(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["cmd::byId"] = map[string]any{"id": "100", "eqLogic_id": "10", "name": "On", "type": "action"}
	f.results["eqLogic::byId"] = map[string]any{"id": "10", "name": "Lampe", "object_id": "1"}
	f.results["jeeObject::byId"] = map[string]any{"id": "1", "name": "Salon"}

	cmd, err := c.Command(context.Background(), "100")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd.Type != CommandAction {
		t.Errorf("Type = %q, want %q", cmd.Type, CommandAction)
	}
	if got := cmd.HumanName(); got != "[Salon][Lampe][On]" {
		t.Errorf("HumanName = %q, want %q", got, "[Salon][Lampe][On]")
	}
}

func TestJeedom_CommandNotFound(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["cmd::byId"] = nil

	if _, err := c.Command(context.Background(), "999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Missing method is reported by the controller as "introuvable".
	if _, err := c.Equipment(context.Background(), "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJeedom_ExecuteSendsOptions(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["cmd::execCmd"] = "ok"

	out, err := c.Execute(context.Background(), "55", map[string]string{"title": "t", "message": "m"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ok" {
		t.Errorf("Execute = %q, want %q", out, "ok")
	}
	calls := f.callsTo("cmd::execCmd")
	if len(calls) != 1 {
		t.Fatalf("got %d execCmd calls", len(calls))
	}
	opts, _ := calls[0].Params["options"].(map[string]any)
	if calls[0].Params["id"] != "55" || opts["title"] != "t" || opts["message"] != "m" {
		t.Errorf("params = %v", calls[0].Params)
	}
}

func TestJeedom_SetEnabledAndScenario(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["eqLogic::save"] = map[string]any{"id": "7"}
	f.results["scenario::changeState"] = "ok"

	if err := c.SetEnabled(context.Background(), Equipment{ID: "7", Type: TypeCamera}, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	save := f.callsTo("eqLogic::save")[0].Params
	if save["isEnable"] != float64(1) || save["eqType_name"] != "camera" {
		t.Errorf("save params = %v", save)
	}

	tags := map[string]string{"#profile#": "Franck", "#msg#": "Bonjour"}
	if err := c.StartScenario(context.Background(), 387, tags); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	sc := f.callsTo("scenario::changeState")[0].Params
	gotTags, _ := sc["tags"].(map[string]any)
	if sc["id"] != float64(387) || sc["state"] != "start" || gotTags["#msg#"] != "Bonjour" {
		t.Errorf("scenario params = %v", sc)
	}
}

func TestJeedom_CameraStill(t *testing.T) {
	f, c := newFakeJeedom(t)
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	f.stills["/plugins/camera/snap.jpg"] = jpeg
	f.results["eqLogic::fullById"] = map[string]any{
		"id": "20", "name": "Portail", "object_id": "1", "eqType_name": "camera",
		"cmds": []any{map[string]any{"id": "200", "logicalId": "urlFlux", "type": "info"}},
	}
	f.results["jeeObject::byId"] = map[string]any{"id": "1", "name": "Jardin"}
	f.results["cmd::execCmd"] = "plugins/camera/snap.jpg"

	data, err := c.CameraStill(context.Background(), "20")
	if err != nil {
		t.Fatalf("CameraStill: %v", err)
	}
	if string(data) != string(jpeg) {
		t.Errorf("still = %v, want %v", data, jpeg)
	}
}

func TestJeedom_CameraStillWithoutStreamCommand(t *testing.T) {
	f, c := newFakeJeedom(t)
	f.results["eqLogic::fullById"] = map[string]any{"id": "20", "name": "Portail", "eqType_name": "camera"}

	_, err := c.CameraStill(context.Background(), "20")
	if err == nil || !strings.Contains(err.Error(), "urlFlux") {
		t.Errorf("err = %v, want missing urlFlux", err)
	}
}

func TestJeedom_CameraStillTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == jeedomAPIPath {
			var req rpcRequest
			json.NewDecoder(r.Body).Decode(&req)
			var result any = "slow.jpg"
			if req.Method == "eqLogic::fullById" {
				result = map[string]any{"id": "20", "cmds": []any{map[string]any{"id": "1", "logicalId": "urlFlux"}}}
			}
			json.NewEncoder(w).Encode(map[string]any{"result": result})
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := NewJeedomClient(slow.URL, "k")
	c.stillTimeout = 50 * time.Millisecond

	start := time.Now()
	if _, err := c.CameraStill(context.Background(), "20"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("CameraStill took %v, want the still timeout to apply", elapsed)
	}
}

func TestSplitIDs(t *testing.T) {
	got := SplitIDs(" 12, ,34 ,,56")
	want := []string{"12", "34", "56"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("SplitIDs = %q, want %q", got, want)
	}
	if ids := SplitIDs(""); len(ids) != 0 {
		t.Errorf("SplitIDs(\"\") = %q, want empty", ids)
	}
}
