package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	jeedomAPIPath = "/core/api/jeeApi.php"

	defaultJeedomTimeout = 30 * time.Second
	stillFetchTimeout    = 10 * time.Second
)

// JeedomClient talks to a Jeedom controller over its JSON-RPC API.
type JeedomClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	stillTimeout time.Duration

	nextID atomic.Int64

	// room names by object id, filled lazily for command human names.
	mu    sync.Mutex
	rooms map[string]string
}

// NewJeedomClient returns a client for the controller at baseURL.
func NewJeedomClient(baseURL, apiKey string) *JeedomClient {
	return &JeedomClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: defaultJeedomTimeout},
		stillTimeout: stillFetchTimeout,
		rooms:        map[string]string{},
	}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error object returned by the controller.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jeedom error %d: %s", e.Code, e.Message)
}

func (c *JeedomClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	params["apikey"] = c.apiKey
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+jeedomAPIPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// flexString accepts JSON strings, numbers and booleans.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

// flexBool accepts 1/0, "1"/"0" and true/false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v, _ := strconv.ParseBool(string(s))
	*f = flexBool(v)
	return nil
}

type jeeObject struct {
	ID        flexString   `json:"id"`
	Name      string       `json:"name"`
	IsVisible flexBool     `json:"isVisible"`
	EqLogics  []jeeEqLogic `json:"eqLogics"`
}

type jeeEqLogic struct {
	ID         flexString          `json:"id"`
	Name       string              `json:"name"`
	ObjectID   flexString          `json:"object_id"`
	EqTypeName string              `json:"eqType_name"`
	IsEnable   flexBool            `json:"isEnable"`
	IsVisible  flexBool            `json:"isVisible"`
	Category   map[string]flexBool `json:"category"`
	Cmds       []jeeCmd            `json:"cmds"`
}

type jeeCmd struct {
	ID        flexString `json:"id"`
	EqLogicID flexString `json:"eqLogic_id"`
	LogicalID string     `json:"logicalId"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	SubType   string     `json:"subType"`
	IsVisible flexBool   `json:"isVisible"`
	Unite     string     `json:"unite"`
	State     flexString `json:"state"`
}

func (e jeeEqLogic) toEquipment(room string) Equipment {
	eq := Equipment{
		ID:         string(e.ID),
		Name:       e.Name,
		Room:       room,
		Type:       e.EqTypeName,
		Enabled:    bool(e.IsEnable),
		Visible:    bool(e.IsVisible),
		Categories: map[string]bool{},
	}
	for k, v := range e.Category {
		if v {
			eq.Categories[k] = true
		}
	}
	for _, c := range e.Cmds {
		cmd := c.toCommand()
		cmd.EquipmentName = e.Name
		cmd.Room = room
		if cmd.EquipmentID == "" {
			cmd.EquipmentID = eq.ID
		}
		eq.Commands = append(eq.Commands, cmd)
	}
	return eq
}

func (c jeeCmd) toCommand() Command {
	return Command{
		ID:          string(c.ID),
		EquipmentID: string(c.EqLogicID),
		Name:        c.Name,
		LogicalID:   c.LogicalID,
		Type:        c.Type,
		SubType:     c.SubType,
		Visible:     bool(c.IsVisible),
		Unit:        c.Unite,
		Value:       string(c.State),
	}
}

func (c *JeedomClient) RoomEquipment(ctx context.Context, room string) ([]Equipment, error) {
	var objects []jeeObject
	if err := c.call(ctx, "jeeObject::full", nil, &objects); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, o := range objects {
		c.rooms[string(o.ID)] = o.Name
	}
	c.mu.Unlock()

	for _, o := range objects {
		if o.Name != room {
			continue
		}
		if !o.IsVisible {
			slog.Debug("room is hidden", "room", room)
			return nil, nil
		}
		out := make([]Equipment, 0, len(o.EqLogics))
		for _, e := range o.EqLogics {
			out = append(out, e.toEquipment(o.Name))
		}
		return out, nil
	}
	slog.Debug("room not found", "room", room)
	return nil, nil
}

func (c *JeedomClient) roomName(ctx context.Context, objectID string) string {
	if objectID == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.rooms[objectID]
	c.mu.Unlock()
	if ok {
		return name
	}

	var o jeeObject
	if err := c.call(ctx, "jeeObject::byId", map[string]any{"id": objectID}, &o); err != nil {
		slog.Debug("room lookup failed", "object_id", objectID, "error", err)
		return ""
	}
	c.mu.Lock()
	c.rooms[objectID] = o.Name
	c.mu.Unlock()
	return o.Name
}

func (c *JeedomClient) Equipment(ctx context.Context, id string) (Equipment, error) {
	var e *jeeEqLogic
	if err := c.call(ctx, "eqLogic::fullById", map[string]any{"id": id}, &e); err != nil {
		return Equipment{}, notFoundOr(err)
	}
	if e == nil || e.ID == "" {
		return Equipment{}, ErrNotFound
	}
	return e.toEquipment(c.roomName(ctx, string(e.ObjectID))), nil
}

func (c *JeedomClient) Command(ctx context.Context, id string) (Command, error) {
	var jc *jeeCmd
	if err := c.call(ctx, "cmd::byId", map[string]any{"id": id}, &jc); err != nil {
		return Command{}, notFoundOr(err)
	}
	if jc == nil || jc.ID == "" {
		return Command{}, ErrNotFound
	}
	cmd := jc.toCommand()

	var e jeeEqLogic
	if err := c.call(ctx, "eqLogic::byId", map[string]any{"id": cmd.EquipmentID}, &e); err == nil {
		cmd.EquipmentName = e.Name
		cmd.Room = c.roomName(ctx, string(e.ObjectID))
	}
	return cmd, nil
}

// notFoundOr maps the controller's "not found" RPC errors to ErrNotFound.
func notFoundOr(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "introuvable") {
		return fmt.Errorf("%w: %s", ErrNotFound, rpcErr.Message)
	}
	return err
}

func (c *JeedomClient) Execute(ctx context.Context, commandID string, options map[string]string) (string, error) {
	params := map[string]any{"id": commandID}
	if len(options) > 0 {
		params["options"] = options
	}
	var value flexString
	if err := c.call(ctx, "cmd::execCmd", params, &value); err != nil {
		return "", fmt.Errorf("executing command %s: %w", commandID, err)
	}
	return string(value), nil
}

func (c *JeedomClient) SetEnabled(ctx context.Context, eq Equipment, enabled bool) error {
	isEnable := 0
	if enabled {
		isEnable = 1
	}
	params := map[string]any{"id": eq.ID, "eqType_name": eq.Type, "isEnable": isEnable}
	if err := c.call(ctx, "eqLogic::save", params, nil); err != nil {
		return fmt.Errorf("saving equipment %s: %w", eq.ID, err)
	}
	return nil
}

// CameraStill reads the camera's stream URL command and downloads the
// current still from the controller.
func (c *JeedomClient) CameraStill(ctx context.Context, equipmentID string) ([]byte, error) {
	eq, err := c.Equipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	cmd, ok := eq.CommandByLogicalID(LogicalStreamURL)
	if !ok {
		return nil, fmt.Errorf("camera %s has no %s command", equipmentID, LogicalStreamURL)
	}
	path, err := c.Execute(ctx, cmd.ID, nil)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("camera %s returned an empty stream url", equipmentID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.stillTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching still: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading still: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("camera %s returned an empty image (HTTP %d)", equipmentID, resp.StatusCode)
	}
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		slog.Debug("camera still does not look like a JPEG", "equipment_id", equipmentID, "bytes", len(data))
	}
	return data, nil
}

// StartScenario launches a scenario. Tags are passed as the scenario's
// #tag# values.
func (c *JeedomClient) StartScenario(ctx context.Context, id int, tags map[string]string) error {
	params := map[string]any{"id": id, "state": "start"}
	if len(tags) > 0 {
		params["tags"] = tags
	}
	if err := c.call(ctx, "scenario::changeState", params, nil); err != nil {
		return fmt.Errorf("starting scenario %d: %w", id, err)
	}
	return nil
}
