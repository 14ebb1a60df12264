// Package collector builds the device-state snapshot sent to the model.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kalambet/jarvis/internal/devices"
	"github.com/kalambet/jarvis/internal/interpret"
)

// WarnSize is the snapshot size above which a warning is logged. The
// snapshot is sent regardless.
const WarnSize = 30000

const stateCommand = "Etat"

var (
	DefaultActionCategories = []string{"light", "opening", "heating", "security"}
	DefaultExcludedCommands = []string{"Rafraichir", "binaire", "Thumbnail"}

	lightNames = strings.NewReplacer("On", "Allumer", "Off", "Eteindre")
)

// Config holds the snapshot filters.
type Config struct {
	// Rooms is the inclusion list, in output order.
	Rooms             []string
	ExcludedEquipment []string
	ActionCategories  []string
	ExcludedCommands  []string
}

// Collector reads the registry and renders the filtered room tree.
type Collector struct {
	registry devices.Registry
	cfg      Config
}

// New returns a Collector. Nil category and command lists take the defaults.
func New(registry devices.Registry, cfg Config) *Collector {
	if cfg.ActionCategories == nil {
		cfg.ActionCategories = DefaultActionCategories
	}
	if cfg.ExcludedCommands == nil {
		cfg.ExcludedCommands = DefaultExcludedCommands
	}
	return &Collector{registry: registry, cfg: cfg}
}

// Rooms returns the configured inclusion list.
func (c *Collector) Rooms() []string {
	return slices.Clone(c.cfg.Rooms)
}

// Filter keeps the requested rooms that are in the inclusion list, in the
// caller's order. A nil request selects the whole list.
func (c *Collector) Filter(rooms []string) []string {
	if rooms == nil {
		return c.Rooms()
	}
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if slices.Contains(c.cfg.Rooms, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

type tree = orderedmap.OrderedMap[string, any]

// Collect returns the pretty-printed snapshot of the selected rooms.
func (c *Collector) Collect(ctx context.Context, rooms []string, mode interpret.Mode) (string, error) {
	root := orderedmap.New[string, any]()

	for _, room := range c.Filter(rooms) {
		eqs, err := c.registry.RoomEquipment(ctx, room)
		if err != nil {
			return "", fmt.Errorf("reading room %s: %w", room, err)
		}
		for _, eq := range eqs {
			node, ok := c.equipment(eq, mode)
			if !ok {
				continue
			}
			roomNode, _ := root.Get(eq.Room)
			rn, _ := roomNode.(*tree)
			if rn == nil {
				rn = orderedmap.New[string, any]()
				root.Set(eq.Room, rn)
			}
			rn.Set(eq.Name, node)
		}
	}

	out, err := encode(root)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	if len(out) > WarnSize {
		slog.Warn("device snapshot is large and may exceed the model context",
			"bytes", len(out), "kb", fmt.Sprintf("%.2f", float64(len(out))/1024))
	}
	slog.Debug("device snapshot collected", "bytes", len(out), "rooms", root.Len())
	return out, nil
}

func (c *Collector) equipment(eq devices.Equipment, mode interpret.Mode) (any, bool) {
	if !eq.Enabled || !eq.Visible || containsAny(eq.Name, c.cfg.ExcludedEquipment) {
		return nil, false
	}

	if eq.Type == devices.TypeCamera {
		cam := orderedmap.New[string, any]()
		cam.Set("id", eq.ID)
		return cam, true
	}

	allowed := eq.InCategory(c.cfg.ActionCategories...)
	cmds := orderedmap.New[string, any]()
	for _, cmd := range eq.Commands {
		if containsAny(cmd.Name, c.cfg.ExcludedCommands) {
			continue
		}
		if !cmd.Visible && cmd.Name != stateCommand {
			continue
		}

		switch cmd.Type {
		case devices.CommandAction:
			if mode != interpret.ModeAction || !allowed {
				continue
			}
			name := cmd.Name
			if eq.Categories[devices.CategoryLight] {
				name = lightNames.Replace(name)
			}
			action := orderedmap.New[string, any]()
			action.Set("id", cmd.ID)
			cmds.Set(name, action)
		case devices.CommandInfo:
			if cmd.Value == "" {
				continue
			}
			cmds.Set(cmd.Name, cmd.Value+cmd.Unit)
		}
	}
	if cmds.Len() == 0 {
		return nil, false
	}
	return cmds, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// encode writes the tree as indented JSON with keys in insertion order and
// without HTML escaping.
func encode(root *tree) (string, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, root); err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	m, ok := v.(*tree)
	if !ok {
		return writeScalar(buf, v)
	}
	if m.Len() == 0 {
		buf.WriteString("[]")
		return nil
	}
	buf.WriteByte('{')
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if pair != m.Oldest() {
			buf.WriteByte(',')
		}
		if err := writeScalar(buf, pair.Key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, pair.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
