// Package devices models the home-automation registry: rooms, equipment and
// their commands, plus the operations the assistant performs on them.
package devices

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when an equipment, command or room does not exist.
var ErrNotFound = errors.New("not found")

const (
	CommandAction = "action"
	CommandInfo   = "info"

	TypeCamera = "camera"

	CategoryLight = "light"
)

// Logical ids of the camera commands used by the assistant.
const (
	LogicalStreamURL    = "urlFlux"
	LogicalSendSnapshot = "sendSnapshot"
)

// Equipment is a device in a room.
type Equipment struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Room       string          `json:"room"`
	Type       string          `json:"type"`
	Enabled    bool            `json:"enabled"`
	Visible    bool            `json:"visible"`
	Categories map[string]bool `json:"categories,omitempty"`
	Commands   []Command       `json:"commands,omitempty"`

	// Still is a path to a JPEG served as the camera image by FileRegistry.
	Still string `json:"still,omitempty"`
}

// Command is an actuation (type action) or a readable value (type info).
type Command struct {
	ID            string `json:"id"`
	EquipmentID   string `json:"equipment_id,omitempty"`
	EquipmentName string `json:"-"`
	Room          string `json:"-"`
	Name          string `json:"name"`
	LogicalID     string `json:"logical_id,omitempty"`
	Type          string `json:"type"`
	SubType       string `json:"sub_type,omitempty"`
	Visible       bool   `json:"visible"`
	Unit          string `json:"unit,omitempty"`
	Value         string `json:"value,omitempty"`
}

// HumanName renders the equipment the way the controller UI does: [Room][Name].
func (e Equipment) HumanName() string {
	return "[" + e.Room + "][" + e.Name + "]"
}

// InCategory reports whether the equipment carries any of the given categories.
func (e Equipment) InCategory(categories ...string) bool {
	for _, c := range categories {
		if e.Categories[c] {
			return true
		}
	}
	return false
}

// CommandByLogicalID returns the first command with the given logical id.
func (e Equipment) CommandByLogicalID(logicalID string) (Command, bool) {
	for _, c := range e.Commands {
		if c.LogicalID == logicalID {
			return c, true
		}
	}
	return Command{}, false
}

// HumanName renders [Room][Equipment][Command].
func (c Command) HumanName() string {
	return "[" + c.Room + "][" + c.EquipmentName + "][" + c.Name + "]"
}

// Registry is the read/actuate surface of the home-automation controller.
type Registry interface {
	// RoomEquipment returns the equipment of a visible room in controller
	// order. Unknown or hidden rooms yield an empty list.
	RoomEquipment(ctx context.Context, room string) ([]Equipment, error)
	Equipment(ctx context.Context, id string) (Equipment, error)
	Command(ctx context.Context, id string) (Command, error)
	// Execute runs a command. Info commands return their current value.
	Execute(ctx context.Context, commandID string, options map[string]string) (string, error)
	SetEnabled(ctx context.Context, eq Equipment, enabled bool) error
	CameraStill(ctx context.Context, equipmentID string) ([]byte, error)
}

// ScenarioRunner starts controller scenarios with tags.
type ScenarioRunner interface {
	StartScenario(ctx context.Context, id int, tags map[string]string) error
}

// SplitIDs splits a comma-separated id list, trimming blanks.
func SplitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
