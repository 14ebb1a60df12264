package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Room is one room of a FileRegistry snapshot.
type Room struct {
	Name      string      `json:"name"`
	Visible   bool        `json:"visible"`
	Equipment []Equipment `json:"equipment"`
}

type registryFile struct {
	Rooms []Room `json:"rooms"`
}

// Execution is a command run recorded by FileRegistry.
type Execution struct {
	CommandID string
	Options   map[string]string
}

// ScenarioRun is a scenario start recorded by FileRegistry.
type ScenarioRun struct {
	ID   int
	Tags map[string]string
}

// FileRegistry serves rooms and equipment from a JSON snapshot. Actions are
// recorded instead of being sent anywhere.
type FileRegistry struct {
	dir string

	mu        sync.Mutex
	rooms     []Room
	execs     []Execution
	scenarios []ScenarioRun
}

// LoadFileRegistry reads a registry snapshot from path.
func LoadFileRegistry(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	r := NewFileRegistry(rf.Rooms)
	r.dir = filepath.Dir(path)
	return r, nil
}

// NewFileRegistry builds a registry from in-memory rooms.
func NewFileRegistry(rooms []Room) *FileRegistry {
	for i := range rooms {
		for j := range rooms[i].Equipment {
			eq := &rooms[i].Equipment[j]
			eq.Room = rooms[i].Name
			for k := range eq.Commands {
				c := &eq.Commands[k]
				c.EquipmentID = eq.ID
				c.EquipmentName = eq.Name
				c.Room = eq.Room
			}
		}
	}
	return &FileRegistry{rooms: rooms}
}

func (r *FileRegistry) RoomEquipment(_ context.Context, room string) ([]Equipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rm := range r.rooms {
		if rm.Name == room && rm.Visible {
			out := make([]Equipment, len(rm.Equipment))
			copy(out, rm.Equipment)
			return out, nil
		}
	}
	return nil, nil
}

func (r *FileRegistry) findEquipment(id string) *Equipment {
	for i := range r.rooms {
		for j := range r.rooms[i].Equipment {
			if r.rooms[i].Equipment[j].ID == id {
				return &r.rooms[i].Equipment[j]
			}
		}
	}
	return nil
}

func (r *FileRegistry) findCommand(id string) *Command {
	for i := range r.rooms {
		for j := range r.rooms[i].Equipment {
			eq := &r.rooms[i].Equipment[j]
			for k := range eq.Commands {
				if eq.Commands[k].ID == id {
					return &eq.Commands[k]
				}
			}
		}
	}
	return nil
}

func (r *FileRegistry) Equipment(_ context.Context, id string) (Equipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eq := r.findEquipment(id); eq != nil {
		return *eq, nil
	}
	return Equipment{}, ErrNotFound
}

func (r *FileRegistry) Command(_ context.Context, id string) (Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findCommand(id); c != nil {
		return *c, nil
	}
	return Command{}, ErrNotFound
}

func (r *FileRegistry) Execute(_ context.Context, commandID string, options map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.findCommand(commandID)
	if c == nil {
		return "", fmt.Errorf("executing command %s: %w", commandID, ErrNotFound)
	}
	if c.Type == CommandInfo {
		return c.Value, nil
	}
	r.execs = append(r.execs, Execution{CommandID: commandID, Options: options})
	return "", nil
}

func (r *FileRegistry) SetEnabled(_ context.Context, eq Equipment, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := r.findEquipment(eq.ID)
	if found == nil {
		return fmt.Errorf("saving equipment %s: %w", eq.ID, ErrNotFound)
	}
	found.Enabled = enabled
	return nil
}

func (r *FileRegistry) CameraStill(_ context.Context, equipmentID string) ([]byte, error) {
	r.mu.Lock()
	eq := r.findEquipment(equipmentID)
	var still string
	if eq != nil {
		still = eq.Still
	}
	r.mu.Unlock()

	if eq == nil {
		return nil, ErrNotFound
	}
	if still == "" {
		return nil, fmt.Errorf("camera %s has no still image", equipmentID)
	}
	if !filepath.IsAbs(still) && r.dir != "" {
		still = filepath.Join(r.dir, still)
	}
	return os.ReadFile(still)
}

func (r *FileRegistry) StartScenario(_ context.Context, id int, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios = append(r.scenarios, ScenarioRun{ID: id, Tags: tags})
	return nil
}

// Executions returns the commands run so far.
func (r *FileRegistry) Executions() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, len(r.execs))
	copy(out, r.execs)
	return out
}

// Scenarios returns the scenarios started so far.
func (r *FileRegistry) Scenarios() []ScenarioRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScenarioRun, len(r.scenarios))
	copy(out, r.scenarios)
	return out
}
