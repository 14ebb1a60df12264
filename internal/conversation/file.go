package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileState is the on-disk document. Keys written by older releases
// (assistant_id, threads) are not modelled and disappear on the next write.
type fileState struct {
	Conversations map[string]*Record `json:"conversations"`
}

// FileStore keeps every conversation in one JSON document. Each call reads
// the whole file and each mutation rewrites it; nothing is cached between
// calls, so several processes can share the file. Concurrent writers from
// different processes are not coordinated and the last writer wins.
type FileStore struct {
	path string
	opts Options

	// mu serialises read-modify-write cycles inside this process only.
	mu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string, opts Options) *FileStore {
	return &FileStore{path: path, opts: opts.withDefaults()}
}

func (s *FileStore) load() (fileState, error) {
	st := fileState{Conversations: map[string]*Record{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("reading conversation file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("conversation file is not valid JSON, starting empty", "path", s.path, "error", err)
		return fileState{Conversations: map[string]*Record{}}, nil
	}
	if st.Conversations == nil {
		st.Conversations = map[string]*Record{}
	}
	return st, nil
}

func (s *FileStore) save(st fileState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating conversation dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing conversation file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing conversation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing conversation file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing conversation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing conversation file: %w", err)
	}
	return nil
}

func (s *FileStore) History(_ context.Context, profile string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := st.Conversations[profile]
	if !ok {
		return []Message{}, nil
	}
	return copyMessages(rec.Messages), nil
}

func (s *FileStore) AppendTurn(_ context.Context, profile, role, content string) error {
	if profile == "" {
		return ErrInvalidProfile
	}
	if err := validRole(role); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := st.Conversations[profile]
	if !ok {
		rec = &Record{}
		st.Conversations[profile] = rec
	}
	rec.append(Message{Role: role, Content: content, Timestamp: s.opts.now()}, s.opts.MaxMessages)
	return s.save(st)
}

func (s *FileStore) PruneExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return 0, err
	}

	now, maxAge := s.opts.now(), s.opts.maxAgeSeconds()
	removed := 0
	for profile, rec := range st.Conversations {
		if rec.expired(now, maxAge) {
			delete(st.Conversations, profile)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(st)
}

func (s *FileStore) Reset(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := st.Conversations[profile]; !ok {
		return nil
	}
	delete(st.Conversations, profile)
	return s.save(st)
}

func (s *FileStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(fileState{Conversations: map[string]*Record{}})
}

func (s *FileStore) Profiles(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(st.Conversations))
	for profile, rec := range st.Conversations {
		r := *rec
		r.Profile = profile
		r.Messages = copyMessages(rec.Messages)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out, nil
}

func (s *FileStore) Close() error { return nil }
