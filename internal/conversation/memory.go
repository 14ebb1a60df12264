package conversation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults(), records: make(map[string]*Record)}
}

func (s *MemoryStore) History(_ context.Context, profile string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[profile]
	if !ok {
		return []Message{}, nil
	}
	return copyMessages(rec.Messages), nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, profile, role, content string) error {
	if profile == "" {
		return ErrInvalidProfile
	}
	if err := validRole(role); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[profile]
	if !ok {
		rec = &Record{}
		s.records[profile] = rec
	}
	rec.append(Message{Role: role, Content: content, Timestamp: s.opts.now()}, s.opts.MaxMessages)
	return nil
}

func (s *MemoryStore) PruneExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now, maxAge := s.opts.now(), s.opts.maxAgeSeconds()
	removed := 0
	for profile, rec := range s.records {
		if rec.expired(now, maxAge) {
			delete(s.records, profile)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Reset(_ context.Context, profile string) error {
	s.mu.Lock()
	delete(s.records, profile)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Profiles(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for profile, rec := range s.records {
		r := *rec
		r.Profile = profile
		r.Messages = copyMessages(rec.Messages)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
