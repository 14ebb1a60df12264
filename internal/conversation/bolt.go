package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("conversations")

// BoltStore keeps one JSON record per profile in a bbolt bucket. Each
// operation runs in a single bolt transaction.
type BoltStore struct {
	db   *bolt.DB
	opts Options
}

// OpenBoltStore opens (or creates) the bolt database at path.
func OpenBoltStore(path string, opts Options) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db, opts: opts.withDefaults()}, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) History(_ context.Context, profile string) ([]Message, error) {
	msgs := []Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(boltBucket).Get([]byte(profile))
		if data == nil {
			return nil
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", profile, err)
		}
		msgs = rec.Messages
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *BoltStore) AppendTurn(_ context.Context, profile, role, content string) error {
	if profile == "" {
		return ErrInvalidProfile
	}
	if err := validRole(role); err != nil {
		return err
	}

	msg := Message{Role: role, Content: content, Timestamp: s.opts.now()}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		rec := &Record{}
		if data := b.Get([]byte(profile)); data != nil {
			decoded, err := decodeRecord(data)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", profile, err)
			}
			rec = decoded
		}
		rec.append(msg, s.opts.MaxMessages)

		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(profile), val)
	})
}

func (s *BoltStore) PruneExpired(_ context.Context) (int, error) {
	now, maxAge := s.opts.now(), s.opts.maxAgeSeconds()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			if rec.expired(now, maxAge) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) Reset(_ context.Context, profile string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(profile))
	})
}

func (s *BoltStore) ResetAll(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(boltBucket)
		return err
	})
}

func (s *BoltStore) Profiles(_ context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			rec.Profile = string(k)
			out = append(out, *rec)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error { return s.db.Close() }
