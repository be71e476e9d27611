package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"fusiond/state"
)

var (
	bucketLatest  = []byte("snapshot_latest")
	bucketHistory = []byte("snapshot_history")
	keyLatest     = []byte("latest")
)

// ErrNoSnapshot indicates no snapshot has been persisted yet. Callers treat
// it as a fresh deployment and start from an empty store.
var ErrNoSnapshot = errors.New("storage: no snapshot persisted")

// SnapshotStore persists state snapshots in a bbolt file: the latest image
// under a fixed key plus a bounded history keyed by capture time.
type SnapshotStore struct {
	db      *bolt.DB
	history int
}

// OpenSnapshotStore opens (or creates) the snapshot database at path,
// retaining up to history previous snapshots alongside the latest one.
func OpenSnapshotStore(path string, history int) (*SnapshotStore, error) {
	if history < 0 {
		history = 0
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open snapshot db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLatest); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init snapshot buckets: %w", err)
	}
	return &SnapshotStore{db: db, history: history}, nil
}

// Save persists the snapshot as the latest image and appends it to the
// history, pruning entries beyond the retention limit.
func (s *SnapshotStore) Save(snap *state.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("storage: nil snapshot")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketLatest).Put(keyLatest, payload); err != nil {
			return err
		}
		history := tx.Bucket(bucketHistory)
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], uint64(snap.TakenAt))
		if err := history.Put(key[:], payload); err != nil {
			return err
		}
		return pruneHistory(history, s.history)
	})
}

func pruneHistory(history *bolt.Bucket, keep int) error {
	// Bucket stats lag within a write transaction, so count by cursor.
	count := 0
	c := history.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		count++
	}
	excess := count - keep
	if excess <= 0 {
		return nil
	}
	var stale [][]byte
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := history.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the latest persisted snapshot, or ErrNoSnapshot when the
// store is empty.
func (s *SnapshotStore) Load() (*state.Snapshot, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketLatest).Get(keyLatest)
		if raw != nil {
			payload = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: read snapshot: %w", err)
	}
	if payload == nil {
		return nil, ErrNoSnapshot
	}
	snap := &state.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("storage: decode snapshot: %w", err)
	}
	return snap, nil
}

// HistoryCount reports how many historical snapshots are retained.
func (s *SnapshotStore) HistoryCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketHistory).Stats().KeyN
		return nil
	})
	return count, err
}

// Close releases the underlying database.
func (s *SnapshotStore) Close() error { return s.db.Close() }
