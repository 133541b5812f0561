// Package db implements the on-disk database key/value store described
// by §6 (audio:queue, audio:current), distinct from the NVS preference
// store — the spec keeps the two stores logically separate, so this
// package owns its own Badger instance, adapted the same way
// internal/nvs adapts ManuGH-xg2g's badger_store.go.
package db

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

const (
	KeyAudioQueue   = "audio:queue"
	KeyAudioCurrent = "audio:current"

	// SchemaVersion identifies the record layout above, backing the
	// console's `version` command (original_source's
	// database::kCurrentDbVersion).
	SchemaVersion = 1
)

// CurrentTrack is the CBOR-encoded value of audio:current:
// [uri: tstr, position_s: uint].
type CurrentTrack struct {
	_         struct{} `cbor:",toarray"`
	URI       string
	PositionS uint64
}

// QueueRecord is the opaque serialised queue value stored at audio:queue.
// Flags mirror queue.Snapshot without importing the queue package (db is
// a lower-level dependency of queue's persistence helpers, not the
// reverse).
type QueueRecord struct {
	_        struct{} `cbor:",toarray"`
	URIs     []string
	Position int
	Repeat   bool
	Replay   bool
	Random   bool
}

// Store wraps the Badger database backing resume/queue persistence.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	return &Store{db: bdb}, nil
}

// Close releases the underlying Badger handle.
func (s *Store) Close() error { return s.db.Close() }

// PutCurrent writes audio:current as CBOR.
func (s *Store) PutCurrent(c CurrentTrack) error {
	raw, err := cbor.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyAudioCurrent), raw)
	})
}

// GetCurrent reads audio:current, returning (zero, false) if absent.
func (s *Store) GetCurrent() (CurrentTrack, bool) {
	var c CurrentTrack
	found := false
	s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyAudioCurrent))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := cbor.Unmarshal(val, &c); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return c, found
}

// PutQueue writes audio:queue as CBOR.
func (s *Store) PutQueue(q QueueRecord) error {
	raw, err := cbor.Marshal(q)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyAudioQueue), raw)
	})
}

// GetQueue reads audio:queue, returning (zero, false) if absent.
func (s *Store) GetQueue() (QueueRecord, bool) {
	var q QueueRecord
	found := false
	s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyAudioQueue))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := cbor.Unmarshal(val, &q); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return q, found
}

// UpdateIndexes reindexes the media library, backing the console's
// `db_init` command (original_source's `db->updateIndexes()`). Full
// library scanning/tagging is out of this repo's scope (§1 Non-goals):
// this does nothing, records nothing and always returns nil.
func (s *Store) UpdateIndexes() error {
	return nil
}

// ClearResumeKeys deletes both audio:queue and audio:current. Called
// before attempting a restore so that a crash mid-restore cannot produce
// a boot loop (§4.3).
func (s *Store) ClearResumeKeys() error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(KeyAudioQueue)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete([]byte(KeyAudioCurrent)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}
