// Package nvs implements the non-volatile key/value preference store
// described by §6, backed by Badger — adapted from
// ManuGH-xg2g/internal/v3/store/badger_store.go's transactional
// Update/View pattern, with the keys and erase-on-version-mismatch
// behaviour specific to Tangara's NVS namespace.
package nvs

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Keys, per §6.
const (
	KeyBluetoothMAC  = "bt"         // blob
	KeyOutput        = "out"        // u8: 0=Headphones, 1=Bluetooth
	KeyBrightness    = "bright"     // u8 %, default 50
	KeyHpVolMax      = "hp_vol_max" // u16 DAC units
	KeyHpVol         = "hp_vol"     // u16
	KeyVersion       = "ver"        // u8, must equal currentVersion
)

const currentVersion = 1

// Store wraps a Badger database dedicated to the NVS namespace. Exclusive
// access to NVS is via a single background worker per §5; Store itself
// does not serialize callers — that discipline lives in the worker pool.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the NVS store at path. If the stored version
// byte doesn't equal currentVersion, the whole namespace is erased and
// re-initialised, per §6.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("nvs: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkVersion() error {
	var version byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyVersion))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if len(val) > 0 {
				version = val[0]
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if found && version == currentVersion {
		return nil
	}
	return s.eraseAndInit()
}

func (s *Store) eraseAndInit() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("nvs: erase namespace: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(KeyVersion), []byte{currentVersion}); err != nil {
			return err
		}
		if err := txn.Set([]byte(KeyBrightness), []byte{50}); err != nil {
			return err
		}
		return nil
	})
}

// GetU8 reads a single-byte value, returning (0, false) if absent.
func (s *Store) GetU8(key string) (byte, bool) {
	var v byte
	found := false
	s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if len(val) > 0 {
				v = val[0]
			}
			return nil
		})
	})
	return v, found
}

// SetU8 writes a single-byte value.
func (s *Store) SetU8(key string, v byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte{v})
	})
}

// GetU16 reads a little-endian uint16 value, returning (0, false) if
// absent.
func (s *Store) GetU16(key string) (uint16, bool) {
	var v uint16
	found := false
	s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if len(val) >= 2 {
				v = binary.LittleEndian.Uint16(val)
			}
			return nil
		})
	})
	return v, found
}

// SetU16 writes a little-endian uint16 value.
func (s *Store) SetU16(key string, v uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

// GetBlob reads an opaque byte blob, returning (nil, false) if absent.
func (s *Store) GetBlob(key string) ([]byte, bool) {
	var v []byte
	found := false
	s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			v = append([]byte{}, val...)
			return nil
		})
	})
	return v, found
}

// SetBlob writes an opaque byte blob (used for the bt MAC key).
func (s *Store) SetBlob(key string, v []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), v)
	})
}

// Close releases the underlying Badger handle.
func (s *Store) Close() error { return s.db.Close() }
