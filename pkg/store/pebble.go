// Package store owns the persistent keyspace. All conversation,
// message, reaction, receipt and call state lives here; the in-process
// presence registry is never a source of truth for anything persisted.
package store

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"

	"teamwire/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// Open opens (or creates) a Pebble database at the given path and keeps
// a package handle for the lifetime of the process.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpen() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// getJSON reads key and returns the raw value, or pebble.ErrNotFound.
func getRaw(key string) ([]byte, error) {
	if db == nil {
		return nil, notOpen()
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// setRaw writes key with a synced write.
func setRaw(key string, value []byte) error {
	if db == nil {
		return notOpen()
	}
	return db.Set([]byte(key), value, pebble.Sync)
}

// deleteRaw removes key with a synced write.
func deleteRaw(key string) error {
	if db == nil {
		return notOpen()
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// IsNotFound reports whether err is the store's missing-key error.
func IsNotFound(err error) bool {
	return err == pebble.ErrNotFound
}

// scanPrefix iterates all keys with the given prefix in ascending order
// and calls fn with each key and value. fn returning false stops the
// scan early.
func scanPrefix(prefix string, fn func(key string, value []byte) bool) error {
	if db == nil {
		return notOpen()
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

// scanPrefixReverse iterates keys with the given prefix in descending
// order, starting strictly below upper (prefix+upper bound suffix). An
// empty upper starts from the end of the prefix range.
func scanPrefixReverse(prefix, upper string, fn func(key string, value []byte) bool) error {
	if db == nil {
		return notOpen()
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	var seek []byte
	if upper == "" {
		// 0xff never appears in key text, so this lands past the last
		// key of the prefix range.
		seek = append(append([]byte(nil), pfx...), 0xff)
	} else {
		seek = []byte(prefix + upper)
	}
	for valid := iter.SeekLT(seek); valid; valid = iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

// applyBatch commits a prepared batch with a synced write.
func applyBatch(b *pebble.Batch) error {
	if db == nil {
		return notOpen()
	}
	return db.Apply(b, pebble.Sync)
}

// DBPath returns the path the store was opened with.
func DBPath() string { return dbPath }
