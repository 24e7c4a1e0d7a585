package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"teamwire/pkg/models"
)

// SaveCallRecord persists a call record. For 1:1 calls it also writes
// the per-pair chronological index used by history merges and by
// participant-based lookup.
func SaveCallRecord(c models.CallRecord) error {
	if db == nil {
		return notOpen()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	b := new(pebble.Batch)
	b.Set([]byte(callKey(c.ID)), data, nil)
	if c.Receiver != "" {
		pair := models.DirectPairID(c.Caller, c.Receiver)
		b.Set([]byte(callIdxKey(pair, PaddedTS(c.StartedTS), c.ID)), []byte(c.ID), nil)
	}
	return applyBatch(b)
}

// UpdateCallRecord overwrites an existing record. The index row is
// keyed by StartedTS which never changes, so no index rewrite happens.
func UpdateCallRecord(c models.CallRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return setRaw(callKey(c.ID), data)
}

// GetCallRecord returns a call record by id.
func GetCallRecord(id string) (models.CallRecord, error) {
	var c models.CallRecord
	v, err := getRaw(callKey(id))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored call record %s: %w", id, err)
	}
	return c, nil
}

// LatestOpenCallBetween resolves the most recent non-terminal call
// between two users. It covers the callee side of the signaling flow,
// which never learns the generated call id.
func LatestOpenCallBetween(u1, u2 string) (models.CallRecord, error) {
	pair := models.DirectPairID(u1, u2)
	var found models.CallRecord
	var ok bool
	err := scanPrefixReverse(callIdxPrefix(pair), "", func(key string, value []byte) bool {
		c, gerr := GetCallRecord(string(value))
		if gerr != nil {
			return true
		}
		if !c.Status.Terminal() {
			found = c
			ok = true
			return false
		}
		return true
	})
	if err != nil {
		return found, err
	}
	if !ok {
		return found, pebble.ErrNotFound
	}
	return found, nil
}

// ListTerminalCallsBefore returns terminal-status call records between
// a pair with StartedTS strictly older than beforeTS (all newest when
// beforeTS is 0), newest first, capped at limit.
func ListTerminalCallsBefore(pair string, beforeTS int64, limit int) ([]models.CallRecord, error) {
	upper := ""
	if beforeTS > 0 {
		upper = PaddedTS(beforeTS)
	}
	var out []models.CallRecord
	err := scanPrefixReverse(callIdxPrefix(pair), upper, func(key string, value []byte) bool {
		c, gerr := GetCallRecord(string(value))
		if gerr != nil {
			return true
		}
		if c.Status.Terminal() {
			out = append(out, c)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// PurgeCallRecordsBefore hard-deletes terminal call records older than
// cutoff. Used by the retention runner only.
func PurgeCallRecordsBefore(cutoff int64, batch int) (int, error) {
	if db == nil {
		return 0, notOpen()
	}
	n := 0
	b := new(pebble.Batch)
	err := scanPrefix("call:", func(key string, value []byte) bool {
		var c models.CallRecord
		if err := json.Unmarshal(value, &c); err != nil {
			return true
		}
		if !c.Status.Terminal() || c.EndedTS == 0 || c.EndedTS >= cutoff {
			return true
		}
		b.Delete([]byte(key), nil)
		if c.Receiver != "" {
			pair := models.DirectPairID(c.Caller, c.Receiver)
			b.Delete([]byte(callIdxKey(pair, PaddedTS(c.StartedTS), c.ID)), nil)
		}
		n++
		return batch <= 0 || n < batch
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, applyBatch(b)
}

// PurgeMessageVersionsBefore drops superseded version rows older than
// cutoff, keeping the newest version of each message. Current
// conversation rows are never touched; soft-deleted messages stay
// tombstoned.
func PurgeMessageVersionsBefore(cutoff int64, batch int) (int, error) {
	if db == nil {
		return 0, notOpen()
	}
	n := 0
	b := new(pebble.Batch)
	lastOf := map[string]string{}
	// first pass: find the newest version key per message id
	err := scanPrefix("version:msg:", func(key string, value []byte) bool {
		id := versionID(key)
		if id != "" {
			lastOf[id] = key
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	err = scanPrefix("version:msg:", func(key string, value []byte) bool {
		id := versionID(key)
		if id == "" || lastOf[id] == key {
			return true
		}
		sort := key[strings.LastIndex(key, ":")+1:]
		ts, terr := TSFromSortKey(sort)
		if terr != nil || ts >= cutoff {
			return true
		}
		b.Delete([]byte(key), nil)
		n++
		return batch <= 0 || n < batch
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, applyBatch(b)
}

// versionID extracts the message id from a "version:msg:<id>:<sort>"
// key.
func versionID(key string) string {
	rest := strings.TrimPrefix(key, "version:msg:")
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return ""
	}
	return rest[:i]
}
