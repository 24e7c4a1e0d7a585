package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"teamwire/pkg/logger"
	"teamwire/pkg/metrics"
	"teamwire/pkg/models"
)

// SaveNewMessage persists a freshly created message in one atomic
// batch: the conversation row, the latest pointer, the id→row locator
// and the first version entry. This write is the delivery pipeline's
// atomicity boundary; once it returns nil the message is durable.
func SaveNewMessage(msg models.Message) error {
	if db == nil {
		return notOpen()
	}
	sort := SortKey(msg.CreatedTS)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	b := new(pebble.Batch)
	b.Set([]byte(msgKey(msg.Conversation, sort)), data, nil)
	b.Set([]byte(latestKey(msg.ID)), data, nil)
	b.Set([]byte(msglocKey(msg.ID)), []byte(sort), nil)
	b.Set([]byte(versionPrefix(msg.ID)+sort), data, nil)
	if err := applyBatch(b); err != nil {
		logger.Error("save_message_failed", "conversation", msg.Conversation, "id", msg.ID, "error", err)
		metrics.StoreErrors.Inc()
		return err
	}
	metrics.MessagesPersisted.Inc()
	logger.Info("message_saved", "conversation", msg.Conversation, "id", msg.ID)
	return nil
}

// RewriteMessage overwrites the current row of an existing message
// (edit or soft delete) and appends a version entry. The conversation
// row keeps its original sort position so history order is stable.
func RewriteMessage(msg models.Message) error {
	if db == nil {
		return notOpen()
	}
	loc, err := getRaw(msglocKey(msg.ID))
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	b := new(pebble.Batch)
	b.Set([]byte(msgKey(msg.Conversation, string(loc))), data, nil)
	b.Set([]byte(latestKey(msg.ID)), data, nil)
	b.Set([]byte(versionPrefix(msg.ID)+SortKey(msg.UpdatedTS)), data, nil)
	if err := applyBatch(b); err != nil {
		logger.Error("rewrite_message_failed", "id", msg.ID, "error", err)
		metrics.StoreErrors.Inc()
		return err
	}
	return nil
}

// GetLatestMessage returns the current state of a message by id.
func GetLatestMessage(id string) (models.Message, error) {
	var m models.Message
	v, err := getRaw(latestKey(id))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message %s: %w", id, err)
	}
	return m, nil
}

// MessageSortKey returns the conversation-row sort suffix for a message
// id, used to turn a message id into a pagination cursor.
func MessageSortKey(id string) (string, error) {
	v, err := getRaw(msglocKey(id))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// ListMessagesBefore returns up to limit current message rows of a
// conversation strictly older than the before sort suffix (all newest
// rows when before is empty), ordered oldest to newest. The second
// return value is the sort suffix of the oldest returned row, usable as
// the next cursor.
func ListMessagesBefore(conv, before string, limit int) ([]models.Message, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}
	prefix := msgPrefix(conv)
	var rev []models.Message
	var oldest string
	err := scanPrefixReverse(prefix, before, func(key string, value []byte) bool {
		var m models.Message
		if err := json.Unmarshal(value, &m); err != nil {
			logger.Warn("skip_invalid_message_row", "key", key, "error", err)
			return true
		}
		rev = append(rev, m)
		oldest = key[len(prefix):]
		return len(rev) < limit
	})
	if err != nil {
		return nil, "", err
	}
	// reverse into ascending order for the caller to prepend
	out := make([]models.Message, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out, oldest, nil
}

// ListMessageVersions returns all stored versions of a message in
// chronological order.
func ListMessageVersions(id string) ([]models.Message, error) {
	var out []models.Message
	err := scanPrefix(versionPrefix(id), func(key string, value []byte) bool {
		var m models.Message
		if err := json.Unmarshal(value, &m); err == nil {
			out = append(out, m)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, pebble.ErrNotFound
	}
	return out, nil
}

// LastMessage returns the newest current row of a conversation, or
// not-found when the conversation is empty.
func LastMessage(conv string) (models.Message, error) {
	msgs, _, err := ListMessagesBefore(conv, "", 1)
	if err != nil {
		return models.Message{}, err
	}
	if len(msgs) == 0 {
		return models.Message{}, pebble.ErrNotFound
	}
	return msgs[0], nil
}

// CountMessagesAfter counts current rows newer than ts not sent by
// user, capped at max. It backs the unread badge, so an exact count
// beyond the cap is not needed.
func CountMessagesAfter(conv string, ts int64, excludeSender string, max int) (int, error) {
	n := 0
	start := msgPrefix(conv) + PaddedTS(ts+1)
	prefix := msgPrefix(conv)
	if db == nil {
		return 0, notOpen()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	for iter.SeekGE([]byte(start)); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted || m.Sender == excludeSender {
			continue
		}
		n++
		if max > 0 && n >= max {
			break
		}
	}
	return n, iter.Error()
}
