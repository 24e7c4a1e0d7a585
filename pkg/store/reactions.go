package store

import (
	"encoding/json"
	"sort"
	"strings"

	"teamwire/pkg/models"
)

// PutReaction upserts the (message, user, emoji) row. Adding the same
// reaction twice overwrites the row in place, so the triple stays
// unique and the operation is idempotent.
func PutReaction(r models.Reaction) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return setRaw(reactKey(r.MessageID, r.User, r.Emoji), data)
}

// DeleteReaction removes the row if present; removing an absent row is
// a no-op. Counts are recomputed from rows, so nothing can ever be
// decremented below zero.
func DeleteReaction(msgID, user, emoji string) error {
	err := deleteRaw(reactKey(msgID, user, emoji))
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// ListReactions returns every individual reaction row for a message,
// for the "who reacted" detail view.
func ListReactions(msgID string) ([]models.Reaction, error) {
	var out []models.Reaction
	err := scanPrefix(reactPrefix(msgID), func(key string, value []byte) bool {
		var r models.Reaction
		if err := json.Unmarshal(value, &r); err == nil {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

// AggregateReactions recomputes the per-emoji tally from the rows. The
// full list is what every mutation broadcasts.
func AggregateReactions(msgID string) ([]models.EmojiCount, error) {
	rows, err := ListReactions(msgID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Emoji]++
	}
	out := make([]models.EmojiCount, 0, len(counts))
	for e, n := range counts {
		out = append(out, models.EmojiCount{Emoji: e, Count: n})
	}
	// deterministic order for clients and tests
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.Compare(out[i].Emoji, out[j].Emoji) < 0
	})
	return out, nil
}
