// Package history serves paginated conversation reads. It merges call
// records into direct conversation timelines and applies the caller's
// clear watermark, so two participants of the same conversation can see
// different windows of it.
package history

import (
	"github.com/samber/lo"

	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/membership"
	"teamwire/pkg/models"
	"teamwire/pkg/store"
)

// Service holds pagination bounds from configuration.
type Service struct {
	DefaultLimit int
	MaxLimit     int
}

func NewService(defaultLimit, maxLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &Service{DefaultLimit: defaultLimit, MaxLimit: maxLimit}
}

// Entry is one row of a history page: a message or, in direct
// conversations, a completed call.
type Entry struct {
	Kind    string             `json:"kind"`
	Message *models.Message    `json:"message,omitempty"`
	Call    *models.CallRecord `json:"call,omitempty"`
}

func (e Entry) ts() int64 {
	if e.Message != nil {
		return e.Message.CreatedTS
	}
	return e.Call.StartedTS
}

// Page is one history window, oldest entry first. NextCursor feeds the
// before parameter of the next request; empty means nothing older.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// GetHistory returns up to limit visible entries older than the before
// cursor. Soft-deleted messages and everything at or before the
// caller's clear watermark are excluded.
func (s *Service) GetHistory(id auth.Identity, conv, before string, limit int) (Page, error) {
	if conv == "" {
		return Page{}, errs.Validationf("conversation is required")
	}
	if err := membership.Require(conv, id.UserID); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if limit > s.MaxLimit {
		limit = s.MaxLimit
	}
	before, err := resolveCursor(conv, before)
	if err != nil {
		return Page{}, err
	}
	clear, err := store.GetClearWatermark(id.UserID, conv)
	if err != nil {
		return Page{}, errs.Storef("load clear watermark: %v", err)
	}

	msgs, cursor, exhausted, err := s.fetchVisible(conv, before, clear.TS, limit)
	if err != nil {
		return Page{}, err
	}

	entries := lo.Map(msgs, func(m models.Message, _ int) Entry {
		msg := m
		return Entry{Kind: "message", Message: &msg}
	})

	if models.IsDirectID(conv) {
		calls, cerr := s.callsInWindow(conv, before, clear.TS, msgs, exhausted, limit)
		if cerr != nil {
			return Page{}, cerr
		}
		entries = mergeAscending(entries, calls)
		// the call merge can overfill the page; keep the newest limit
		// entries and resume just before the oldest kept one
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
			nc, cerr := cursorBefore(entries[0])
			if cerr != nil {
				return Page{}, cerr
			}
			return Page{Entries: entries, NextCursor: nc, HasMore: true}, nil
		}
	}

	// a window fully below the clear watermark means nothing older is
	// visible either
	if exhausted || (cursor != "" && olderThanClear(cursor, clear.TS)) {
		return Page{Entries: entries, HasMore: false}, nil
	}
	return Page{Entries: entries, NextCursor: cursor, HasMore: true}, nil
}

// resolveCursor normalizes the before parameter. Clients may pass the
// opaque cursor from a previous page or a message id; an id is mapped
// to that message's sort position.
func resolveCursor(conv, before string) (string, error) {
	if before == "" {
		return "", nil
	}
	if _, err := store.TSFromSortKey(before); err == nil {
		return before, nil
	}
	sort, err := store.MessageSortKey(before)
	if err != nil {
		if store.IsNotFound(err) {
			return "", errs.Validationf("malformed cursor")
		}
		return "", errs.Storef("resolve cursor: %v", err)
	}
	msg, err := store.GetLatestMessage(before)
	if err != nil || msg.Conversation != conv {
		return "", errs.Validationf("malformed cursor")
	}
	return sort, nil
}

// cursorBefore derives the cursor that resumes paging just before e.
func cursorBefore(e Entry) (string, error) {
	if e.Message != nil {
		sort, err := store.MessageSortKey(e.Message.ID)
		if err != nil {
			return "", errs.Storef("derive cursor: %v", err)
		}
		return sort, nil
	}
	return store.SortKeyFloor(e.Call.StartedTS), nil
}

// fetchVisible pages the raw store scan until limit visible messages
// are collected or the conversation is exhausted. The returned cursor
// is the raw position of the oldest row examined, visible or not, so
// paging never revisits rows.
func (s *Service) fetchVisible(conv, before string, clearTS int64, limit int) ([]models.Message, string, bool, error) {
	var visible []models.Message
	cursor := before
	for len(visible) < limit {
		want := limit - len(visible)
		raw, oldest, err := store.ListMessagesBefore(conv, cursor, want)
		if err != nil {
			return nil, "", false, errs.Storef("list messages: %v", err)
		}
		if len(raw) == 0 {
			return visible, cursor, true, nil
		}
		keep := lo.Filter(raw, func(m models.Message, _ int) bool {
			return !m.Deleted && m.CreatedTS > clearTS
		})
		visible = append(keep, visible...)
		cursor = oldest
		if len(raw) < want {
			return visible, cursor, true, nil
		}
	}
	return visible, cursor, false, nil
}

// callsInWindow returns call entries between the window's bounds. The
// lower bound follows the oldest visible message so calls line up with
// the message page; an exhausted scan opens the window to the clear
// watermark.
func (s *Service) callsInWindow(conv, before string, clearTS int64, msgs []models.Message, exhausted bool, limit int) ([]Entry, error) {
	var beforeTS int64
	if before != "" {
		ts, err := store.TSFromSortKey(before)
		if err != nil {
			return nil, errs.Validationf("malformed cursor")
		}
		beforeTS = ts
	}
	floor := clearTS
	if !exhausted && len(msgs) > 0 && msgs[0].CreatedTS > floor {
		floor = msgs[0].CreatedTS
	}
	records, err := store.ListTerminalCallsBefore(conv, beforeTS, limit)
	if err != nil {
		return nil, errs.Storef("list calls: %v", err)
	}
	var out []Entry
	for i := len(records) - 1; i >= 0; i-- {
		c := records[i]
		if c.StartedTS > floor {
			out = append(out, Entry{Kind: "call", Call: &records[i]})
		}
	}
	return out, nil
}

// mergeAscending merges two ascending entry slices by timestamp.
func mergeAscending(a, b []Entry) []Entry {
	if len(b) == 0 {
		return a
	}
	out := make([]Entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].ts() <= b[j].ts() {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func olderThanClear(cursor string, clearTS int64) bool {
	ts, err := store.TSFromSortKey(cursor)
	return err == nil && ts <= clearTS
}

// GetVersions returns the stored edit history of one message, oldest
// first, for any conversation participant.
func (s *Service) GetVersions(id auth.Identity, msgID string) ([]models.Message, error) {
	msg, err := store.GetLatestMessage(msgID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errs.NotFoundf("message %s not found", msgID)
		}
		return nil, errs.Storef("load message: %v", err)
	}
	if err := membership.Require(msg.Conversation, id.UserID); err != nil {
		return nil, err
	}
	versions, err := store.ListMessageVersions(msgID)
	if err != nil {
		return nil, errs.Storef("list versions: %v", err)
	}
	return versions, nil
}

// unreadCap bounds the unread badge count; clients render "99+" beyond
// it.
const unreadCap = 99

// ListConversations assembles the caller's conversation list: every
// channel they belong to plus every direct pair they have history with,
// each with its last visible message and a capped unread count.
func (s *Service) ListConversations(id auth.Identity) ([]models.ConversationSummary, error) {
	channels, err := store.ListUserChannels(id.UserID)
	if err != nil {
		return nil, errs.Storef("list channels: %v", err)
	}
	directs, err := store.ListUserDirectConversations(id.UserID)
	if err != nil {
		return nil, errs.Storef("list conversations: %v", err)
	}

	out := make([]models.ConversationSummary, 0, len(channels)+len(directs))
	for _, chID := range channels {
		sum, err := s.summarize(id.UserID, chID, false, "")
		if err != nil {
			return nil, err
		}
		if ch, gerr := store.GetChannel(chID); gerr == nil {
			sum.Name = ch.Name
		}
		out = append(out, sum)
	}
	for _, d := range directs {
		sum, err := s.summarize(id.UserID, d.ID, true, d.Other(id.UserID))
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) summarize(user, conv string, direct bool, peer string) (models.ConversationSummary, error) {
	sum := models.ConversationSummary{ID: conv, Direct: direct, Peer: peer}
	clear, err := store.GetClearWatermark(user, conv)
	if err != nil {
		return sum, errs.Storef("load clear watermark: %v", err)
	}
	read, err := store.GetReadWatermark(conv, user)
	if err != nil {
		return sum, errs.Storef("load read watermark: %v", err)
	}
	if last, lerr := store.LastMessage(conv); lerr == nil {
		if !last.Deleted && last.CreatedTS > clear.TS {
			sum.LastMessage = &last
		}
	} else if !store.IsNotFound(lerr) {
		return sum, errs.Storef("load last message: %v", lerr)
	}
	since := read.TS
	if clear.TS > since {
		since = clear.TS
	}
	n, err := store.CountMessagesAfter(conv, since, user, unreadCap)
	if err != nil {
		return sum, errs.Storef("count unread: %v", err)
	}
	sum.UnreadCount = n
	return sum, nil
}
