// Package membership answers "who is in this conversation" and backs
// every authorization check in the delivery pipeline.
package membership

import (
	"teamwire/pkg/errs"
	"teamwire/pkg/models"
	"teamwire/pkg/store"
)

// CanAccess reports whether user may act in the conversation: channel
// membership, or being one side of the direct pair.
func CanAccess(conv, user string) (bool, error) {
	if models.IsDirectID(conv) {
		d, err := store.GetDirectConversation(conv)
		if err != nil {
			if store.IsNotFound(err) {
				// first contact: the pair id itself authorizes its two users
				a, b := splitPair(conv)
				return user == a || user == b, nil
			}
			return false, errs.Storef("load conversation: %v", err)
		}
		return d.Has(user), nil
	}
	ok, err := store.IsChannelMember(conv, user)
	if err != nil {
		return false, errs.Storef("membership check: %v", err)
	}
	return ok, nil
}

// Require returns ErrAuthorization unless user may act in conv.
func Require(conv, user string) error {
	ok, err := CanAccess(conv, user)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Authorizationf("user %s is not a member of %s", user, conv)
	}
	return nil
}

// Recipients resolves the conversation's other participants: all
// channel members except the sender, or the other side of the pair.
func Recipients(conv, sender string) ([]string, error) {
	if models.IsDirectID(conv) {
		a, b := splitPair(conv)
		switch sender {
		case a:
			return []string{b}, nil
		case b:
			return []string{a}, nil
		default:
			return []string{a, b}, nil
		}
	}
	members, err := store.ListChannelMembers(conv)
	if err != nil {
		return nil, errs.Storef("list members: %v", err)
	}
	out := members[:0]
	for _, m := range members {
		if m != sender {
			out = append(out, m)
		}
	}
	return out, nil
}

// Participants resolves every participant including the sender.
func Participants(conv string) ([]string, error) {
	if models.IsDirectID(conv) {
		a, b := splitPair(conv)
		return []string{a, b}, nil
	}
	members, err := store.ListChannelMembers(conv)
	if err != nil {
		return nil, errs.Storef("list members: %v", err)
	}
	return members, nil
}

// splitPair splits a canonical "<a>~<b>" pair id.
func splitPair(pair string) (string, string) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '~' {
			return pair[:i], pair[i+1:]
		}
	}
	return pair, ""
}
