package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"teamwire/pkg/models"
)

// SaveUserProfile stores the display attributes hydrated into fan-out
// events. Profiles arrive from the directory service outside the core.
func SaveUserProfile(p models.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return setRaw(userKey(p.Org, p.ID), data)
}

// GetUserProfile returns the stored profile for a user in an org.
func GetUserProfile(org, user string) (models.UserProfile, error) {
	var p models.UserProfile
	v, err := getRaw(userKey(org, user))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(v, &p); err != nil {
		return p, fmt.Errorf("invalid stored profile %s: %w", user, err)
	}
	return p, nil
}

// SearchUserProfiles returns org members whose id or display name
// contains q (case-insensitive), capped at limit.
func SearchUserProfiles(org, q string, limit int) ([]models.UserProfile, error) {
	q = strings.ToLower(q)
	var out []models.UserProfile
	err := scanPrefix("org:"+org+":user:", func(key string, value []byte) bool {
		var p models.UserProfile
		if err := json.Unmarshal(value, &p); err != nil {
			return true
		}
		if q == "" || strings.Contains(strings.ToLower(p.ID), q) ||
			strings.Contains(strings.ToLower(p.DisplayName), q) {
			out = append(out, p)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// SaveTeam stores team metadata.
func SaveTeam(t models.Team) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return setRaw(teamKey(t.ID), data)
}

// SaveChannel stores channel metadata.
func SaveChannel(c models.Channel) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return setRaw(chanKey(c.ID), data)
}

// GetChannel returns channel metadata by id.
func GetChannel(id string) (models.Channel, error) {
	var c models.Channel
	v, err := getRaw(chanKey(id))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored channel %s: %w", id, err)
	}
	return c, nil
}

// AddChannelMember upserts one user's membership row.
func AddChannelMember(m models.Membership) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return setRaw(memberKey(m.Channel, m.User), data)
}

// RemoveChannelMember deletes the membership row; removing an absent
// member is a no-op.
func RemoveChannelMember(channel, user string) error {
	err := deleteRaw(memberKey(channel, user))
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// IsChannelMember reports whether user belongs to channel.
func IsChannelMember(channel, user string) (bool, error) {
	_, err := getRaw(memberKey(channel, user))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListChannelMembers returns the user ids of all channel members.
func ListChannelMembers(channel string) ([]string, error) {
	var out []string
	err := scanPrefix("chan:"+channel+":member:", func(key string, value []byte) bool {
		var m models.Membership
		if err := json.Unmarshal(value, &m); err == nil {
			out = append(out, m.User)
		}
		return true
	})
	return out, err
}

// ListUserChannels returns every channel id the user is a member of.
// Channel count per org is small; a meta scan is fine here.
func ListUserChannels(user string) ([]string, error) {
	var out []string
	err := scanPrefix("chan:", func(key string, value []byte) bool {
		if strings.HasSuffix(key, ":member:"+user) {
			// chan:<id>:member:<user>
			rest := strings.TrimPrefix(key, "chan:")
			if i := strings.Index(rest, ":member:"); i > 0 {
				out = append(out, rest[:i])
			}
		}
		return true
	})
	return out, err
}

// EnsureDirectConversation returns the direct conversation for a user
// pair, creating its metadata row on first contact.
func EnsureDirectConversation(u1, u2 string) (models.DirectConversation, error) {
	pair := models.DirectPairID(u1, u2)
	var d models.DirectConversation
	v, err := getRaw(dmKey(pair))
	if err == nil {
		if err := json.Unmarshal(v, &d); err != nil {
			return d, fmt.Errorf("invalid stored conversation %s: %w", pair, err)
		}
		return d, nil
	}
	if !IsNotFound(err) {
		return d, err
	}
	a, b := u1, u2
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	d = models.DirectConversation{ID: pair, UserA: a, UserB: b, CreatedTS: NowTS()}
	data, merr := json.Marshal(d)
	if merr != nil {
		return d, merr
	}
	if err := setRaw(dmKey(pair), data); err != nil {
		return d, err
	}
	return d, nil
}

// GetDirectConversation returns the metadata for a pair id.
func GetDirectConversation(pair string) (models.DirectConversation, error) {
	var d models.DirectConversation
	v, err := getRaw(dmKey(pair))
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(v, &d); err != nil {
		return d, fmt.Errorf("invalid stored conversation %s: %w", pair, err)
	}
	return d, nil
}

// ListUserDirectConversations returns every direct conversation the
// user participates in.
func ListUserDirectConversations(user string) ([]models.DirectConversation, error) {
	var out []models.DirectConversation
	err := scanPrefix("dm:", func(key string, value []byte) bool {
		var d models.DirectConversation
		if err := json.Unmarshal(value, &d); err == nil && d.Has(user) {
			out = append(out, d)
		}
		return true
	})
	return out, err
}
