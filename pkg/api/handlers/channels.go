package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/models"
	"teamwire/pkg/store"
	"teamwire/pkg/utils"
)

// RegisterChannels registers team and channel management endpoints.
func RegisterChannels(r *mux.Router, d Deps) {
	r.HandleFunc("/teams", d.createTeam).Methods(http.MethodPost)
	r.HandleFunc("/channels", d.createChannel).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}", d.getChannel).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/members", d.listChannelMembers).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/members", d.addChannelMember).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/members/{user}", d.removeChannelMember).Methods(http.MethodDelete)
}

func (d Deps) createTeam(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		writeErr(w, errs.Validationf("team name is required"))
		return
	}
	tm := models.Team{
		ID:          utils.GenTeamID(),
		Org:         id.OrgID,
		Name:        in.Name,
		Description: in.Description,
		CreatedTS:   store.NowTS(),
	}
	if err := store.SaveTeam(tm); err != nil {
		writeErr(w, errs.Storef("persist team: %v", err))
		return
	}
	logger.Info("team_created", "team", tm.ID, "name", tm.Name, "by", id.UserID)
	_ = writeOK(w, tm)
}

func (d Deps) createChannel(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var in struct {
		Team        string `json:"team"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Default     bool   `json:"default,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		writeErr(w, errs.Validationf("channel name is required"))
		return
	}
	now := store.NowTS()
	ch := models.Channel{
		ID:          utils.GenChannelID(),
		Team:        in.Team,
		Org:         id.OrgID,
		Name:        in.Name,
		Description: in.Description,
		Default:     in.Default,
		CreatedBy:   id.UserID,
		CreatedTS:   now,
	}
	if err := store.SaveChannel(ch); err != nil {
		writeErr(w, errs.Storef("persist channel: %v", err))
		return
	}
	// the creator joins as owner
	if err := store.AddChannelMember(models.Membership{Channel: ch.ID, User: id.UserID, Role: "owner", JoinedTS: now}); err != nil {
		writeErr(w, errs.Storef("persist membership: %v", err))
		return
	}
	logger.Info("channel_created", "channel", ch.ID, "name", ch.Name, "by", id.UserID)
	_ = writeOK(w, ch)
}

func (d Deps) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := store.GetChannel(mux.Vars(r)["id"])
	if err != nil {
		if store.IsNotFound(err) {
			writeErr(w, errs.NotFoundf("channel not found"))
			return
		}
		writeErr(w, errs.Storef("load channel: %v", err))
		return
	}
	if ch.Org != identity(r).OrgID {
		writeErr(w, errs.NotFoundf("channel not found"))
		return
	}
	_ = writeOK(w, ch)
}

func (d Deps) listChannelMembers(w http.ResponseWriter, r *http.Request) {
	chID := mux.Vars(r)["id"]
	if err := requireChannelActor(identity(r), chID); err != nil {
		writeErr(w, err)
		return
	}
	members, err := store.ListChannelMembers(chID)
	if err != nil {
		writeErr(w, errs.Storef("list members: %v", err))
		return
	}
	_ = writeOK(w, members)
}

func (d Deps) addChannelMember(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	chID := mux.Vars(r)["id"]
	var in struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.User == "" {
		writeErr(w, errs.Validationf("member user is required"))
		return
	}
	if err := requireChannelActor(id, chID); err != nil {
		writeErr(w, err)
		return
	}
	m := models.Membership{Channel: chID, User: in.User, Role: "member", JoinedTS: store.NowTS()}
	if err := store.AddChannelMember(m); err != nil {
		writeErr(w, errs.Storef("persist membership: %v", err))
		return
	}
	logger.Info("channel_member_added", "channel", chID, "user", in.User, "by", id.UserID)
	_ = writeOK(w, m)
}

func (d Deps) removeChannelMember(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	vars := mux.Vars(r)
	chID, user := vars["id"], vars["user"]
	// members may leave on their own; removing someone else takes a
	// member or admin actor
	if user != id.UserID {
		if err := requireChannelActor(id, chID); err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := store.RemoveChannelMember(chID, user); err != nil {
		writeErr(w, errs.Storef("remove membership: %v", err))
		return
	}
	logger.Info("channel_member_removed", "channel", chID, "user", user, "by", id.UserID)
	_ = writeOK(w, map[string]string{"channel": chID, "user": user, "status": "removed"})
}

// requireChannelActor admits channel members and org admins.
func requireChannelActor(id auth.Identity, chID string) error {
	if id.Role == "admin" {
		return nil
	}
	ok, err := store.IsChannelMember(chID, id.UserID)
	if err != nil {
		return errs.Storef("membership check: %v", err)
	}
	if !ok {
		return errs.Authorizationf("user %s is not a member of %s", id.UserID, chID)
	}
	return nil
}
