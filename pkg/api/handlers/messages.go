package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"teamwire/pkg/errs"
)

// RegisterMessages registers the message-scoped read and reaction
// endpoints. Message creation itself happens over the duplex
// connection.
func RegisterMessages(r *mux.Router, d Deps) {
	r.HandleFunc("/messages/{id}/versions", d.listVersions).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/reactions", d.listReactions).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/reactions", d.addReaction).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/reactions/{emoji}", d.removeReaction).Methods(http.MethodDelete)
}

func (d Deps) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := d.History.GetVersions(identity(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, versions)
}

func (d Deps) listReactions(w http.ResponseWriter, r *http.Request) {
	rows, err := d.Reactions.ListDetail(identity(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, rows)
}

func (d Deps) addReaction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	agg, err := d.Reactions.Add(identity(r), mux.Vars(r)["id"], in.Emoji)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, agg)
}

func (d Deps) removeReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agg, err := d.Reactions.Remove(identity(r), vars["id"], vars["emoji"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, agg)
}
