package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterConversations registers the conversation list and history
// endpoints.
func RegisterConversations(r *mux.Router, d Deps) {
	r.HandleFunc("/conversations", d.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/history", d.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/history", d.clearHistory).Methods(http.MethodDelete)
}

func (d Deps) listConversations(w http.ResponseWriter, r *http.Request) {
	out, err := d.History.ListConversations(identity(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, out)
}

func (d Deps) getHistory(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	page, err := d.History.GetHistory(identity(r), conv, r.URL.Query().Get("before"), queryInt(r, "limit"))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, page)
}

// clearHistory hides the conversation's contents for the caller only;
// the REST twin of the conversation.clear event.
func (d Deps) clearHistory(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := d.Delivery.ClearConversation(identity(r), conv); err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, map[string]string{"conversation": conv, "status": "cleared"})
}
