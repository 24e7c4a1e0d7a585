package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"teamwire/pkg/errs"
	"teamwire/pkg/store"
)

// searchLimit caps directory search results.
const searchLimit = 25

// RegisterMembers registers the org member directory search used by
// the new-conversation picker.
func RegisterMembers(r *mux.Router, d Deps) {
	r.HandleFunc("/members/search", d.searchMembers).Methods(http.MethodGet)
}

func (d Deps) searchMembers(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	limit := queryInt(r, "limit")
	if limit <= 0 || limit > searchLimit {
		limit = searchLimit
	}
	out, err := store.SearchUserProfiles(id.OrgID, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeErr(w, errs.Storef("search members: %v", err))
		return
	}
	// the caller never appears in their own picker
	filtered := out[:0]
	for _, p := range out {
		if p.ID != id.UserID {
			filtered = append(filtered, p)
		}
	}
	_ = writeOK(w, filtered)
}
