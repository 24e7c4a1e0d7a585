// Package handlers implements the request/response surface. Handlers
// decode, call a service and write the uniform envelope; all domain
// rules live in the services.
package handlers

import (
	"net/http"
	"strconv"

	"teamwire/pkg/auth"
	"teamwire/pkg/calls"
	"teamwire/pkg/delivery"
	"teamwire/pkg/errs"
	"teamwire/pkg/history"
	"teamwire/pkg/reactions"
	"teamwire/pkg/utils"
)

// Deps carries the domain services handlers dispatch into.
type Deps struct {
	Delivery  *delivery.Service
	Reactions *reactions.Service
	Calls     *calls.Service
	History   *history.Service
}

// identity returns the verified identity; the middleware guarantees it
// is present on every /v1 request.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// writeErr maps a service error onto the failure envelope.
func writeErr(w http.ResponseWriter, err error) {
	utils.JSONError(w, errs.HTTPStatus(err), err.Error())
}

func writeOK(w http.ResponseWriter, v any) error {
	return utils.JSONWrite(w, http.StatusOK, v)
}

// queryInt parses an integer query parameter, 0 when absent or bad.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
