// Package api assembles the HTTP surface: the /v1 request/response
// endpoints, the websocket handshake, health and metrics.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teamwire/pkg/api/handlers"
	"teamwire/pkg/auth"
	"teamwire/pkg/store"
	"teamwire/pkg/telemetry"
	"teamwire/pkg/utils"
)

// New builds the full handler chain: gateway (CORS, rate limit),
// identity verification, then routing.
func New(deps handlers.Deps, wsHandler http.Handler, sec auth.SecConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", wsHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterConversations(v1, deps)
	handlers.RegisterMessages(v1, deps)
	handlers.RegisterCalls(v1, deps)
	handlers.RegisterChannels(v1, deps)
	handlers.RegisterMembers(v1, deps)

	return auth.Gateway(sec)(auth.RequireIdentity(r))
}

func healthz(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}
