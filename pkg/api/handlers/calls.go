package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"teamwire/pkg/calls"
	"teamwire/pkg/errs"
	"teamwire/pkg/models"
)

// RegisterCalls registers the call record endpoints. Signaling itself
// rides the duplex connection; these manage the persisted lifecycle.
func RegisterCalls(r *mux.Router, d Deps) {
	r.HandleFunc("/calls", d.createCall).Methods(http.MethodPost)
	// by-participants must register before {id} so mux does not swallow it
	r.HandleFunc("/calls/by-participants", d.patchCallByParticipants).Methods(http.MethodPatch)
	r.HandleFunc("/calls/{id}", d.getCall).Methods(http.MethodGet)
	r.HandleFunc("/calls/{id}", d.patchCall).Methods(http.MethodPatch)
}

func (d Deps) createCall(w http.ResponseWriter, r *http.Request) {
	var in calls.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	rec, err := d.Calls.Create(identity(r), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, rec)
}

func (d Deps) getCall(w http.ResponseWriter, r *http.Request) {
	rec, err := d.Calls.Get(identity(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, rec)
}

func (d Deps) patchCall(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status models.CallStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	rec, err := d.Calls.UpdateStatus(identity(r), mux.Vars(r)["id"], in.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, rec)
}

// patchCallByParticipants is the callee's write path: signaling never
// tells it the record id, so it addresses the latest open call with the
// other participant.
func (d Deps) patchCallByParticipants(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Participant string            `json:"participant"`
		Status      models.CallStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, errs.Validationf("invalid json"))
		return
	}
	rec, err := d.Calls.UpdateStatusByParticipants(identity(r), in.Participant, in.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeOK(w, rec)
}
