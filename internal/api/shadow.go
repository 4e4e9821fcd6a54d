package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/shadow"
)

// ShadowResponse is the body of GET /api/v1/shadow.
type ShadowResponse struct {
	ThingName string            `json:"thing_name"`
	Requests  map[string]string `json:"requests"`
	Reported  map[string]any    `json:"reported"`
	Document  json.RawMessage   `json:"document"`
}

// ShadowRequestResponse acknowledges a shadow request sent to the broker.
// The outcome arrives later on the accepted/rejected topics.
type ShadowRequestResponse struct {
	Status    string `json:"status"`
	ThingName string `json:"thing_name"`
	Action    string `json:"action"`
	Key       string `json:"key,omitempty"`
}

// handleGetShadow returns the local mirror and per-action request states.
func (s *Server) handleGetShadow(w http.ResponseWriter, _ *http.Request) {
	if s.shadow == nil {
		writeUnavailable(w, "shadow manager is disabled")
		return
	}

	doc, err := s.shadow.Document()
	if err != nil {
		s.logger.Error("marshalling shadow document", "error", err)
		writeInternalError(w, "failed to marshal shadow document")
		return
	}

	requests := make(map[string]string, 3)
	for _, a := range []shadow.Action{shadow.ActionGet, shadow.ActionUpdate, shadow.ActionDelete} {
		requests[a.String()] = s.shadow.State(a).String()
	}

	writeJSON(w, http.StatusOK, ShadowResponse{
		ThingName: s.shadow.ThingName(),
		Requests:  requests,
		Reported:  s.shadow.Reported(),
		Document:  doc,
	})
}

// handleRequestShadow publishes a get request for the full document.
func (s *Server) handleRequestShadow(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		writeUnavailable(w, "shadow manager is disabled")
		return
	}
	if err := s.shadow.Get(r.Context()); err != nil {
		s.writeShadowError(w, shadow.ActionGet, err)
		return
	}
	s.writeShadowAccepted(w, shadow.ActionGet, "")
}

// handleUpdateReported sets state.reported.{key} to the JSON request body
// and publishes the full local document.
func (s *Server) handleUpdateReported(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		writeUnavailable(w, "shadow manager is disabled")
		return
	}

	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeBadRequest(w, "request body must be a JSON value")
		return
	}

	if err := s.shadow.Update(r.Context(), key, json.RawMessage(body)); err != nil {
		s.writeShadowError(w, shadow.ActionUpdate, err)
		return
	}
	s.writeShadowAccepted(w, shadow.ActionUpdate, key)
}

// handleDeleteShadow publishes a delete request.
func (s *Server) handleDeleteShadow(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		writeUnavailable(w, "shadow manager is disabled")
		return
	}
	if err := s.shadow.Delete(r.Context()); err != nil {
		s.writeShadowError(w, shadow.ActionDelete, err)
		return
	}
	s.writeShadowAccepted(w, shadow.ActionDelete, "")
}

func (s *Server) writeShadowAccepted(w http.ResponseWriter, a shadow.Action, key string) {
	writeJSON(w, http.StatusAccepted, ShadowRequestResponse{
		Status:    "requested",
		ThingName: s.shadow.ThingName(),
		Action:    a.String(),
		Key:       key,
	})
}

func (s *Server) writeShadowError(w http.ResponseWriter, a shadow.Action, err error) {
	if !isValidationError(err) {
		s.logger.Warn("shadow request failed", "action", a.String(), "error", err)
	}
	writeRequestError(w, err)
}
