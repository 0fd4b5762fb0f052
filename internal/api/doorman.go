package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type doormanRequest struct {
	EntryID string `json:"entry_id"`
	Code    string `json:"code"` //nolint:gosec // door code, never logged
}

func decodeDoormanRequest(r *http.Request) (doormanRequest, error) {
	var req doormanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// handleDoormanStatus reads the apartment lock. ?entry_id= picks the entry
// when more than one is configured.
func (s *Server) handleDoormanStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.bridge.DoormanStatus(r.Context(), r.URL.Query().Get("entry_id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleDoormanLock(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDoormanRequest(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	result, err := s.bridge.LockDoorman(r.Context(), req.EntryID, s.origin(r))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleDoormanUnlock unlocks the apartment lock with the caller's code.
func (s *Server) handleDoormanUnlock(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDoormanRequest(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	result, err := s.bridge.UnlockDoorman(r.Context(), req.EntryID, req.Code, s.origin(r))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
