package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/aptus-home/internal/audit"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/setup"
)

// entryView is an entry with its live session state. The password never
// leaves the server.
type entryView struct {
	setup.Entry
	Loaded   bool `json:"loaded"`
	LoggedIn bool `json:"logged_in"`
}

func (s *Server) entryViews(entries []setup.Entry) []entryView {
	status := make(map[string]bridge.PortalStatus)
	for _, ps := range s.bridge.PortalStatuses() {
		status[ps.EntryID] = ps
	}

	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		ps, loaded := status[e.ID]
		out = append(out, entryView{Entry: e, Loaded: loaded, LoggedIn: ps.LoggedIn})
	}
	return out
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list entries", "error", err)
		writeInternalError(w, "failed to list entries")
		return
	}
	views := s.entryViews(entries)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"count":   len(views),
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEntry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.entryViews([]setup.Entry{*entry})[0])
}

func (s *Server) lookupEntry(w http.ResponseWriter, r *http.Request) (*setup.Entry, bool) {
	entry, err := s.entries.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, setup.ErrEntryNotFound):
		writeNotFound(w, "entry not found")
		return nil, false
	case err != nil:
		s.logger.Error("failed to load entry", "error", err)
		writeInternalError(w, "failed to load entry")
		return nil, false
	}
	return entry, true
}

// handleSetupForm returns the empty form of the configuration flow.
func (s *Server) handleSetupForm(w http.ResponseWriter, r *http.Request) {
	result, err := s.flow.Submit(r.Context(), nil)
	if err != nil {
		writeInternalError(w, "failed to start setup")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSetupSubmit runs the user step. A created entry is loaded into the
// bridge straight away; when that fails the entry stays stored and the
// response reports loaded=false.
func (s *Server) handleSetupSubmit(w http.ResponseWriter, r *http.Request) {
	var in setup.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.flow.Submit(r.Context(), &in)
	if err != nil {
		s.logger.Error("setup flow failed", "error", err)
		writeInternalError(w, "failed to store entry")
		return
	}

	switch result.Type {
	case setup.ResultCreateEntry:
		entry := *result.Entry
		loaded := true
		if err := s.lifecycle.SetupEntry(r.Context(), entry); err != nil {
			loaded = false
			s.logger.Warn("new entry not ready", "entry_id", entry.ID, "error", err)
		}
		s.auditLog(audit.ActionEntryCreate, audit.EntityEntry, entry.ID, callerID(r), audit.OutcomeSuccess,
			map[string]any{"host": entry.Host})
		writeJSON(w, http.StatusCreated, map[string]any{
			"result": result,
			"loaded": loaded,
		})
	case setup.ResultAbort:
		writeError(w, http.StatusConflict, ErrCodeConflict, result.Reason)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	}
}

// handleDeleteEntry unloads an entry from the bridge, logs it out and
// deletes it with its doors.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEntry(w, r)
	if !ok {
		return
	}

	if err := s.lifecycle.UnloadEntry(r.Context(), entry.ID); err != nil && !errors.Is(err, bridge.ErrNoPortal) {
		s.logger.Warn("unloading entry failed", "entry_id", entry.ID, "error", err)
	}

	if err := s.entries.Delete(r.Context(), entry.ID); err != nil {
		s.logger.Error("failed to delete entry", "entry_id", entry.ID, "error", err)
		s.auditLog(audit.ActionEntryDelete, audit.EntityEntry, entry.ID, callerID(r), audit.OutcomeFailure, nil)
		writeInternalError(w, "failed to delete entry")
		return
	}

	s.auditLog(audit.ActionEntryDelete, audit.EntityEntry, entry.ID, callerID(r), audit.OutcomeSuccess,
		map[string]any{"host": entry.Host})
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscoverEntry refreshes the door list of one entry.
func (s *Server) handleDiscoverEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEntry(w, r)
	if !ok {
		return
	}

	res, err := s.bridge.Discover(r.Context(), entry.ID)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":       res.Added,
		"renamed":     res.Renamed,
		"restored":    res.Restored,
		"unavailable": res.Unavailable,
	})
}
