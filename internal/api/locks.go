package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
)

func (s *Server) origin(r *http.Request) bridge.Origin {
	return bridge.Origin{Source: bridge.SourceAPI, UserID: callerID(r)}
}

// handleListLocks returns every door, optionally narrowed by ?entry_id=.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.bridge.Locks()
	if entryID := r.URL.Query().Get("entry_id"); entryID != "" {
		locks = slices.DeleteFunc(locks, func(st doorlock.State) bool { return st.EntryID != entryID })
	}
	slices.SortFunc(locks, func(a, b doorlock.State) int { return strings.Compare(a.ID, b.ID) })

	writeJSON(w, http.StatusOK, map[string]any{
		"locks": locks,
		"count": len(locks),
	})
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	state, err := s.bridge.LockState(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleUnlock releases a door and returns the portal's answer with the new
// state.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.bridge.Unlock(r.Context(), id, s.origin(r))
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	resp := map[string]any{"result": result}
	if state, err := s.bridge.LockState(id); err == nil {
		resp["state"] = state
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLock always fails for entrance doors; the attempt is still audited.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Lock(r.Context(), chi.URLParam(r, "id"), s.origin(r)); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
