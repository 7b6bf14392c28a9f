package api

import (
	"net/http"
	"strconv"

	"github.com/erp-sync/internal/errors"
)

// handleGetStatus returns the full persisted sync status record, validated
// and silently repaired first so callers never see an inconsistent snapshot.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := s.status.ReadStatusRepaired(r.Context())
	respondJSON(w, http.StatusOK, status)
}

// handleGetHeartbeat returns the liveness view of the current run.
func (s *Server) handleGetHeartbeat(w http.ResponseWriter, r *http.Request) {
	heartbeat := s.status.GetHeartbeatData(r.Context())
	respondJSON(w, http.StatusOK, heartbeat)
}

// handleGetHistory returns recent sync run records, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history := s.status.History()
	if history == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "sync history is not configured", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondServiceError(w, errors.NewInvalidParameterError("limit", "must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records, err := history.GetSyncHistory(r.Context(), limit)
	if err != nil {
		respondServiceError(w, errors.NewHistoryError(err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// handleGetLocks returns all currently active entity locks.
func (s *Server) handleGetLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.status.Locks()
	if locks == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "lock manager is not configured", nil)
		return
	}

	active, err := locks.GetActiveLocks(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "failed to read lock state", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"locks": active,
		"count": len(active),
	})
}
