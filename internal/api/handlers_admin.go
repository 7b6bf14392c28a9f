package api

import (
	"net/http"
)

// handleCancel requests cancellation of the current sync run. Idempotent:
// cancelling when no run is active reports no_sync without touching state.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	result := s.status.CancelCurrentSync(r.Context())
	respondJSON(w, http.StatusOK, result)
}

// handleValidate runs the consistency checks against the persisted status
// without modifying it.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	report := s.status.ValidateStateConsistency(r.Context())
	respondJSON(w, http.StatusOK, report)
}

// handleRepair validates and then auto-repairs the persisted status.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	report := s.status.ValidateStateConsistency(r.Context())
	result := s.status.AutoFixInconsistencies(r.Context(), report)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"result": result,
	})
}
