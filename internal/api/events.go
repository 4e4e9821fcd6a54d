package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-iot/internal/journal"
)

// RecentEventsResponse is the body of GET /api/v1/events/recent.
type RecentEventsResponse struct {
	Events []journal.Entry `json:"events"`
	Count  int             `json:"count"`
}

// handleRecentEvents returns journalled events, newest first.
// Query: limit (default 100, max 1000).
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "event journal is disabled")
		return
	}

	limit := journal.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("querying event journal", "error", err)
		writeInternalError(w, "failed to query event journal")
		return
	}

	writeJSON(w, http.StatusOK, RecentEventsResponse{
		Events: entries,
		Count:  len(entries),
	})
}
