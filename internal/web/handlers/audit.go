package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Sonni4154/dashboard-sub000/internal/token"
)

// GetRefreshLogsHandler returns recent refresh cycle outcomes
func GetRefreshLogsHandler(auditor *token.Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
			}
		}

		logs := auditor.GetLogs(limit)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"logs":  logs,
			"count": len(logs),
		})
	}
}

// GetRefreshStatsHandler returns aggregated refresh statistics
func GetRefreshStatsHandler(auditor *token.Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := auditor.GetStats()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}
