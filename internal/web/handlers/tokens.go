package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Sonni4154/dashboard-sub000/internal/providers/catalog"
	"github.com/Sonni4154/dashboard-sub000/internal/token"
	"github.com/go-chi/chi/v5"
)

// TokenStatusesHandler returns the health view of every registered provider's
// active credentials. GET /api/tokens
func TokenStatusesHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]token.Status, 0)
		for _, provider := range catalog.GetProviders() {
			if !provider.RuntimeEnabled {
				continue
			}
			statuses = append(statuses, mgr.Statuses(r.Context(), provider.ID)...)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tokens": statuses,
			"count":  len(statuses),
		})
	}
}

// TokenStatusHandler returns the health view for one provider tenant.
// GET /api/tokens/{provider}?tenant=...
func TokenStatusHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		if !catalog.IsKnownProvider(provider) {
			http.Error(w, "Unknown provider: "+provider, http.StatusNotFound)
			return
		}

		status := mgr.Status(r.Context(), provider, r.URL.Query().Get("tenant"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// CheckTokenHandler runs one check cycle for a provider tenant and reports
// the outcome. POST /api/tokens/{provider}/check?tenant=...
func CheckTokenHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		if !catalog.IsKnownProvider(provider) {
			http.Error(w, "Unknown provider: "+provider, http.StatusNotFound)
			return
		}

		result := mgr.CheckAndRefresh(r.Context(), provider, r.URL.Query().Get("tenant"))
		writeResult(w, result)
	}
}

// ForceRefreshHandler refreshes a provider tenant's tokens regardless of how
// much lifetime the access token has left. POST /api/tokens/{provider}/refresh
func ForceRefreshHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		if !catalog.IsKnownProvider(provider) {
			http.Error(w, "Unknown provider: "+provider, http.StatusNotFound)
			return
		}

		result := mgr.ForceRefresh(r.Context(), provider, r.URL.Query().Get("tenant"))
		writeResult(w, result)
	}
}

// CheckAllTokensHandler runs a check cycle across every active credential of
// every enabled provider. POST /api/tokens/check
func CheckAllTokensHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byProvider := make(map[string][]map[string]interface{})
		total := 0
		for _, provider := range catalog.GetProviders() {
			if !provider.RuntimeEnabled {
				continue
			}
			results := mgr.CheckAll(r.Context(), provider.ID)
			views := make([]map[string]interface{}, 0, len(results))
			for _, res := range results {
				views = append(views, resultView(res))
			}
			byProvider[provider.ID] = views
			total += len(results)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": byProvider,
			"count":   total,
		})
	}
}

func writeResult(w http.ResponseWriter, res token.Result) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resultView(res))
}

func resultView(res token.Result) map[string]interface{} {
	view := map[string]interface{}{
		"outcome":    res.Outcome,
		"checked_at": res.CheckedAt,
	}
	if res.Err != nil {
		view["error"] = res.ErrString()
	}
	return view
}
