package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Sonni4154/dashboard-sub000/internal/providers/catalog"
)

// ProvidersHandler returns the configured OAuth providers. Credential env
// variable names are included so operators can see what is missing; the
// values themselves are never exposed.
func ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := make([]map[string]interface{}, 0)
		for _, provider := range catalog.GetProviders() {
			providers = append(providers, map[string]interface{}{
				"id":                provider.ID,
				"enabled":           provider.Enabled,
				"runtime_enabled":   provider.RuntimeEnabled,
				"auth_url":          provider.AuthURL,
				"token_url":         provider.TokenURL,
				"scopes":            provider.Scopes,
				"client_id_env":     provider.ClientIDEnv,
				"client_secret_env": provider.ClientSecretEnv,
				"lead_time":         provider.LeadTime.String(),
				"refresh_interval":  provider.RefreshInterval.String(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"providers": providers,
		})
	}
}
