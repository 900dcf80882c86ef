package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
	"github.com/Sonni4154/dashboard-sub000/internal/token"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// CredentialsAPIHandler returns the credential inventory as JSON. Token
// values are always masked; the full secrets never leave the process.
func CredentialsAPIHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds []models.Credential
		query := db.Order("provider, tenant_key, last_updated DESC")
		if provider := r.URL.Query().Get("provider"); provider != "" {
			query = query.Where("provider = ?", provider)
		}
		query.Find(&creds)

		type CredentialView struct {
			ID               string     `json:"id"`
			Provider         string     `json:"provider"`
			TenantKey        string     `json:"tenant_key"`
			AccessToken      string     `json:"access_token"`
			RefreshToken     string     `json:"refresh_token"`
			AccessExpiresAt  *time.Time `json:"access_expires_at,omitempty"`
			RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
			IsActive         bool       `json:"is_active"`
			AccessValid      bool       `json:"access_valid"`
			LastUpdated      time.Time  `json:"last_updated"`
			Scopes           string     `json:"scopes,omitempty"`
		}

		views := make([]CredentialView, 0, len(creds))
		for _, cred := range creds {
			views = append(views, CredentialView{
				ID:               cred.ID,
				Provider:         cred.Provider,
				TenantKey:        cred.TenantKey,
				AccessToken:      maskToken(cred.AccessToken),
				RefreshToken:     maskToken(cred.RefreshToken),
				AccessExpiresAt:  cred.AccessExpiresAt,
				RefreshExpiresAt: cred.RefreshExpiresAt,
				IsActive:         cred.IsActive,
				AccessValid:      cred.AccessExpiresAt != nil && cred.AccessExpiresAt.After(time.Now()),
				LastUpdated:      cred.LastUpdated,
				Scopes:           cred.Scopes,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"credentials": views,
			"count":       len(views),
		})
	}
}

// DeactivateCredentialHandler retires a tenant's active credential so the
// scheduler stops refreshing it. POST /api/credentials/{provider}/deactivate
func DeactivateCredentialHandler(store token.CredentialStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantKey := r.URL.Query().Get("tenant")

		cred, err := store.LoadActive(r.Context(), provider, tenantKey)
		if err != nil {
			http.Error(w, "Failed to load credential: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cred == nil {
			http.Error(w, "No active credential", http.StatusNotFound)
			return
		}
		if err := store.Deactivate(r.Context(), cred.ID); err != nil {
			http.Error(w, "Failed to deactivate credential: "+err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("🔒 Deactivated credential for %s/%s via admin API", provider, tenantKey)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func maskToken(value string) string {
	if len(value) <= 10 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
