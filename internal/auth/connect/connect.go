// Package connect implements the human-driven OAuth authorization-code flow.
// It is the only path that creates Credential rows; the lifecycle manager
// merely refreshes or deactivates existing ones.
package connect

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
	"github.com/Sonni4154/dashboard-sub000/internal/providers/catalog"
	"github.com/Sonni4154/dashboard-sub000/internal/token"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// stateToken protects against CSRF across the redirect round-trip
var stateToken string

func init() {
	b := make([]byte, 16)
	rand.Read(b)
	stateToken = hex.EncodeToString(b)
}

// GetStateToken returns the current CSRF state token for validation.
func GetStateToken() string {
	return stateToken
}

func callbackURL(r *http.Request, provider string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/%s/callback", scheme, r.Host, provider)
}

func oauthConfig(info catalog.ProviderInfo, clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       info.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  info.AuthURL,
			TokenURL: info.TokenURL,
		},
	}
}

// HandleConnect redirects to the provider's consent page.
func HandleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		info, clientID, clientSecret, ok := catalog.GetRuntimeProvider(provider)
		if !ok || !info.Enabled {
			http.Error(w, "Unknown provider", http.StatusNotFound)
			return
		}
		if clientID == "" || clientSecret == "" {
			http.Error(w, fmt.Sprintf("Client credentials not configured (set %s and %s)",
				info.ClientIDEnv, info.ClientSecretEnv), http.StatusServiceUnavailable)
			return
		}
		if info.AuthURL == "" {
			http.Error(w, "Provider has no authorization endpoint configured", http.StatusServiceUnavailable)
			return
		}

		config := oauthConfig(info, clientID, clientSecret, callbackURL(r, provider))
		url := config.AuthCodeURL(stateToken, oauth2.AccessTypeOffline)
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

// HandleCallback exchanges the authorization code and stores a fresh
// Credential row, demoting any prior row for the tenant.
func HandleCallback(store token.CredentialStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		info, clientID, clientSecret, ok := catalog.GetRuntimeProvider(provider)
		if !ok || !info.Enabled {
			http.Error(w, "Unknown provider", http.StatusNotFound)
			return
		}

		if state := r.URL.Query().Get("state"); state != stateToken {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		config := oauthConfig(info, clientID, clientSecret, callbackURL(r, provider))

		tok, err := config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		// QuickBooks hands the realm id back as a callback query parameter;
		// providers without a tenant concept fall back to the provider id.
		tenantKey := r.URL.Query().Get("realmId")
		if tenantKey == "" {
			tenantKey = provider
		}

		now := time.Now()
		cred := &models.Credential{
			ID:              uuid.New().String(),
			Provider:        provider,
			TenantKey:       tenantKey,
			AccessToken:     tok.AccessToken,
			RefreshToken:    tok.RefreshToken,
			AccessExpiresAt: &tok.Expiry,
			IsActive:        true,
			LastUpdated:     now,
			Scopes:          strings.Join(info.Scopes, " "),
		}
		if refreshLifetime := extraSeconds(tok, "x_refresh_token_expires_in"); refreshLifetime > 0 {
			refreshExpiry := now.Add(time.Duration(refreshLifetime) * time.Second)
			cred.RefreshExpiresAt = &refreshExpiry
		}

		if err := store.Save(r.Context(), cred); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save credential: %v", err), http.StatusInternalServerError)
			return
		}

		log.Printf("✅ Authorized %s tenant %s (access expires %s)", provider, tenantKey, tok.Expiry.Format(time.RFC3339))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Authorization Successful</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		.success { color: #4ade80; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
	</style>
</head>
<body>
	<h1 class="success">✅ Authorization Successful!</h1>
	<p><strong>Provider:</strong> %s</p>
	<p><strong>Tenant:</strong> <code>%s</code></p>
	<p>Token refresh is now managed automatically. You can close this window.</p>
</body>
</html>`, provider, tenantKey)
	}
}

// extraSeconds reads a numeric extension field from the token response.
// Providers encode these as numbers or numeric strings.
func extraSeconds(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}
