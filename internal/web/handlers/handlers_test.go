package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	internaldb "github.com/Sonni4154/dashboard-sub000/internal/db"
	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
	"github.com/Sonni4154/dashboard-sub000/internal/providers/catalog"
	"github.com/Sonni4154/dashboard-sub000/internal/token"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	store  token.CredentialStore
	mgr    *token.Manager
	router *chi.Mux
}

func setupEnv(t *testing.T, tokenURL string) *testEnv {
	t.Helper()
	catalog.ResetForTest()
	t.Cleanup(catalog.ResetForTest)

	cfgPath := filepath.Join(t.TempDir(), "providers.yaml")
	cfg := `providers:
  - id: quickbooks
    auth_url: https://appcenter.example.com/connect/oauth2
    token_url: ` + tokenURL + `
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOKEND_PROVIDERS_FILE", cfgPath)
	t.Setenv("TOKEND_QUICKBOOKS_CLIENT_ID", "qb-client")
	t.Setenv("TOKEND_QUICKBOOKS_CLIENT_SECRET", "qb-secret")
	if err := catalog.InitFromEnvAndConfig(); err != nil {
		t.Fatalf("init catalog: %v", err)
	}

	database, err := internaldb.InitDB(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}

	store := token.NewStore(database)
	mgr := token.NewManager(store, token.NewAuditor(database))
	info, clientID, clientSecret, _ := catalog.GetRuntimeProvider("quickbooks")
	mgr.RegisterProvider("quickbooks", token.NewHTTPRefreshClient(info.TokenURL, clientID, clientSecret, time.Second), info.LeadTime)

	r := chi.NewRouter()
	r.Get("/api/tokens", TokenStatusesHandler(mgr))
	r.Get("/api/tokens/{provider}", TokenStatusHandler(mgr))
	r.Post("/api/tokens/{provider}/check", CheckTokenHandler(mgr))
	r.Post("/api/tokens/{provider}/refresh", ForceRefreshHandler(mgr))
	r.Get("/api/credentials", CredentialsAPIHandler(database))
	r.Post("/api/credentials/{provider}/deactivate", DeactivateCredentialHandler(store))
	r.Get("/api/providers", ProvidersHandler())
	r.Get("/healthz", HealthHandler(database))

	return &testEnv{db: database, store: store, mgr: mgr, router: r}
}

func seedCredential(t *testing.T, env *testEnv, accessTTL time.Duration) *models.Credential {
	t.Helper()
	accessExp := time.Now().Add(accessTTL)
	refreshExp := time.Now().Add(90 * 24 * time.Hour)
	cred := &models.Credential{
		ID:               "cred-1",
		Provider:         "quickbooks",
		TenantKey:        "realm-42",
		AccessToken:      "AT-SEEDED-0123456789",
		RefreshToken:     "RT-SEEDED-0123456789",
		AccessExpiresAt:  &accessExp,
		RefreshExpiresAt: &refreshExp,
		IsActive:         true,
		LastUpdated:      time.Now(),
	}
	if err := env.store.Save(context.Background(), cred); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return cred
}

func doJSON(t *testing.T, router *chi.Mux, method, target string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s %s: %v (body %q)", method, target, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestTokenStatusHandler(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")
	seedCredential(t, env, time.Hour)

	code, body := doJSON(t, env.router, http.MethodGet, "/api/tokens/quickbooks?tenant=realm-42")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if body["exists"] != true || body["active"] != true {
		t.Fatalf("unexpected status: %v", body)
	}
	if body["needs_reauthorization"] != false {
		t.Fatalf("healthy credential should not need reauthorization: %v", body)
	}
}

func TestTokenStatusHandler_UnknownProvider(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tokens/gusto", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckTokenHandler_ValidTokenIsNotRefreshed(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")
	seedCredential(t, env, time.Hour)

	code, body := doJSON(t, env.router, http.MethodPost, "/api/tokens/quickbooks/check?tenant=realm-42")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if body["outcome"] != "valid" {
		t.Fatalf("outcome = %v", body["outcome"])
	}
}

func TestForceRefreshHandler_RefreshesAgainstTokenEndpoint(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "AT-NEW-0123456789", "refresh_token": "RT-NEW-0123456789", "expires_in": 3600}`))
	}))
	defer tokenServer.Close()

	env := setupEnv(t, tokenServer.URL)
	seedCredential(t, env, time.Hour)

	code, body := doJSON(t, env.router, http.MethodPost, "/api/tokens/quickbooks/refresh?tenant=realm-42")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if body["outcome"] != "refreshed" {
		t.Fatalf("outcome = %v (%v)", body["outcome"], body["error"])
	}

	cred, err := env.store.LoadActive(context.Background(), "quickbooks", "realm-42")
	if err != nil || cred == nil {
		t.Fatalf("LoadActive: cred=%v err=%v", cred, err)
	}
	if cred.AccessToken != "AT-NEW-0123456789" {
		t.Fatalf("access token not rotated: %q", cred.AccessToken)
	}
}

func TestCredentialsAPIHandler_MasksTokens(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")
	seedCredential(t, env, time.Hour)

	code, body := doJSON(t, env.router, http.MethodGet, "/api/credentials")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	creds, ok := body["credentials"].([]interface{})
	if !ok || len(creds) != 1 {
		t.Fatalf("credentials = %v", body["credentials"])
	}
	view := creds[0].(map[string]interface{})
	access := view["access_token"].(string)
	if strings.Contains(access, "SEEDED") || !strings.Contains(access, "...") {
		t.Fatalf("access token not masked: %q", access)
	}
}

func TestDeactivateCredentialHandler(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")
	seedCredential(t, env, time.Hour)

	code, body := doJSON(t, env.router, http.MethodPost, "/api/credentials/quickbooks/deactivate?tenant=realm-42")
	if code != http.StatusOK {
		t.Fatalf("status code %d: %v", code, body)
	}

	cred, err := env.store.LoadActive(context.Background(), "quickbooks", "realm-42")
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if cred != nil {
		t.Fatal("credential should no longer be active")
	}
}

func TestProvidersHandler_NeverExposesSecrets(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "qb-secret") {
		t.Fatal("provider listing leaked a client secret")
	}
	if !strings.Contains(rec.Body.String(), "TOKEND_QUICKBOOKS_CLIENT_ID") {
		t.Fatalf("expected env variable names in listing: %s", rec.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	env := setupEnv(t, "https://oauth.example.com/tokens")

	code, body := doJSON(t, env.router, http.MethodGet, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}
}
