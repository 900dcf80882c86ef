package main

import (
	"log"
	"net/http"
	"os"

	"github.com/Sonni4154/dashboard-sub000/internal/auth/connect"
	"github.com/Sonni4154/dashboard-sub000/internal/db"
	"github.com/Sonni4154/dashboard-sub000/internal/providers/catalog"
	"github.com/Sonni4154/dashboard-sub000/internal/token"
	"github.com/Sonni4154/dashboard-sub000/internal/version"
	"github.com/Sonni4154/dashboard-sub000/internal/web/handlers"
	"github.com/Sonni4154/dashboard-sub000/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env when present; real env always wins
	if err := godotenv.Load(); err == nil {
		log.Printf("📦 Loaded environment from .env")
	}

	// Initialize database
	dbPath := os.Getenv("TOKEND_DB")
	if dbPath == "" {
		dbPath = "tokend.db"
	}
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Load the provider catalog (YAML file + env overrides)
	if err := catalog.InitFromEnvAndConfig(); err != nil {
		log.Printf("⚠️ Provider catalog loaded with errors: %v", err)
	}

	// Initialize lifecycle manager and scheduler
	store := token.NewStore(database)
	auditor := token.NewAuditor(database)
	manager := token.NewManager(store, auditor)
	scheduler := token.NewScheduler(manager)

	for _, provider := range catalog.GetProviders() {
		if !provider.RuntimeEnabled {
			log.Printf("ℹ️ Provider %s configured but disabled (set %s and %s to enable)",
				provider.ID, provider.ClientIDEnv, provider.ClientSecretEnv)
			continue
		}
		info, clientID, clientSecret, _ := catalog.GetRuntimeProvider(provider.ID)
		client := token.NewHTTPRefreshClient(info.TokenURL, clientID, clientSecret, info.RequestTimeout)
		manager.RegisterProvider(provider.ID, client, info.LeadTime)
		if err := scheduler.AddProvider(provider.ID, info.RefreshInterval); err != nil {
			log.Fatalf("Failed to schedule provider %s: %v", provider.ID, err)
		}
		log.Printf("✅ Provider %s registered (check every %s, refresh %s before expiry)",
			provider.ID, info.RefreshInterval, info.LeadTime)
	}

	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================

	r.Get("/healthz", handlers.HealthHandler(database))

	// OAuth re-authorization flow
	r.Get("/auth/{provider}/connect", connect.HandleConnect())
	r.Get("/auth/{provider}/callback", connect.HandleCallback(store))

	// ============================================
	// Protected Routes (API Key Required)
	// ============================================

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))

		// Token lifecycle
		r.Get("/tokens", handlers.TokenStatusesHandler(manager))
		r.Post("/tokens/check", handlers.CheckAllTokensHandler(manager))
		r.Get("/tokens/{provider}", handlers.TokenStatusHandler(manager))
		r.Post("/tokens/{provider}/check", handlers.CheckTokenHandler(manager))
		r.Post("/tokens/{provider}/refresh", handlers.ForceRefreshHandler(manager))

		// Credential inventory
		r.Get("/credentials", handlers.CredentialsAPIHandler(database))
		r.Post("/credentials/{provider}/deactivate", handlers.DeactivateCredentialHandler(store))

		// Provider catalog
		r.Get("/providers", handlers.ProvidersHandler())

		// Refresh audit log
		r.Get("/refresh-log", handlers.GetRefreshLogsHandler(auditor))
		r.Get("/refresh-log/stats", handlers.GetRefreshStatsHandler(auditor))

		// API Key management
		r.Get("/config/apikey", handlers.GetAPIKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(database))

		// Version
		r.Get("/version", handlers.VersionHandler())
	})

	// Start server
	host := os.Getenv("HOST")
	if host == "" {
		host = "127.0.0.1" // Default to localhost, set HOST=0.0.0.0 for LAN access
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	addr := host + ":" + port

	log.Printf("🚀 tokend %s starting on http://%s", version.Version, addr)
	log.Printf("🔑 Admin API: http://%s/api (Bearer or x-api-key)", addr)
	log.Printf("🔌 Connect a provider: http://%s/auth/{provider}/connect", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
