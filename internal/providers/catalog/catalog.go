package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultLeadTime        = 10 * time.Minute
	defaultRefreshInterval = 30 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the YAML shape of one OAuth provider entry.
type ProviderConfig struct {
	ID              string   `yaml:"id"`
	Enabled         *bool    `yaml:"enabled"`
	AuthURL         string   `yaml:"auth_url"`
	TokenURL        string   `yaml:"token_url"`
	Scopes          []string `yaml:"scopes"`
	LeadTime        string   `yaml:"lead_time"`
	RefreshInterval string   `yaml:"refresh_interval"`
	RequestTimeout  string   `yaml:"request_timeout"`
}

// ProviderInfo is the resolved provider metadata exposed to the rest of the app.
type ProviderInfo struct {
	ID              string        `json:"id"`
	Enabled         bool          `json:"enabled"`
	RuntimeEnabled  bool          `json:"runtime_enabled"` // enabled and client credentials present
	AuthURL         string        `json:"auth_url"`
	TokenURL        string        `json:"token_url"`
	Scopes          []string      `json:"scopes"`
	ClientIDEnv     string        `json:"client_id_env"`
	ClientSecretEnv string        `json:"client_secret_env"`
	LeadTime        time.Duration `json:"lead_time"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

type runtimeProvider struct {
	info         ProviderInfo
	clientID     string
	clientSecret string
}

var (
	stateMu      sync.RWMutex
	initialized  bool
	providerByID map[string]runtimeProvider
	providerList []string
)

// InitFromEnvAndConfig initializes the catalog by loading the optional YAML
// file and applying env overrides.
func InitFromEnvAndConfig() error {
	providers, err := loadProviders()

	stateMu.Lock()
	defer stateMu.Unlock()

	providerByID = make(map[string]runtimeProvider)
	providerList = providerList[:0]
	for _, p := range providers {
		providerByID[p.info.ID] = p
		providerList = append(providerList, p.info.ID)
	}
	initialized = true
	return err
}

func ensureInitialized() {
	stateMu.RLock()
	ok := initialized
	stateMu.RUnlock()
	if ok {
		return
	}
	_ = InitFromEnvAndConfig()
}

// ResetForTest resets in-memory state so tests can force reload.
func ResetForTest() {
	stateMu.Lock()
	defer stateMu.Unlock()
	initialized = false
	providerByID = nil
	providerList = nil
}

// GetProviders returns all configured OAuth providers.
func GetProviders() []ProviderInfo {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	result := make([]ProviderInfo, 0, len(providerList))
	for _, id := range providerList {
		entry, ok := providerByID[id]
		if !ok {
			continue
		}
		info := entry.info
		info.Scopes = append([]string(nil), info.Scopes...)
		result = append(result, info)
	}
	return result
}

// GetProvider returns provider metadata by ID.
func GetProvider(id string) (ProviderInfo, bool) {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	entry, ok := providerByID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, false
	}
	info := entry.info
	info.Scopes = append([]string(nil), info.Scopes...)
	return info, true
}

// GetRuntimeProvider returns provider metadata plus the client credentials
// required for token endpoint calls.
func GetRuntimeProvider(id string) (ProviderInfo, string, string, bool) {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	entry, ok := providerByID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, "", "", false
	}
	info := entry.info
	info.Scopes = append([]string(nil), info.Scopes...)
	return info, entry.clientID, entry.clientSecret, true
}

// IsKnownProvider returns whether a provider is declared and enabled.
func IsKnownProvider(id string) bool {
	provider, ok := GetProvider(id)
	return ok && provider.Enabled
}

func loadProviders() ([]runtimeProvider, error) {
	cfgProviders, loadErr := loadConfigProviders()
	if len(cfgProviders) == 0 {
		cfgProviders = defaultProviders()
	}

	providers := make([]runtimeProvider, 0, len(cfgProviders))
	for _, cfg := range cfgProviders {
		runtimeEntry, ok := normalizeConfig(cfg)
		if !ok {
			continue
		}
		providers = append(providers, runtimeEntry)
	}

	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].info.ID < providers[j].info.ID
	})

	return providers, loadErr
}

func loadConfigProviders() ([]ProviderConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}

	return cfg.Providers, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TOKEND_PROVIDERS_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/providers.yaml",
		"./config/providers.yaml",
		"/etc/tokend/providers.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "tokend", "providers.yaml"),
			filepath.Join(homeDir, ".tokend", "providers.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func normalizeConfig(cfg ProviderConfig) (runtimeProvider, bool) {
	id := normalizeProviderID(cfg.ID)
	if !providerIDRegexp.MatchString(id) {
		return runtimeProvider{}, false
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if v := strings.TrimSpace(os.Getenv(providerEnvName(id, "TOKEN_URL"))); v != "" {
		tokenURL = v
	}
	if tokenURL == "" {
		return runtimeProvider{}, false
	}

	authURL := strings.TrimSpace(cfg.AuthURL)
	if v := strings.TrimSpace(os.Getenv(providerEnvName(id, "AUTH_URL"))); v != "" {
		authURL = v
	}

	clientIDEnv := providerEnvName(id, "CLIENT_ID")
	clientSecretEnv := providerEnvName(id, "CLIENT_SECRET")
	clientID := strings.TrimSpace(os.Getenv(clientIDEnv))
	clientSecret := strings.TrimSpace(os.Getenv(clientSecretEnv))

	leadTime := parseDurationOrDefault(cfg.LeadTime, providerEnvName(id, "LEAD_TIME"), defaultLeadTime)
	refreshInterval := parseDurationOrDefault(cfg.RefreshInterval, providerEnvName(id, "REFRESH_INTERVAL"), defaultRefreshInterval)
	requestTimeout := parseDurationOrDefault(cfg.RequestTimeout, providerEnvName(id, "REQUEST_TIMEOUT"), defaultRequestTimeout)

	info := ProviderInfo{
		ID:              id,
		Enabled:         enabled,
		RuntimeEnabled:  enabled && clientID != "" && clientSecret != "",
		AuthURL:         authURL,
		TokenURL:        tokenURL,
		Scopes:          normalizeScopes(cfg.Scopes),
		ClientIDEnv:     clientIDEnv,
		ClientSecretEnv: clientSecretEnv,
		LeadTime:        leadTime,
		RefreshInterval: refreshInterval,
		RequestTimeout:  requestTimeout,
	}

	return runtimeProvider{info: info, clientID: clientID, clientSecret: clientSecret}, true
}

func parseDurationOrDefault(raw, envName string, fallback time.Duration) time.Duration {
	result := fallback
	if raw = strings.TrimSpace(raw); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			result = parsed
		}
	}
	if env := strings.TrimSpace(os.Getenv(envName)); env != "" {
		if parsed, err := time.ParseDuration(env); err == nil && parsed > 0 {
			result = parsed
		}
	}
	return result
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		normalized := strings.TrimSpace(scope)
		if normalized == "" {
			continue
		}
		if _, exists := set[normalized]; exists {
			continue
		}
		set[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func providerEnvName(id, suffix string) string {
	upper := strings.ToUpper(id)
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_")
	upper = replacer.Replace(upper)
	return fmt.Sprintf("TOKEND_%s_%s", upper, suffix)
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:       "quickbooks",
			Enabled:  boolPtr(true),
			AuthURL:  "https://appcenter.intuit.com/connect/oauth2",
			TokenURL: "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
			Scopes:   []string{"com.intuit.quickbooks.accounting"},
		},
		{
			ID:       "jibble",
			Enabled:  boolPtr(true),
			AuthURL:  "https://identity.prod.jibble.io/connect/authorize",
			TokenURL: "https://identity.prod.jibble.io/connect/token",
			Scopes:   []string{"offline_access", "identity-api", "time-tracking-api"},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}
