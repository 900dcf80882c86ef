package token

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
)

// Outcome is the discriminated result of a credential check cycle.
type Outcome string

const (
	// OutcomeValid means the access token still has more than the lead time left.
	OutcomeValid Outcome = "valid"
	// OutcomeRefreshed means new tokens were obtained and persisted.
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeNoCredential means no active credential exists for the tenant.
	// Expected before the first authorization; not an error.
	OutcomeNoCredential Outcome = "no_credential"
	// OutcomeUnrecoverable means the refresh token is dead (expired or
	// rejected). The credential was deactivated; a human must re-authorize.
	OutcomeUnrecoverable Outcome = "unrecoverable"
	// OutcomeTransientFailure means the refresh call failed in a retryable
	// way. The credential is untouched; the next scheduled tick retries.
	OutcomeTransientFailure Outcome = "transient_failure"
	// OutcomePersistenceFailure means the provider issued new tokens but the
	// write to the store failed even after an immediate retry.
	OutcomePersistenceFailure Outcome = "persistence_failure"
)

// Result reports the outcome of CheckAndRefresh or ForceRefresh.
// The manager never panics or leaks errors any other way; Err carries the
// cause for the failure outcomes and is nil otherwise.
type Result struct {
	Outcome   Outcome   `json:"outcome"`
	CheckedAt time.Time `json:"checked_at"`
	Err       error     `json:"-"`
}

// ErrString returns the cause as a string for JSON/status surfaces.
func (r Result) ErrString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Status is the read-only health view of one tenant's credential.
type Status struct {
	Provider             string     `json:"provider"`
	TenantKey            string     `json:"tenant_key,omitempty"`
	Exists               bool       `json:"exists"`
	Active               bool       `json:"active"`
	AccessExpiresAt      *time.Time `json:"access_expires_at,omitempty"`
	RefreshExpiresAt     *time.Time `json:"refresh_expires_at,omitempty"`
	AccessExpiresIn      int64      `json:"access_expires_in_seconds"`
	RefreshExpiresIn     int64      `json:"refresh_expires_in_seconds"`
	AccessExpired        bool       `json:"access_expired"`
	RefreshExpired       bool       `json:"refresh_expired"`
	NeedsReauthorization bool       `json:"needs_reauthorization"`
	LastOutcome          Outcome    `json:"last_outcome,omitempty"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
}

type registeredProvider struct {
	client   RefreshClient
	leadTime time.Duration
}

// Manager orchestrates the credential lifecycle: check, refresh, persist,
// deactivate. One instance is wired at startup and shared by the scheduler
// and the admin handlers.
type Manager struct {
	store   CredentialStore
	auditor *Auditor
	now     func() time.Time

	providersMu sync.RWMutex
	providers   map[string]registeredProvider

	// tenantMu serializes checks per provider tenant so two concurrent calls
	// cannot both refresh and write conflicting rows.
	tenantMuMu sync.Mutex
	tenantMu   map[string]*sync.Mutex

	lastMu     sync.RWMutex
	lastChecks map[string]Result
}

// NewManager creates a lifecycle manager. The auditor may be nil.
func NewManager(store CredentialStore, auditor *Auditor) *Manager {
	return &Manager{
		store:      store,
		auditor:    auditor,
		now:        time.Now,
		providers:  make(map[string]registeredProvider),
		tenantMu:   make(map[string]*sync.Mutex),
		lastChecks: make(map[string]Result),
	}
}

// RegisterProvider wires a refresh client and lead time for one provider.
func (m *Manager) RegisterProvider(provider string, client RefreshClient, leadTime time.Duration) {
	if leadTime <= 0 {
		leadTime = 10 * time.Minute
	}
	m.providersMu.Lock()
	m.providers[provider] = registeredProvider{client: client, leadTime: leadTime}
	m.providersMu.Unlock()
}

// CheckAndRefresh runs one check cycle for a tenant: no-op while the access
// token has more than the lead time left, refresh when it is close to expiry,
// deactivate when the refresh token itself is dead.
func (m *Manager) CheckAndRefresh(ctx context.Context, provider, tenantKey string) Result {
	return m.check(ctx, provider, tenantKey, false)
}

// ForceRefresh refreshes regardless of the lead-time gate. Used by the admin
// refresh endpoint. It still short-circuits when no credential exists or the
// refresh token has already expired.
func (m *Manager) ForceRefresh(ctx context.Context, provider, tenantKey string) Result {
	return m.check(ctx, provider, tenantKey, true)
}

// CheckAll runs CheckAndRefresh for every active credential of a provider.
func (m *Manager) CheckAll(ctx context.Context, provider string) []Result {
	creds, err := m.store.ListActive(ctx, provider)
	if err != nil {
		log.Printf("⚠️ Failed to list active credentials for %s: %v", provider, err)
		return []Result{{Outcome: OutcomeTransientFailure, CheckedAt: m.now(), Err: err}}
	}

	results := make([]Result, 0, len(creds))
	for _, cred := range creds {
		results = append(results, m.check(ctx, provider, cred.TenantKey, false))
	}
	return results
}

func (m *Manager) check(ctx context.Context, provider, tenantKey string, force bool) Result {
	start := m.now()

	mu := m.lockFor(provider, tenantKey)
	mu.Lock()
	res := m.doCheck(ctx, provider, tenantKey, force)
	mu.Unlock()

	m.recordResult(provider, tenantKey, force, start, res)
	return res
}

func (m *Manager) doCheck(ctx context.Context, provider, tenantKey string, force bool) Result {
	now := m.now()

	m.providersMu.RLock()
	reg, registered := m.providers[provider]
	m.providersMu.RUnlock()
	if !registered {
		return Result{
			Outcome:   OutcomeTransientFailure,
			CheckedAt: now,
			Err:       &RefreshError{Kind: KindTransient, Err: errNotRegistered(provider)},
		}
	}

	cred, err := m.store.LoadActive(ctx, provider, tenantKey)
	if err != nil {
		log.Printf("⚠️ Failed to load credential for %s/%s: %v", provider, tenantKey, err)
		return Result{Outcome: OutcomeTransientFailure, CheckedAt: now, Err: err}
	}
	if cred == nil {
		log.Printf("ℹ️ No active credential for %s/%s", provider, tenantKey)
		return Result{Outcome: OutcomeNoCredential, CheckedAt: now}
	}

	// A dead refresh token cannot be recovered automatically; no point
	// calling the endpoint.
	if cred.RefreshExpiresAt != nil && !cred.RefreshExpiresAt.After(now) {
		return m.deactivateUnrecoverable(ctx, cred, now, nil)
	}

	if !force && !needsRefresh(cred, now, reg.leadTime) {
		return Result{Outcome: OutcomeValid, CheckedAt: now}
	}

	resp, err := reg.client.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if IsAuthRejected(err) {
			log.Printf("❌ Refresh rejected for %s/%s: %v", provider, cred.TenantKey, err)
			return m.deactivateUnrecoverable(ctx, cred, now, err)
		}
		log.Printf("⏳ Transient refresh failure for %s/%s: %v", provider, cred.TenantKey, err)
		return Result{Outcome: OutcomeTransientFailure, CheckedAt: now, Err: err}
	}

	now = m.now()
	cred.AccessToken = resp.AccessToken
	accessExpiry := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	cred.AccessExpiresAt = &accessExpiry

	// Persist rotated refresh token if provided (RFC 6749); otherwise the
	// prior token stays valid and stays stored.
	if resp.RefreshToken != "" && resp.RefreshToken != cred.RefreshToken {
		log.Printf("🔄 Rotating refresh token for %s/%s", provider, cred.TenantKey)
		cred.RefreshToken = resp.RefreshToken
	}
	if resp.RefreshExpiresIn > 0 {
		refreshExpiry := now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second)
		// Refresh lifetime never moves backwards across refreshes.
		if cred.RefreshExpiresAt == nil || refreshExpiry.After(*cred.RefreshExpiresAt) {
			cred.RefreshExpiresAt = &refreshExpiry
		}
	}
	cred.LastUpdated = now
	cred.IsActive = true
	if resp.Scope != "" {
		cred.Scopes = resp.Scope
	}

	if err := m.store.Save(ctx, cred); err != nil {
		// Losing a freshly rotated refresh token can be unrecoverable, so
		// retry the write once immediately before giving up.
		log.Printf("⚠️ Failed to save refreshed credential for %s/%s, retrying once: %v", provider, cred.TenantKey, err)
		if err2 := m.store.Save(ctx, cred); err2 != nil {
			log.Printf("❌ Persistence failure for %s/%s after retry: %v", provider, cred.TenantKey, err2)
			return Result{Outcome: OutcomePersistenceFailure, CheckedAt: now, Err: err2}
		}
	}

	log.Printf("✅ Refreshed token for %s/%s (access expires %s)", provider, cred.TenantKey, accessExpiry.Format(time.RFC3339))
	return Result{Outcome: OutcomeRefreshed, CheckedAt: now}
}

func (m *Manager) deactivateUnrecoverable(ctx context.Context, cred *models.Credential, now time.Time, cause error) Result {
	if err := m.store.Deactivate(ctx, cred.ID); err != nil {
		log.Printf("⚠️ Failed to deactivate credential %s: %v", cred.ID, err)
	}
	log.Printf("🔒 Credential for %s/%s marked inactive, re-authorization required", cred.Provider, cred.TenantKey)
	return Result{Outcome: OutcomeUnrecoverable, CheckedAt: now, Err: cause}
}

// needsRefresh applies the lead-time gate. Missing expiry metadata fails
// toward attempting recovery rather than silently treating the token as valid.
func needsRefresh(cred *models.Credential, now time.Time, leadTime time.Duration) bool {
	if cred.AccessExpiresAt == nil {
		return true
	}
	return !cred.AccessExpiresAt.After(now.Add(leadTime))
}

// Status returns the health view for one tenant. Pure read: it never calls
// the provider and is safe while a refresh is in flight.
func (m *Manager) Status(ctx context.Context, provider, tenantKey string) Status {
	now := m.now()
	status := Status{Provider: provider, TenantKey: tenantKey}

	if last, ok := m.lastCheck(provider, tenantKey); ok {
		status.LastOutcome = last.Outcome
		checkedAt := last.CheckedAt
		status.LastCheckedAt = &checkedAt
		status.LastError = last.ErrString()
	}

	cred, err := m.store.LoadActive(ctx, provider, tenantKey)
	if err != nil {
		log.Printf("⚠️ Status read failed for %s/%s: %v", provider, tenantKey, err)
		status.LastError = err.Error()
		return status
	}
	if cred == nil {
		// Missing is a status, not a failure. Reauthorization is needed when
		// the last cycle demoted the credential.
		status.NeedsReauthorization = status.LastOutcome == OutcomeUnrecoverable
		return status
	}

	status.Exists = true
	status.Active = cred.IsActive
	status.TenantKey = cred.TenantKey
	status.AccessExpiresAt = cred.AccessExpiresAt
	status.RefreshExpiresAt = cred.RefreshExpiresAt

	if cred.AccessExpiresAt != nil {
		remaining := int64(cred.AccessExpiresAt.Sub(now).Seconds())
		if remaining <= 0 {
			status.AccessExpired = true
		} else {
			status.AccessExpiresIn = remaining
		}
	}
	if cred.RefreshExpiresAt != nil {
		remaining := int64(cred.RefreshExpiresAt.Sub(now).Seconds())
		if remaining <= 0 {
			status.RefreshExpired = true
		} else {
			status.RefreshExpiresIn = remaining
		}
	}
	status.NeedsReauthorization = status.RefreshExpired
	return status
}

// Statuses returns the status of every active credential for a provider.
// When none exist a single "missing" status is returned.
func (m *Manager) Statuses(ctx context.Context, provider string) []Status {
	creds, err := m.store.ListActive(ctx, provider)
	if err != nil || len(creds) == 0 {
		return []Status{m.Status(ctx, provider, "")}
	}

	statuses := make([]Status, 0, len(creds))
	for _, cred := range creds {
		statuses = append(statuses, m.Status(ctx, provider, cred.TenantKey))
	}
	return statuses
}

func (m *Manager) lockFor(provider, tenantKey string) *sync.Mutex {
	key := provider + "/" + tenantKey
	m.tenantMuMu.Lock()
	defer m.tenantMuMu.Unlock()
	mu, ok := m.tenantMu[key]
	if !ok {
		mu = &sync.Mutex{}
		m.tenantMu[key] = mu
	}
	return mu
}

func (m *Manager) lastCheck(provider, tenantKey string) (Result, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	res, ok := m.lastChecks[provider+"/"+tenantKey]
	return res, ok
}

func (m *Manager) recordResult(provider, tenantKey string, force bool, start time.Time, res Result) {
	m.lastMu.Lock()
	m.lastChecks[provider+"/"+tenantKey] = res
	m.lastMu.Unlock()

	if m.auditor != nil {
		m.auditor.Record(models.RefreshLog{
			Provider:  provider,
			TenantKey: tenantKey,
			Outcome:   string(res.Outcome),
			Forced:    force,
			Duration:  m.now().Sub(start).Milliseconds(),
			Error:     res.ErrString(),
		})
	}
}

type errNotRegistered string

func (e errNotRegistered) Error() string {
	return "provider " + string(e) + " not registered with token manager"
}
