package models

import "time"

// Credential stores the OAuth token pair for one provider tenant
// (e.g. a QuickBooks realm or a Jibble organization).
//
// At most one row per (provider, tenant_key) is active at a time. Rows are
// never deleted: when a refresh token dies or a tenant re-authorizes, the old
// row is deactivated and kept as an audit trail.
type Credential struct {
	ID               string `gorm:"primaryKey"`                // UUID
	Provider         string `gorm:"index:idx_provider_tenant"` // e.g., "quickbooks", "jibble"
	TenantKey        string `gorm:"index:idx_provider_tenant"` // e.g., QuickBooks realm ID
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  *time.Time // nil when the provider never reported a lifetime
	RefreshExpiresAt *time.Time
	IsActive         bool `gorm:"default:true"`
	LastUpdated      time.Time
	Scopes           string // space-separated authorized scopes
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
