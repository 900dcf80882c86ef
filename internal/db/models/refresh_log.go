package models

// RefreshLog records the outcome of a single token check or refresh attempt
// for the admin audit surface.
type RefreshLog struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Timestamp int64  `gorm:"index" json:"timestamp"`
	Provider  string `gorm:"index" json:"provider"`
	TenantKey string `gorm:"index" json:"tenant_key"`
	Outcome   string `json:"outcome"`  // valid, refreshed, no_credential, unrecoverable, ...
	Forced    bool   `json:"forced"`   // true for manually triggered refreshes
	Duration  int64  `json:"duration"` // milliseconds
	Error     string `json:"error,omitempty"`
}

// RefreshStats holds aggregated statistics over the refresh log.
type RefreshStats struct {
	TotalChecks  int64 `json:"total_checks"`
	RefreshCount int64 `json:"refresh_count"`
	FailureCount int64 `json:"failure_count"`
}
