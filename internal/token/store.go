package token

import (
	"context"
	"errors"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
	"gorm.io/gorm"
)

// CredentialStore is the narrow persistence interface the lifecycle manager
// depends on. The manager never creates credentials; rows are created by the
// authorization connect flow.
type CredentialStore interface {
	// LoadActive returns the active credential for a provider tenant, or
	// (nil, nil) when none exists.
	LoadActive(ctx context.Context, provider, tenantKey string) (*models.Credential, error)
	// ListActive returns all active credentials for a provider.
	ListActive(ctx context.Context, provider string) ([]models.Credential, error)
	// Save persists the credential and deactivates any other active row for
	// the same provider tenant, keeping at most one active row.
	Save(ctx context.Context, cred *models.Credential) error
	// Deactivate clears the active flag. The row is kept as an audit trail.
	Deactivate(ctx context.Context, id string) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed CredentialStore.
func NewStore(db *gorm.DB) CredentialStore {
	return &gormStore{db: db}
}

func (s *gormStore) LoadActive(ctx context.Context, provider, tenantKey string) (*models.Credential, error) {
	var cred models.Credential
	query := s.db.WithContext(ctx).Where("provider = ? AND is_active = ?", provider, true)
	if tenantKey != "" {
		query = query.Where("tenant_key = ?", tenantKey)
	}
	err := query.Order("last_updated DESC").First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *gormStore) ListActive(ctx context.Context, provider string) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", provider, true).
		Order("last_updated DESC").
		Find(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *gormStore) Save(ctx context.Context, cred *models.Credential) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One active row per provider tenant: demote the rest, keep rows for audit.
		if cred.IsActive {
			err := tx.Model(&models.Credential{}).
				Where("provider = ? AND tenant_key = ? AND is_active = ? AND id <> ?",
					cred.Provider, cred.TenantKey, true, cred.ID).
				Update("is_active", false).Error
			if err != nil {
				return err
			}
		}
		return tx.Save(cred).Error
	})
}

func (s *gormStore) Deactivate(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "last_updated": time.Now()}).Error
}
