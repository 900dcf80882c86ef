package token

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxMemoryLogs limits the in-memory audit cache
const MaxMemoryLogs = 100

// Auditor records check/refresh outcomes for the admin refresh-log surface.
// Recent entries are kept in memory for cheap reads; the full history goes to
// the refresh_logs table asynchronously.
type Auditor struct {
	db *gorm.DB

	recentLogs []models.RefreshLog
	logsMu     sync.RWMutex

	totalChecks  atomic.Int64
	refreshCount atomic.Int64
	failureCount atomic.Int64
}

// NewAuditor creates an Auditor backed by the given database.
func NewAuditor(db *gorm.DB) *Auditor {
	a := &Auditor{
		db:         db,
		recentLogs: make([]models.RefreshLog, 0, MaxMemoryLogs),
	}
	a.loadStatsFromDB()
	return a
}

func (a *Auditor) loadStatsFromDB() {
	if a.db == nil {
		return
	}
	var total, refreshed, failed int64
	a.db.Model(&models.RefreshLog{}).Count(&total)
	a.db.Model(&models.RefreshLog{}).Where("outcome = ?", string(OutcomeRefreshed)).Count(&refreshed)
	a.db.Model(&models.RefreshLog{}).
		Where("outcome IN ?", []string{
			string(OutcomeUnrecoverable),
			string(OutcomeTransientFailure),
			string(OutcomePersistenceFailure),
		}).Count(&failed)
	a.totalChecks.Store(total)
	a.refreshCount.Store(refreshed)
	a.failureCount.Store(failed)
}

// Record logs a check outcome (async DB write, non-blocking).
func (a *Auditor) Record(entry models.RefreshLog) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	a.totalChecks.Add(1)
	switch Outcome(entry.Outcome) {
	case OutcomeRefreshed:
		a.refreshCount.Add(1)
	case OutcomeUnrecoverable, OutcomeTransientFailure, OutcomePersistenceFailure:
		a.failureCount.Add(1)
	}

	a.logsMu.Lock()
	a.recentLogs = append([]models.RefreshLog{entry}, a.recentLogs...)
	if len(a.recentLogs) > MaxMemoryLogs {
		a.recentLogs = a.recentLogs[:MaxMemoryLogs]
	}
	a.logsMu.Unlock()

	if a.db == nil {
		return
	}
	go func(e models.RefreshLog) {
		if err := a.db.Create(&e).Error; err != nil {
			log.Printf("⚠️ Failed to save refresh log: %v", err)
		}
	}(entry)
}

// GetLogs returns up to limit recent entries, newest first.
func (a *Auditor) GetLogs(limit int) []models.RefreshLog {
	if limit <= 0 || limit > MaxMemoryLogs {
		limit = MaxMemoryLogs
	}

	a.logsMu.RLock()
	defer a.logsMu.RUnlock()

	if limit > len(a.recentLogs) {
		limit = len(a.recentLogs)
	}
	result := make([]models.RefreshLog, limit)
	copy(result, a.recentLogs[:limit])
	return result
}

// GetStats returns aggregated counters over the audit history.
func (a *Auditor) GetStats() models.RefreshStats {
	return models.RefreshStats{
		TotalChecks:  a.totalChecks.Load(),
		RefreshCount: a.refreshCount.Load(),
		FailureCount: a.failureCount.Load(),
	}
}
