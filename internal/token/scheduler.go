package token

import (
	"context"
	"log"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/logging"
	"github.com/robfig/cron/v3"
)

// reauthWarningWindow is how far ahead of refresh-token exhaustion the daily
// deep validation starts warning.
const reauthWarningWindow = 7 * 24 * time.Hour

// Scheduler drives periodic credential checks: a best-effort sweep at
// startup, an interval sweep per provider, and a daily deep validation pass.
// All decisions live in the Manager; the scheduler only iterates and logs.
type Scheduler struct {
	manager   *Manager
	cron      *cron.Cron
	providers []string
}

// NewScheduler creates a scheduler around the given manager.
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{
		manager: manager,
		cron:    cron.New(),
	}
}

// AddProvider schedules an interval sweep for a provider.
func (s *Scheduler) AddProvider(provider string, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	s.providers = append(s.providers, provider)
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		s.sweep(provider)
	})
	return err
}

// Start launches the startup sweep and the cron entries, including the daily
// deep validation pass at 03:00.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 3 * * *", s.deepValidate); err != nil {
		return err
	}

	// Startup check is best-effort: a failure is logged, never fatal.
	go func() {
		for _, provider := range s.providers {
			s.sweep(provider)
		}
	}()

	s.cron.Start()
	log.Printf("🔄 Token scheduler started for %d providers", len(s.providers))
	return nil
}

// Stop halts the cron entries. In-flight checks finish on their own; single
// HTTP calls need no draining.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) sweep(provider string) {
	sweepID := logging.GenerateRequestID()
	ctx := logging.WithRequestID(context.Background(), sweepID)

	results := s.manager.CheckAll(ctx, provider)
	for _, res := range results {
		switch res.Outcome {
		case OutcomeUnrecoverable:
			log.Printf("❌ [%s] %s credential needs re-authorization: %s", sweepID, provider, res.ErrString())
		case OutcomeTransientFailure, OutcomePersistenceFailure:
			log.Printf("⚠️ [%s] %s check failed (%s): %s", sweepID, provider, res.Outcome, res.ErrString())
		}
	}
}

// deepValidate re-runs the sweep and additionally warns about refresh tokens
// approaching exhaustion so re-authorization can happen before lockout.
func (s *Scheduler) deepValidate() {
	ctx := context.Background()
	for _, provider := range s.providers {
		s.sweep(provider)

		for _, status := range s.manager.Statuses(ctx, provider) {
			if !status.Exists {
				continue
			}
			if status.RefreshExpiresAt == nil {
				continue
			}
			remaining := time.Until(*status.RefreshExpiresAt)
			if remaining > 0 && remaining < reauthWarningWindow {
				log.Printf("⚠️ %s/%s refresh token expires in %s, schedule re-authorization",
					provider, status.TenantKey, remaining.Round(time.Hour))
			}
		}
	}
	log.Printf("🔍 Daily deep validation completed for %d providers", len(s.providers))
}
