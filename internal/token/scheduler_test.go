package token

import (
	"testing"
	"time"
)

func TestScheduler_StartRunsStartupSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := testCredential(now)
	cred.AccessExpiresAt = timePtr(now.Add(-time.Second))
	store := &fakeStore{cred: cred}
	client := &fakeClient{resp: &RefreshResponse{AccessToken: "AT2", ExpiresIn: 3600}}
	mgr := newTestManager(store, client, now)

	sched := NewScheduler(mgr)
	if err := sched.AddProvider("quickbooks", 30*time.Minute); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for client.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("startup sweep never refreshed the expiring credential")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_StartupSweepFailureIsNotFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := testCredential(now)
	cred.AccessExpiresAt = timePtr(now.Add(-time.Second))
	store := &fakeStore{cred: cred}
	client := &fakeClient{err: &RefreshError{Kind: KindTransient}}
	mgr := newTestManager(store, client, now)

	sched := NewScheduler(mgr)
	if err := sched.AddProvider("quickbooks", 30*time.Minute); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("Start must not fail on sweep errors: %v", err)
	}
	sched.Stop()
}

func TestScheduler_DeepValidateWarnsWithoutMutating(t *testing.T) {
	now := time.Now()
	cred := testCredential(now)
	// Refresh token nearly exhausted but access token healthy
	cred.AccessExpiresAt = timePtr(now.Add(2 * time.Hour))
	cred.RefreshExpiresAt = timePtr(now.Add(48 * time.Hour))
	store := &fakeStore{cred: cred}
	client := &fakeClient{}
	mgr := NewManager(store, nil)
	mgr.RegisterProvider("quickbooks", client, 10*time.Minute)

	sched := NewScheduler(mgr)
	if err := sched.AddProvider("quickbooks", 30*time.Minute); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}

	sched.deepValidate()

	if client.calls.Load() != 0 {
		t.Fatalf("deep validation must not refresh a valid credential, got %d calls", client.calls.Load())
	}
	if store.saveCalls != 0 {
		t.Fatalf("deep validation must not write, got %d saves", store.saveCalls)
	}
}

func TestScheduler_AddProviderRejectsNothing(t *testing.T) {
	sched := NewScheduler(NewManager(&fakeStore{}, nil))
	// Zero interval falls back to the 30 minute default
	if err := sched.AddProvider("jibble", 0); err != nil {
		t.Fatalf("AddProvider with zero interval failed: %v", err)
	}
}
