package store

import (
	"testing"
	"time"
)

func setupPushStore(t *testing.T) *PushStore {
	t.Helper()
	_, db := setupTestDB(t)
	return NewPushStore(db)
}

func TestCreateSubscriptionUpsertsByEndpoint(t *testing.T) {
	s := setupPushStore(t)

	sub, err := s.CreateSubscription("https://push.example/abc", "p256dh-1", "auth-1", "Laptop")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.Endpoint != "https://push.example/abc" || sub.DeviceName != "Laptop" {
		t.Errorf("sub = %+v", sub)
	}

	// Same endpoint re-registers with fresh keys, no duplicate row.
	again, err := s.CreateSubscription("https://push.example/abc", "p256dh-2", "auth-2", "Laptop (new)")
	if err != nil {
		t.Fatalf("re-create subscription: %v", err)
	}
	if again.ID != sub.ID {
		t.Errorf("upsert created new row: %d vs %d", again.ID, sub.ID)
	}
	if again.P256dhKey != "p256dh-2" || again.DeviceName != "Laptop (new)" {
		t.Errorf("keys not refreshed: %+v", again)
	}

	subs, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	s := setupPushStore(t)

	if _, err := s.CreateSubscription("https://push.example/gone", "k", "a", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteByEndpoint("https://push.example/gone"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	got, err := s.GetByEndpoint("https://push.example/gone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("subscription should be gone")
	}
}

func TestSentNotificationDedup(t *testing.T) {
	s := setupPushStore(t)

	ref := "ev-1::instance::2026-02-10T10:00:00Z"

	sent, err := s.WasSent(ref, 30)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("nothing recorded yet")
	}

	if err := s.RecordSent(ref, 30); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	// Recording again is a no-op, not an error.
	if err := s.RecordSent(ref, 30); err != nil {
		t.Fatalf("re-record sent: %v", err)
	}

	sent, err = s.WasSent(ref, 30)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if !sent {
		t.Error("reminder should be marked sent")
	}

	// A different lead time for the same occurrence dedups separately.
	sent, err = s.WasSent(ref, 10)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("10-minute lead was never sent")
	}
}

func TestCleanupSent(t *testing.T) {
	s := setupPushStore(t)

	if err := s.RecordSent("ref-1", 10); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	if err := s.CleanupSent(time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	sent, err := s.WasSent("ref-1", 10)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("cleanup should have removed the record")
	}
}
