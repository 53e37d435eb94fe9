package schedule

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mclarke/eventide/internal/database"
	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
	"github.com/mclarke/eventide/internal/series"
	"github.com/mclarke/eventide/internal/store"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.NewEventStore(db), logger)
}

func draftEvent(title string, start time.Time, dur time.Duration) model.Event {
	return model.Event{
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(dur),
	}
}

func mustCreate(t *testing.T, s *Service, draft model.Event) *model.Event {
	t.Helper()
	created, err := s.CreateEvent(draft)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return created
}

func TestCreateEventValidation(t *testing.T) {
	s := setupService(t)
	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		draft model.Event
	}{
		{"empty title", draftEvent("   ", start, time.Hour)},
		{"end before start", draftEvent("Backwards", start, -time.Hour)},
		{"zero duration", draftEvent("Instant", start, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateEvent(tc.draft); !errors.Is(err, series.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	// Rule end date before the event start is rejected at creation.
	bad := draftEvent("Doomed series", start, time.Hour)
	rule, err := recurrence.New(recurrence.KindDaily, 0, "", nil,
		recurrence.End{Kind: recurrence.EndOn, Date: start.AddDate(0, 0, -7)})
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}
	bad.Rule = &rule
	if _, err := s.CreateEvent(bad); !errors.Is(err, series.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCreateEventDefaults(t *testing.T) {
	s := setupService(t)

	created := mustCreate(t, s, draftEvent("Dentist", time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC), time.Hour))
	if created.ID == "" {
		t.Error("event should get a generated id")
	}
	if created.Timezone != "UTC" || created.Status != model.StatusActive {
		t.Errorf("defaults = %q %q", created.Timezone, created.Status)
	}
	if created.IsRecurringParent {
		t.Error("plain event must not be a recurring parent")
	}
}

func TestCreateRecurringParent(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Standup", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 30*time.Minute)
	rule, _ := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 4})
	draft.Rule = &rule

	created := mustCreate(t, s, draft)
	if !created.IsRecurringParent || created.Rule == nil {
		t.Fatalf("created = %+v, want recurring parent", created)
	}
}

func TestListOccurrencesMergesConcreteAndGenerated(t *testing.T) {
	s := setupService(t)

	// Daily series anchored Feb 2, plus a one-off on Feb 3.
	draft := draftEvent("Morning run", time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC), time.Hour)
	rule, _ := recurrence.New(recurrence.KindDaily, 0, "", nil, recurrence.End{Kind: recurrence.EndNever})
	draft.Rule = &rule
	parent := mustCreate(t, s, draft)
	oneOff := mustCreate(t, s, draftEvent("Dentist", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), time.Hour))

	w, err := s.ListOccurrences(
		time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 4, 23, 59, 59, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	if w.Truncated {
		t.Error("small window should not truncate")
	}
	if len(w.Occurrences) != 4 {
		t.Fatalf("got %d occurrences, want 3 generated + 1 concrete", len(w.Occurrences))
	}

	// Sorted by start: run Feb 2, run Feb 3, dentist Feb 3 10:00... run is 07:00.
	wantIDs := []string{
		recurrence.InstanceID(parent.ID, time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC)),
		recurrence.InstanceID(parent.ID, time.Date(2026, 2, 3, 7, 0, 0, 0, time.UTC)),
		oneOff.ID,
		recurrence.InstanceID(parent.ID, time.Date(2026, 2, 4, 7, 0, 0, 0, time.UTC)),
	}
	for i, want := range wantIDs {
		if w.Occurrences[i].ID != want {
			t.Errorf("occurrence[%d].ID = %q, want %q", i, w.Occurrences[i].ID, want)
		}
	}

	for _, occ := range w.Occurrences {
		if occ.EventID == parent.ID && !occ.Recurring {
			t.Errorf("generated occurrence %s should be marked recurring", occ.ID)
		}
	}
}

func TestListOccurrencesTruncates(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Forever", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC), time.Hour)
	rule, _ := recurrence.New(recurrence.KindDaily, 0, "", nil, recurrence.End{Kind: recurrence.EndNever})
	draft.Rule = &rule
	mustCreate(t, s, draft)

	w, err := s.ListOccurrences(
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	if !w.Truncated {
		t.Error("multi-year daily window should truncate")
	}
	if len(w.Occurrences) != recurrence.DefaultCap {
		t.Errorf("got %d occurrences, want cap %d", len(w.Occurrences), recurrence.DefaultCap)
	}
}

func TestSingleEditDetachesOccurrence(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Standup", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 30*time.Minute)
	rule, _ := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 4})
	draft.Rule = &rule
	parent := mustCreate(t, s, draft)

	occStart := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	instanceID := recurrence.InstanceID(parent.ID, occStart)

	newTitle := "Standup (demo day)"
	child, err := s.UpdateEvent(instanceID, series.ScopeSingle, series.Patch{Title: &newTitle})
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if child.ParentEventID == nil || *child.ParentEventID != parent.ID {
		t.Fatalf("child = %+v, want detached from %s", child, parent.ID)
	}

	w, err := s.ListOccurrences(parent.StartTime, parent.StartTime.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	if len(w.Occurrences) != 4 {
		t.Fatalf("got %d occurrences, want 4 (3 generated + detached child)", len(w.Occurrences))
	}
	for _, occ := range w.Occurrences {
		if occ.ID == instanceID {
			t.Error("excluded occurrence should no longer be generated")
		}
	}
	if w.Occurrences[1].ID != child.ID || w.Occurrences[1].Title != newTitle {
		t.Errorf("occurrence[1] = %+v, want the detached child", w.Occurrences[1])
	}

	// The detached occurrence now resolves only through its concrete row.
	got, err := s.GetOccurrence(instanceID)
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if got != nil {
		t.Error("excluded virtual instance should resolve to nil")
	}
}

func TestFutureEditReturnsSuccessor(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Standup", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 30*time.Minute)
	rule, _ := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 6})
	draft.Rule = &rule
	parent := mustCreate(t, s, draft)

	occStart := time.Date(2026, 2, 17, 10, 0, 0, 0, time.UTC)
	newLoc := "Room 2"
	successor, err := s.UpdateEvent(recurrence.InstanceID(parent.ID, occStart), series.ScopeFuture, series.Patch{Location: &newLoc})
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if !successor.IsRecurringParent || !successor.StartTime.Equal(occStart) || successor.Location != "Room 2" {
		t.Fatalf("successor = %+v", successor)
	}

	// 2 occurrences stay with the old parent, 4 with the successor.
	w, err := s.ListOccurrences(parent.StartTime, parent.StartTime.AddDate(0, 3, 0))
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	if len(w.Occurrences) != 6 {
		t.Fatalf("got %d occurrences, want 6 across both series", len(w.Occurrences))
	}
	var oldCount, newCount int
	for _, occ := range w.Occurrences {
		switch occ.EventID {
		case parent.ID:
			oldCount++
		case successor.ID:
			newCount++
		}
	}
	if oldCount != 2 || newCount != 4 {
		t.Errorf("split = %d old + %d new, want 2 + 4", oldCount, newCount)
	}
}

func TestDeleteAllRemovesSeries(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Standup", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 30*time.Minute)
	rule, _ := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 4})
	draft.Rule = &rule
	parent := mustCreate(t, s, draft)

	if err := s.DeleteEvent(parent.ID, series.ScopeAll); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	w, err := s.ListOccurrences(parent.StartTime, parent.StartTime.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	if len(w.Occurrences) != 0 {
		t.Errorf("got %d occurrences after delete, want 0", len(w.Occurrences))
	}
}

func TestGetOccurrenceVirtual(t *testing.T) {
	s := setupService(t)

	draft := draftEvent("Standup", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), 30*time.Minute)
	rule, _ := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 4})
	draft.Rule = &rule
	parent := mustCreate(t, s, draft)

	occStart := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	got, err := s.GetOccurrence(recurrence.InstanceID(parent.ID, occStart))
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if got == nil || !got.StartTime.Equal(occStart) || got.EventID != parent.ID {
		t.Fatalf("got = %+v", got)
	}

	// A timestamp the series never hits is not an occurrence.
	notOcc := recurrence.InstanceID(parent.ID, occStart.Add(time.Hour))
	got, err = s.GetOccurrence(notOcc)
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil for off-series timestamp", got)
	}

	// Unknown plain id.
	got, err = s.GetOccurrence("nope")
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}
