package series

import (
	"errors"
	"testing"
	"time"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
)

type fakeReader map[string]*model.Event

func (f fakeReader) GetByID(id string) (*model.Event, error) {
	return f[id], nil
}

func testResolver(events fakeReader) *Resolver {
	r := NewResolver(events)
	r.newID = func() string { return "new-id" }
	r.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func weeklyParent(t *testing.T) *model.Event {
	t.Helper()
	rule, err := recurrence.New(recurrence.KindWeekly, 0, "", nil, recurrence.End{Kind: recurrence.EndAfter, Count: 10})
	if err != nil {
		t.Fatalf("New rule: %v", err)
	}
	return &model.Event{
		ID:                "parent-1",
		Title:             "Standup",
		StartTime:         time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC), // Tuesday
		EndTime:           time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC),
		Timezone:          "UTC",
		Label:             "work",
		Rule:              &rule,
		IsRecurringParent: true,
		Status:            model.StatusActive,
		UpdatedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func str(s string) *string { return &s }

func TestResolveUnknownParent(t *testing.T) {
	r := testResolver(fakeReader{})
	if _, err := r.ResolveEdit("missing", ScopeSingle, Patch{Title: str("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("edit err = %v, want ErrNotFound", err)
	}
	if _, err := r.ResolveDelete("garbage::instance::junk", ScopeAll); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete err = %v, want ErrNotFound", err)
	}
}

func TestSingleEditNonRecurringCollapsesToAll(t *testing.T) {
	ev := &model.Event{
		ID:        "e1",
		Title:     "Dentist",
		StartTime: time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC),
		Status:    model.StatusActive,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r := testResolver(fakeReader{"e1": ev})

	plan, err := r.ResolveEdit("e1", ScopeSingle, Patch{Title: str("Dentist (moved)")})
	if err != nil {
		t.Fatalf("ResolveEdit: %v", err)
	}
	if len(plan.Creates) != 0 || len(plan.Deletes) != 0 || len(plan.Updates) != 1 {
		t.Fatalf("plan = %+v, want exactly one update", plan)
	}
	if plan.Updates[0].Event.Title != "Dentist (moved)" {
		t.Errorf("title = %q", plan.Updates[0].Event.Title)
	}
	if !plan.Updates[0].ExpectedUpdatedAt.Equal(ev.UpdatedAt) {
		t.Error("precondition should carry the observed UpdatedAt")
	}
}

func TestSingleEditMaterializesChildAndExcludes(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	occ := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC) // second occurrence
	target := recurrence.InstanceID(parent.ID, occ)

	plan, err := r.ResolveEdit(target, ScopeSingle, Patch{Title: str("Standup (guest speaker)")})
	if err != nil {
		t.Fatalf("ResolveEdit: %v", err)
	}
	if len(plan.Creates) != 1 || len(plan.Updates) != 1 {
		t.Fatalf("plan = %+v, want one create and one update", plan)
	}

	child := plan.Creates[0]
	if child.ID != "new-id" || child.ParentEventID == nil || *child.ParentEventID != parent.ID {
		t.Errorf("child identity = %q parent = %v", child.ID, child.ParentEventID)
	}
	if child.Rule != nil || child.IsRecurringParent {
		t.Error("detached occurrence must not carry a rule")
	}
	if !child.StartTime.Equal(occ) || child.EndTime.Sub(child.StartTime) != 30*time.Minute {
		t.Errorf("child span = %v-%v", child.StartTime, child.EndTime)
	}
	if child.Title != "Standup (guest speaker)" {
		t.Errorf("child title = %q", child.Title)
	}

	updated := plan.Updates[0].Event
	if updated.Rule == nil || !updated.Rule.Equal(parent.Rule.WithExclusion(occ)) {
		t.Errorf("parent rule = %+v, want exclusion at %v", updated.Rule, occ)
	}
}

func TestSingleDeleteRecordsExclusionOnly(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	occ := time.Date(2026, 2, 17, 10, 0, 0, 0, time.UTC)
	plan, err := r.ResolveDelete(recurrence.InstanceID(parent.ID, occ), ScopeSingle)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if len(plan.Creates) != 0 || len(plan.Deletes) != 0 || len(plan.Updates) != 1 {
		t.Fatalf("plan = %+v, want exclusion update only", plan)
	}
	if !plan.Updates[0].Event.Rule.Equal(parent.Rule.WithExclusion(occ)) {
		t.Error("exclusion not recorded")
	}
}

func TestFutureEditSplitsSeries(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	// Cut at the 4th occurrence (Feb 24): three occurrences stay behind.
	occ := time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)
	plan, err := r.ResolveEdit(recurrence.InstanceID(parent.ID, occ), ScopeFuture, Patch{Location: str("Room 2")})
	if err != nil {
		t.Fatalf("ResolveEdit: %v", err)
	}
	if len(plan.Creates) != 1 || len(plan.Updates) != 1 {
		t.Fatalf("plan = %+v, want one create and one update", plan)
	}

	truncated := plan.Updates[0].Event
	if truncated.Rule.End.Kind != recurrence.EndOn {
		t.Fatalf("truncated end = %+v, want On", truncated.Rule.End)
	}
	if wantCut := time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC); !truncated.Rule.End.Date.Equal(wantCut) {
		t.Errorf("truncation date = %v, want %v", truncated.Rule.End.Date, wantCut)
	}

	// Pre-split occurrences are byte-identical: same rule stepping, same
	// anchor, just a shorter end.
	before, _ := recurrence.Expand(*parent.Rule, parent.StartTime, parent.EndTime,
		parent.StartTime, occ.Add(-time.Second), 0)
	after, _ := recurrence.Expand(*truncated.Rule, truncated.StartTime, truncated.EndTime,
		truncated.StartTime, occ.Add(-time.Second), 0)
	if len(before) != 3 || len(after) != 3 {
		t.Fatalf("pre-split occurrences: before=%d after=%d, want 3", len(before), len(after))
	}
	for i := range before {
		if !before[i].Start.Equal(after[i].Start) || !before[i].End.Equal(after[i].End) {
			t.Errorf("occurrence %d changed across split: %v vs %v", i, before[i], after[i])
		}
	}

	successor := plan.Creates[0]
	if !successor.StartTime.Equal(occ) {
		t.Errorf("successor anchor = %v, want %v", successor.StartTime, occ)
	}
	if successor.Location != "Room 2" {
		t.Errorf("successor location = %q", successor.Location)
	}
	if !successor.IsRecurringParent || successor.Rule == nil {
		t.Fatal("successor must be a recurring parent")
	}
	// Original After(10) minus the 3 consumed occurrences.
	if successor.Rule.End.Kind != recurrence.EndAfter || successor.Rule.End.Count != 7 {
		t.Errorf("successor end = %+v, want After(7)", successor.Rule.End)
	}
	if successor.ParentEventID == nil || *successor.ParentEventID != parent.ID {
		t.Error("successor should reference the original parent")
	}
}

func TestFutureDeleteTruncatesWithoutSuccessor(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	// Delete occurrence #2 of 10 with future scope
	// leaves a series containing only occurrence #1.
	occ := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	plan, err := r.ResolveDelete(recurrence.InstanceID(parent.ID, occ), ScopeFuture)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if len(plan.Creates) != 0 {
		t.Fatal("future delete must not create a successor series")
	}
	if len(plan.Updates) != 1 {
		t.Fatalf("plan = %+v, want one update", plan)
	}

	truncated := plan.Updates[0].Event
	occs, _ := recurrence.Expand(*truncated.Rule, parent.StartTime, parent.EndTime,
		parent.StartTime, parent.StartTime.AddDate(1, 0, 0), 0)
	if len(occs) != 1 {
		t.Fatalf("remaining occurrences = %d, want 1", len(occs))
	}
	if !occs[0].Start.Equal(parent.StartTime) {
		t.Errorf("remaining occurrence = %v, want the anchor", occs[0].Start)
	}
}

func TestFutureAtFirstOccurrenceCollapsesToAll(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	plan, err := r.ResolveDelete(recurrence.InstanceID(parent.ID, parent.StartTime), ScopeFuture)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if len(plan.Deletes) != 1 || plan.Deletes[0].Soft {
		t.Fatalf("plan = %+v, want one hard delete", plan)
	}
}

func TestAllDeleteRecurringIsHard(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	plan, err := r.ResolveDelete(parent.ID, ScopeAll)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if len(plan.Deletes) != 1 || plan.Deletes[0].ID != parent.ID || plan.Deletes[0].Soft {
		t.Fatalf("plan = %+v, want hard delete of the parent", plan)
	}
}

func TestAllDeleteConcreteIsSoft(t *testing.T) {
	ev := &model.Event{
		ID:        "e1",
		StartTime: time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC),
		Status:    model.StatusActive,
	}
	r := testResolver(fakeReader{"e1": ev})

	plan, err := r.ResolveDelete("e1", ScopeAll)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if len(plan.Deletes) != 1 || !plan.Deletes[0].Soft {
		t.Fatalf("plan = %+v, want soft delete", plan)
	}
}

func TestEditRejectsInvalidRule(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	bad := recurrence.Rule{Kind: recurrence.KindCustom, Interval: 0, Unit: recurrence.UnitDay, End: recurrence.End{Kind: recurrence.EndNever}}
	_, err := r.ResolveEdit(parent.ID, ScopeAll, Patch{Rule: &bad})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSingleEditRejectsNestedRule(t *testing.T) {
	parent := weeklyParent(t)
	r := testResolver(fakeReader{parent.ID: parent})

	occ := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	daily, _ := recurrence.New(recurrence.KindDaily, 0, "", nil, recurrence.End{Kind: recurrence.EndNever})
	_, err := r.ResolveEdit(recurrence.InstanceID(parent.ID, occ), ScopeSingle, Patch{Rule: &daily})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeSingle, "single": ScopeSingle, "future": ScopeFuture, "all": ScopeAll} {
		got, err := ParseScope(in)
		if err != nil || got != want {
			t.Errorf("ParseScope(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseScope("everything"); err == nil {
		t.Error("ParseScope should reject unknown scopes")
	}
}
