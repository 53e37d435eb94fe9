// Package series resolves scoped edit and delete requests against recurring
// events. It reads the stored parent, decides how the series must change,
// and emits a write plan for the store to apply in a single transaction; it
// performs no writes itself.
package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
)

// Scope selects how much of a series a mutation affects.
type Scope string

const (
	// ScopeSingle targets one occurrence.
	ScopeSingle Scope = "single"
	// ScopeFuture targets an occurrence and everything after it.
	ScopeFuture Scope = "future"
	// ScopeAll targets the whole series.
	ScopeAll Scope = "all"
)

// ParseScope maps a request parameter to a Scope; empty defaults to single.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", string(ScopeSingle):
		return ScopeSingle, nil
	case string(ScopeFuture):
		return ScopeFuture, nil
	case string(ScopeAll):
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

var (
	// ErrNotFound means the decoded parent id has no stored row.
	ErrNotFound = errors.New("event not found")
	// ErrValidation wraps rule and field validation failures; no writes are
	// planned when it is returned.
	ErrValidation = errors.New("invalid recurrence rule")
)

// Patch holds the fields an edit may change; nil pointers leave the stored
// value untouched. ClearRule removes the rule (Rule and ClearRule are
// mutually exclusive).
type Patch struct {
	Title       *string
	Description *string
	Location    *string
	Label       *string
	StartTime   *time.Time
	EndTime     *time.Time
	AllDay      *bool
	Status      *model.EventStatus
	Rule        *recurrence.Rule
	ClearRule   bool
}

// EventReader loads event rows. *store.EventStore satisfies it; reads return
// (nil, nil) for missing rows.
type EventReader interface {
	GetByID(id string) (*model.Event, error)
}

// Plan is the set of writes a resolution produced. The store applies the
// whole plan inside one transaction or not at all.
type Plan struct {
	Creates []model.Event
	Updates []Update
	Deletes []Delete
}

// Update rewrites a row, guarded by an optimistic precondition on the
// UpdatedAt the resolver observed. A mismatch at apply time means another
// mutation won the race and surfaces as a retryable conflict.
type Update struct {
	Event             model.Event
	ExpectedUpdatedAt time.Time
}

// Delete removes a row (or soft-deletes it when Soft is set), with the same
// precondition as Update.
type Delete struct {
	ID                string
	Soft              bool
	ExpectedUpdatedAt time.Time
}

// Resolver turns scoped mutation requests into write plans.
type Resolver struct {
	events EventReader
	newID  func() string
	now    func() time.Time
}

func NewResolver(events EventReader) *Resolver {
	return &Resolver{
		events: events,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// ResolveEdit plans a scoped edit of the event or occurrence named by
// targetID.
func (r *Resolver) ResolveEdit(targetID string, scope Scope, p Patch) (*Plan, error) {
	parent, occStart, isInstance, err := r.load(targetID)
	if err != nil {
		return nil, err
	}

	// A non-recurring target, or a bare parent id, has no occurrence to
	// scope to: the mutation collapses to the whole event.
	if !parent.Recurring() || !isInstance {
		scope = ScopeAll
	}
	// Splitting at the first occurrence leaves nothing behind the cut.
	if scope == ScopeFuture && !occStart.After(parent.StartTime) {
		scope = ScopeAll
	}

	switch scope {
	case ScopeSingle:
		return r.planSingleEdit(parent, occStart, p)
	case ScopeFuture:
		return r.planFutureEdit(parent, occStart, p)
	default:
		return r.planFullEdit(parent, p)
	}
}

// ResolveDelete plans a scoped delete of the event or occurrence named by
// targetID.
func (r *Resolver) ResolveDelete(targetID string, scope Scope) (*Plan, error) {
	parent, occStart, isInstance, err := r.load(targetID)
	if err != nil {
		return nil, err
	}

	if !parent.Recurring() || !isInstance {
		scope = ScopeAll
	}
	if scope == ScopeFuture && !occStart.After(parent.StartTime) {
		scope = ScopeAll
	}

	switch scope {
	case ScopeSingle:
		// Record the exclusion; no replacement row is materialized.
		updated := *parent
		rule := parent.Rule.WithExclusion(occStart)
		updated.Rule = &rule
		return &Plan{
			Updates: []Update{{Event: r.touch(updated), ExpectedUpdatedAt: parent.UpdatedAt}},
		}, nil

	case ScopeFuture:
		// Truncate the series at the instant before the cutover; no new
		// series is created for a delete.
		updated := *parent
		rule := truncateRule(*parent.Rule, occStart)
		updated.Rule = &rule
		return &Plan{
			Updates: []Update{{Event: r.touch(updated), ExpectedUpdatedAt: parent.UpdatedAt}},
		}, nil

	default:
		if parent.Recurring() {
			// Hard delete: guests, reminders and split children go with the
			// parent via the store's foreign-key cascade.
			return &Plan{
				Deletes: []Delete{{ID: parent.ID, ExpectedUpdatedAt: parent.UpdatedAt}},
			}, nil
		}
		// Single concrete events are soft-deleted so listings drop them but
		// the row survives for audit.
		return &Plan{
			Deletes: []Delete{{ID: parent.ID, Soft: true, ExpectedUpdatedAt: parent.UpdatedAt}},
		}, nil
	}
}

// load decodes the target id and fetches its parent row.
func (r *Resolver) load(targetID string) (*model.Event, time.Time, bool, error) {
	parentID, occStart, isInstance := recurrence.ParseInstanceID(targetID)
	parent, err := r.events.GetByID(parentID)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load parent event: %w", err)
	}
	if parent == nil || parent.DeletedAt != nil {
		return nil, time.Time{}, false, ErrNotFound
	}
	return parent, occStart, isInstance, nil
}

// planSingleEdit detaches one occurrence into a standalone child event and
// excludes it from the parent's rule.
func (r *Resolver) planSingleEdit(parent *model.Event, occStart time.Time, p Patch) (*Plan, error) {
	child := model.Event{
		ID:            r.newID(),
		Title:         parent.Title,
		Description:   parent.Description,
		Location:      parent.Location,
		StartTime:     occStart,
		EndTime:       occStart.Add(parent.Duration()),
		AllDay:        parent.AllDay,
		Timezone:      parent.Timezone,
		Label:         parent.Label,
		ParentEventID: &parent.ID,
		Status:        parent.Status,
	}
	child, err := applyPatch(child, p)
	if err != nil {
		return nil, err
	}
	// A detached occurrence is a plain event; a rule in the patch would
	// silently start a nested series, so reject it.
	if p.Rule != nil {
		return nil, fmt.Errorf("%w: a single occurrence cannot be given its own rule", ErrValidation)
	}

	updated := *parent
	rule := parent.Rule.WithExclusion(occStart)
	updated.Rule = &rule

	return &Plan{
		Creates: []model.Event{r.stamp(child)},
		Updates: []Update{{Event: r.touch(updated), ExpectedUpdatedAt: parent.UpdatedAt}},
	}, nil
}

// planFutureEdit truncates the parent before the cutover and creates a new
// series anchored at the cutover, carrying a rebased copy of the rule.
func (r *Resolver) planFutureEdit(parent *model.Event, occStart time.Time, p Patch) (*Plan, error) {
	truncated := *parent
	oldRule := truncateRule(*parent.Rule, occStart)
	truncated.Rule = &oldRule

	newRule := rebaseRule(*parent.Rule, parent.StartTime, occStart)
	successor := model.Event{
		ID:                r.newID(),
		Title:             parent.Title,
		Description:       parent.Description,
		Location:          parent.Location,
		StartTime:         occStart,
		EndTime:           occStart.Add(parent.Duration()),
		AllDay:            parent.AllDay,
		Timezone:          parent.Timezone,
		Label:             parent.Label,
		Rule:              &newRule,
		ParentEventID:     &parent.ID,
		IsRecurringParent: true,
		Status:            parent.Status,
	}
	successor, err := applyPatch(successor, p)
	if err != nil {
		return nil, err
	}
	if successor.Rule != nil {
		if err := successor.Rule.Validate(successor.StartTime); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	return &Plan{
		Creates: []model.Event{r.stamp(successor)},
		Updates: []Update{{Event: r.touch(truncated), ExpectedUpdatedAt: parent.UpdatedAt}},
	}, nil
}

// planFullEdit patches the parent row in place.
func (r *Resolver) planFullEdit(parent *model.Event, p Patch) (*Plan, error) {
	updated, err := applyPatch(*parent, p)
	if err != nil {
		return nil, err
	}
	if updated.Rule != nil {
		if err := updated.Rule.Validate(updated.StartTime); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	updated.IsRecurringParent = updated.Recurring()
	return &Plan{
		Updates: []Update{{Event: r.touch(updated), ExpectedUpdatedAt: parent.UpdatedAt}},
	}, nil
}

// truncateRule ends a rule on the day before the cutover occurrence,
// keeping only exclusions that fall before the cutover.
func truncateRule(rule recurrence.Rule, cutover time.Time) recurrence.Rule {
	cut := time.Date(cutover.Year(), cutover.Month(), cutover.Day(), 0, 0, 0, 0, cutover.Location()).
		AddDate(0, 0, -1)
	out := rule.WithEnd(recurrence.End{Kind: recurrence.EndOn, Date: cut})
	out.Exclusions = splitExclusions(rule, cutover, true)
	return out
}

// rebaseRule copies a rule onto a new anchor at the cutover. After counts
// are reduced by the occurrences the truncated parent already consumed so
// the split series ends where the original would have; On dates and Never
// carry over unchanged. Exclusions at or past the cutover move to the new
// series.
func rebaseRule(rule recurrence.Rule, oldAnchor, cutover time.Time) recurrence.Rule {
	end := rule.End
	if end.Kind == recurrence.EndAfter {
		consumed := recurrence.CountBefore(rule, oldAnchor, cutover)
		remaining := end.Count - consumed
		if remaining < 1 {
			remaining = 1
		}
		end.Count = remaining
	}
	out := rule.WithEnd(end)
	out.Exclusions = splitExclusions(rule, cutover, false)
	return out
}

func splitExclusions(rule recurrence.Rule, cutover time.Time, before bool) []time.Time {
	var out []time.Time
	for _, x := range rule.Exclusions {
		if x.Before(cutover) == before {
			out = append(out, x)
		}
	}
	return out
}

// applyPatch overlays the patch on a copy of the event.
func applyPatch(e model.Event, p Patch) (model.Event, error) {
	if p.Rule != nil && p.ClearRule {
		return model.Event{}, fmt.Errorf("%w: patch both sets and clears the rule", ErrValidation)
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Label != nil {
		e.Label = *p.Label
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.ClearRule {
		e.Rule = nil
		e.IsRecurringParent = false
	}
	if p.Rule != nil {
		rule := *p.Rule
		e.Rule = &rule
		e.IsRecurringParent = !rule.IsNone()
	}
	if !e.StartTime.Before(e.EndTime) {
		return model.Event{}, fmt.Errorf("%w: start time must be before end time", ErrValidation)
	}
	return e, nil
}

func (r *Resolver) stamp(e model.Event) model.Event {
	now := r.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	return e
}

func (r *Resolver) touch(e model.Event) model.Event {
	e.UpdatedAt = r.now().UTC()
	return e
}
