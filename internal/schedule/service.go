package schedule

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
	"github.com/mclarke/eventide/internal/series"
	"github.com/mclarke/eventide/internal/store"
)

// Occurrence is one calendar entry in a listing window: either a concrete
// event row or a generated instance of a recurring series. Generated
// instances carry a composite ID that routes edits back to their parent.
type Occurrence struct {
	ID          string            `json:"id"`
	EventID     string            `json:"event_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	AllDay      bool              `json:"all_day"`
	Timezone    string            `json:"timezone"`
	Label       string            `json:"label"`
	Recurring   bool              `json:"recurring"`
	Status      model.EventStatus `json:"status"`
}

// Window is a listing result. Truncated is set when any series in the window
// hit the occurrence cap, so clients know the listing may be incomplete.
type Window struct {
	Occurrences []Occurrence `json:"occurrences"`
	Truncated   bool         `json:"truncated"`
}

// Service answers calendar queries and routes series mutations through the
// resolver into atomic store writes.
type Service struct {
	events   *store.EventStore
	resolver *series.Resolver
	logger   *slog.Logger
	newID    func() string
}

func NewService(events *store.EventStore, logger *slog.Logger) *Service {
	return &Service{
		events:   events,
		resolver: series.NewResolver(events),
		logger:   logger.With("component", "schedule"),
		newID:    uuid.NewString,
	}
}

// ListOccurrences returns all calendar entries for [start, end]: concrete
// rows overlapping the window plus generated occurrences of every recurring
// series whose anchor is not past the window's end.
func (s *Service) ListOccurrences(start, end time.Time) (*Window, error) {
	w := &Window{Occurrences: []Occurrence{}}

	concrete, err := s.events.ListWindow(start, end)
	if err != nil {
		return nil, err
	}
	for i := range concrete {
		w.Occurrences = append(w.Occurrences, fromEvent(&concrete[i]))
	}

	parents, err := s.events.ListRecurringParents(end)
	if err != nil {
		return nil, err
	}
	for i := range parents {
		p := &parents[i]
		if p.Rule == nil {
			continue
		}
		occs, truncated := recurrence.Expand(*p.Rule, p.StartTime, p.EndTime, start, end, 0)
		if truncated {
			s.logger.Warn("occurrence listing truncated", "event_id", p.ID, "window_start", start, "window_end", end)
			w.Truncated = true
		}
		for _, occ := range occs {
			w.Occurrences = append(w.Occurrences, fromInstance(p, occ))
		}
	}

	slices.SortStableFunc(w.Occurrences, func(a, b Occurrence) int {
		if a.AllDay != b.AllDay {
			if a.AllDay {
				return -1
			}
			return 1
		}
		return a.StartTime.Compare(b.StartTime)
	})
	return w, nil
}

// GetOccurrence resolves a single entry by ID, virtual or concrete.
// Returns (nil, nil) when the ID does not name a live entry.
func (s *Service) GetOccurrence(id string) (*Occurrence, error) {
	if parentID, start, ok := recurrence.ParseInstanceID(id); ok {
		parent, err := s.events.GetByID(parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.DeletedAt != nil || !parent.Recurring() {
			return nil, nil
		}
		occs, _ := recurrence.Expand(*parent.Rule, parent.StartTime, parent.EndTime, start, start, 0)
		if len(occs) == 0 {
			return nil, nil
		}
		occ := fromInstance(parent, occs[0])
		return &occ, nil
	}

	e, err := s.events.GetByID(id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.DeletedAt != nil {
		return nil, nil
	}
	occ := fromEvent(e)
	return &occ, nil
}

// CreateEvent validates and persists a new event. A draft carrying a
// recurrence rule becomes a series parent; its occurrences are generated,
// never written.
func (s *Service) CreateEvent(draft model.Event) (*model.Event, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return nil, fmt.Errorf("title is required: %w", series.ErrValidation)
	}
	if !draft.StartTime.Before(draft.EndTime) {
		return nil, fmt.Errorf("start must be before end: %w", series.ErrValidation)
	}
	if draft.Timezone == "" {
		draft.Timezone = "UTC"
	}
	if draft.Status == "" {
		draft.Status = model.StatusActive
	}

	if draft.Rule != nil && draft.Rule.IsNone() {
		draft.Rule = nil
	}
	if draft.Rule != nil {
		if err := draft.Rule.Validate(draft.StartTime); err != nil {
			return nil, fmt.Errorf("%w: %w", series.ErrValidation, err)
		}
	}
	draft.IsRecurringParent = draft.Recurring()
	draft.ID = s.newID()
	draft.ParentEventID = nil

	created, err := s.events.Create(&draft)
	if err != nil {
		return nil, err
	}
	s.logger.Info("event created", "event_id", created.ID, "recurring", created.IsRecurringParent)
	return created, nil
}

// UpdateEvent applies a patch to an event or occurrence under the given
// scope and returns the row the caller most directly touched: the detached
// or successor event when the mutation split the series, the updated row
// otherwise.
func (s *Service) UpdateEvent(id string, scope series.Scope, patch series.Patch) (*model.Event, error) {
	plan, err := s.resolver.ResolveEdit(id, scope, patch)
	if err != nil {
		return nil, err
	}
	if err := s.events.ApplyPlan(*plan); err != nil {
		return nil, err
	}
	s.logger.Info("event updated", "target", id, "scope", string(scope),
		"creates", len(plan.Creates), "updates", len(plan.Updates))

	primary := plan.Updates[len(plan.Updates)-1].Event.ID
	if len(plan.Creates) > 0 {
		primary = plan.Creates[0].ID
	}
	return s.events.GetByID(primary)
}

// DeleteEvent removes an event or occurrence under the given scope.
func (s *Service) DeleteEvent(id string, scope series.Scope) error {
	plan, err := s.resolver.ResolveDelete(id, scope)
	if err != nil {
		return err
	}
	if err := s.events.ApplyPlan(*plan); err != nil {
		return err
	}
	s.logger.Info("event deleted", "target", id, "scope", string(scope),
		"updates", len(plan.Updates), "deletes", len(plan.Deletes))
	return nil
}

func fromEvent(e *model.Event) Occurrence {
	return Occurrence{
		ID:          e.ID,
		EventID:     e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		AllDay:      e.AllDay,
		Timezone:    e.Timezone,
		Label:       e.Label,
		Recurring:   e.Recurring(),
		Status:      e.Status,
	}
}

func fromInstance(parent *model.Event, occ recurrence.Occurrence) Occurrence {
	return Occurrence{
		ID:          recurrence.InstanceID(parent.ID, occ.Start),
		EventID:     parent.ID,
		Title:       parent.Title,
		Description: parent.Description,
		Location:    parent.Location,
		StartTime:   occ.Start,
		EndTime:     occ.End,
		AllDay:      parent.AllDay,
		Timezone:    parent.Timezone,
		Label:       parent.Label,
		Recurring:   true,
		Status:      parent.Status,
	}
}
