package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
	"github.com/mclarke/eventide/internal/series"
)

// ErrConflict is returned when a write's UpdatedAt precondition no longer
// holds: the row was modified (or removed) after the plan was resolved.
var ErrConflict = errors.New("event modified concurrently")

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx so the row helpers can
// serve single calls and ApplyPlan transactions alike.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

const eventColumns = `id, title, description, location, start_time, end_time, all_day,
	 timezone, label, recurrence_rule, parent_event_id, is_recurring_parent,
	 status, deleted_at, created_at, updated_at`

func (s *EventStore) Create(e *model.Event) (*model.Event, error) {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	if err := insertEvent(s.db, e); err != nil {
		return nil, err
	}
	return s.GetByID(e.ID)
}

func (s *EventStore) GetByID(id string) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

// ListWindow returns non-deleted concrete events overlapping [start, end):
// plain events and split children, but not recurring parents, whose
// occurrences are generated rather than read.
func (s *EventStore) ListWindow(start, end time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events
		 WHERE deleted_at IS NULL
		   AND is_recurring_parent = 0
		   AND start_time < ? AND end_time > ?
		 ORDER BY all_day DESC, start_time ASC`,
		end.UTC(), start.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events in window: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecurringParents returns non-deleted recurring parents anchored at or
// before until. Parents anchored later cannot produce occurrences in any
// window ending at until.
func (s *EventStore) ListRecurringParents(until time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events
		 WHERE deleted_at IS NULL
		   AND is_recurring_parent = 1
		   AND start_time <= ?
		 ORDER BY start_time ASC`,
		until.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query recurring parents: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Update rewrites the event row if its updated_at still matches expected.
func (s *EventStore) Update(e *model.Event, expected time.Time) (*model.Event, error) {
	if err := updateEvent(s.db, e, expected); err != nil {
		return nil, err
	}
	return s.GetByID(e.ID)
}

// Delete removes the event row. With soft set the row is tombstoned via
// deleted_at; otherwise it is removed outright, cascading to split children,
// guests and reminders.
func (s *EventStore) Delete(id string, soft bool, expected time.Time) error {
	return deleteEvent(s.db, id, soft, expected)
}

// ApplyPlan applies a resolved mutation plan in one transaction. Any failed
// precondition rolls back the whole plan and returns ErrConflict.
func (s *EventStore) ApplyPlan(plan series.Plan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin plan tx: %w", err)
	}
	defer tx.Rollback()

	for i := range plan.Updates {
		u := &plan.Updates[i]
		if err := updateEvent(tx, &u.Event, u.ExpectedUpdatedAt); err != nil {
			return err
		}
	}
	for i := range plan.Creates {
		if err := insertEvent(tx, &plan.Creates[i]); err != nil {
			return err
		}
	}
	for _, d := range plan.Deletes {
		if err := deleteEvent(tx, d.ID, d.Soft, d.ExpectedUpdatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan tx: %w", err)
	}
	return nil
}

func insertEvent(q execer, e *model.Event) error {
	var ruleJSON sql.NullString
	if e.Rule != nil {
		encoded, err := e.Rule.Encode()
		if err != nil {
			return fmt.Errorf("encode recurrence rule: %w", err)
		}
		ruleJSON = sql.NullString{String: encoded, Valid: true}
	}

	var parentID sql.NullString
	if e.ParentEventID != nil {
		parentID = sql.NullString{String: *e.ParentEventID, Valid: true}
	}

	_, err := q.Exec(
		`INSERT INTO events (id, title, description, location, start_time, end_time, all_day,
		 timezone, label, recurrence_rule, parent_event_id, is_recurring_parent, status,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Location, e.StartTime.UTC(), e.EndTime.UTC(),
		boolInt(e.AllDay), e.Timezone, e.Label, ruleJSON, parentID,
		boolInt(e.IsRecurringParent), string(e.Status), e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func updateEvent(q execer, e *model.Event, expected time.Time) error {
	var ruleJSON sql.NullString
	if e.Rule != nil {
		encoded, err := e.Rule.Encode()
		if err != nil {
			return fmt.Errorf("encode recurrence rule: %w", err)
		}
		ruleJSON = sql.NullString{String: encoded, Valid: true}
	}

	if e.UpdatedAt.IsZero() || e.UpdatedAt.Equal(expected) {
		e.UpdatedAt = time.Now().UTC()
	}

	result, err := q.Exec(
		`UPDATE events
		 SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?,
		     all_day = ?, timezone = ?, label = ?, recurrence_rule = ?,
		     is_recurring_parent = ?, status = ?, updated_at = ?
		 WHERE id = ? AND updated_at = ? AND deleted_at IS NULL`,
		e.Title, e.Description, e.Location, e.StartTime.UTC(), e.EndTime.UTC(),
		boolInt(e.AllDay), e.Timezone, e.Label, ruleJSON,
		boolInt(e.IsRecurringParent), string(e.Status), e.UpdatedAt.UTC(),
		e.ID, expected.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update event %s: %w", e.ID, ErrConflict)
	}
	return nil
}

func deleteEvent(q execer, id string, soft bool, expected time.Time) error {
	var result sql.Result
	var err error
	if soft {
		now := time.Now().UTC()
		result, err = q.Exec(
			`UPDATE events SET deleted_at = ?, updated_at = ?
			 WHERE id = ? AND updated_at = ? AND deleted_at IS NULL`,
			now, now, id, expected.UTC(),
		)
	} else {
		result, err = q.Exec(
			`DELETE FROM events WHERE id = ? AND updated_at = ?`,
			id, expected.UTC(),
		)
	}
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete event %s: %w", id, ErrConflict)
	}
	return nil
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(scan func(dest ...any) error) (*model.Event, error) {
	var e model.Event
	var allDay, isParent int
	var ruleJSON, parentID sql.NullString
	var deletedAt sql.NullTime
	var status string

	err := scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime,
		&allDay, &e.Timezone, &e.Label, &ruleJSON, &parentID, &isParent,
		&status, &deletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.AllDay = allDay != 0
	e.IsRecurringParent = isParent != 0
	e.Status = model.EventStatus(status)
	if parentID.Valid {
		e.ParentEventID = &parentID.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	if ruleJSON.Valid {
		rule, err := recurrence.ParseRule(ruleJSON.String)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence rule: %w", err)
		}
		e.Rule = &rule
	}
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
