package model

import (
	"time"

	"github.com/mclarke/eventide/internal/recurrence"
)

type EventStatus string

const (
	StatusActive    EventStatus = "active"
	StatusCancelled EventStatus = "cancelled"
	StatusCompleted EventStatus = "completed"
)

// Event is a stored calendar event row. A recurring parent carries a
// non-nil Rule and its occurrences are generated on demand, never stored.
// ParentEventID is set only on events materialized by a series split; the
// chain is flat (a split child never has split children of its own).
type Event struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Location          string           `json:"location"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	AllDay            bool             `json:"all_day"`
	Timezone          string           `json:"timezone"`
	Label             string           `json:"label"`
	Rule              *recurrence.Rule `json:"recurrence_rule,omitempty"`
	ParentEventID     *string          `json:"parent_event_id,omitempty"`
	IsRecurringParent bool             `json:"is_recurring_parent"`
	Status            EventStatus      `json:"status"`
	DeletedAt         *time.Time       `json:"deleted_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Recurring reports whether the event generates occurrences.
func (e *Event) Recurring() bool {
	return e.Rule != nil && !e.Rule.IsNone()
}

// Duration is the span copied onto every generated occurrence.
func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Guest is an attendee attached to a concrete event row (parent or split
// child), never to a virtual occurrence.
type Guest struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Reminder is a notification lead time attached to a concrete event row.
type Reminder struct {
	ID            int64  `json:"id"`
	EventID       string `json:"event_id"`
	MinutesBefore int    `json:"minutes_before"`
}
