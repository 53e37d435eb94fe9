package store

import (
	"database/sql"
	"fmt"

	"github.com/mclarke/eventide/internal/model"
)

// Guests and reminders hang off concrete event rows. Both cascade away with
// the row, so the split resolver never has to plan for them.

func (s *EventStore) AddGuest(eventID, email, name string) (*model.Guest, error) {
	result, err := s.db.Exec(
		`INSERT INTO event_guests (event_id, email, name) VALUES (?, ?, ?)
		 ON CONFLICT(event_id, email) DO UPDATE SET name = excluded.name`,
		eventID, email, name,
	)
	if err != nil {
		return nil, fmt.Errorf("add guest: %w", err)
	}
	id, _ := result.LastInsertId()
	if id == 0 {
		return s.getGuestByEmail(eventID, email)
	}

	var g model.Guest
	err = s.db.QueryRow(
		`SELECT id, event_id, email, name, created_at FROM event_guests WHERE id = ?`, id,
	).Scan(&g.ID, &g.EventID, &g.Email, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get guest: %w", err)
	}
	return &g, nil
}

func (s *EventStore) getGuestByEmail(eventID, email string) (*model.Guest, error) {
	var g model.Guest
	err := s.db.QueryRow(
		`SELECT id, event_id, email, name, created_at
		 FROM event_guests WHERE event_id = ? AND email = ?`, eventID, email,
	).Scan(&g.ID, &g.EventID, &g.Email, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guest by email: %w", err)
	}
	return &g, nil
}

func (s *EventStore) ListGuests(eventID string) ([]model.Guest, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, email, name, created_at
		 FROM event_guests WHERE event_id = ? ORDER BY created_at ASC`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}
	defer rows.Close()

	var guests []model.Guest
	for rows.Next() {
		var g model.Guest
		if err := rows.Scan(&g.ID, &g.EventID, &g.Email, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan guest: %w", err)
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

func (s *EventStore) RemoveGuest(eventID string, guestID int64) error {
	_, err := s.db.Exec(`DELETE FROM event_guests WHERE id = ? AND event_id = ?`, guestID, eventID)
	if err != nil {
		return fmt.Errorf("remove guest: %w", err)
	}
	return nil
}

// SetReminders replaces the event's reminder lead times wholesale.
func (s *EventStore) SetReminders(eventID string, minutesBefore []int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reminders tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM event_reminders WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("clear reminders: %w", err)
	}
	for _, m := range minutesBefore {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO event_reminders (event_id, minutes_before) VALUES (?, ?)`,
			eventID, m,
		)
		if err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reminders tx: %w", err)
	}
	return nil
}

// ListAllReminders returns every reminder whose event is still live. The
// push scheduler uses this to know which series to expand each tick.
func (s *EventStore) ListAllReminders() ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.event_id, r.minutes_before
		 FROM event_reminders r
		 JOIN events e ON e.id = r.event_id
		 WHERE e.deleted_at IS NULL
		 ORDER BY r.event_id, r.minutes_before ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list all reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.Reminder
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.ID, &r.EventID, &r.MinutesBefore); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *EventStore) ListReminders(eventID string) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, minutes_before
		 FROM event_reminders WHERE event_id = ? ORDER BY minutes_before ASC`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.Reminder
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.ID, &r.EventID, &r.MinutesBefore); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
