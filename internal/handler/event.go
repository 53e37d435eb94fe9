package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/recurrence"
	"github.com/mclarke/eventide/internal/schedule"
	"github.com/mclarke/eventide/internal/series"
	"github.com/mclarke/eventide/internal/store"
	ws "github.com/mclarke/eventide/internal/websocket"
)

type EventHandler struct {
	svc    *schedule.Service
	events *store.EventStore
	hub    *ws.Hub
	logger *slog.Logger
}

func NewEventHandler(svc *schedule.Service, events *store.EventStore, hub *ws.Hub, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, events: events, hub: hub, logger: logger}
}

type recurrenceRequest struct {
	Kind       string `json:"kind"`
	Interval   int    `json:"interval"`
	Unit       string `json:"unit"`
	DaysOfWeek []int  `json:"days_of_week"`
	End        struct {
		Kind  string `json:"kind"`
		Date  string `json:"date"`
		Count int    `json:"count"`
	} `json:"end"`
}

func (r *recurrenceRequest) rule() (*recurrence.Rule, error) {
	endKind := recurrence.EndKind(r.End.Kind)
	if r.End.Kind == "" {
		endKind = recurrence.EndNever
	}
	end := recurrence.End{Kind: endKind, Count: r.End.Count}
	if r.End.Date != "" {
		date, err := parseFlexibleTime(r.End.Date)
		if err != nil {
			return nil, err
		}
		end.Date = date
	}

	var days []time.Weekday
	for _, d := range r.DaysOfWeek {
		days = append(days, time.Weekday(d))
	}

	rule, err := recurrence.New(recurrence.Kind(r.Kind), r.Interval, recurrence.Unit(r.Unit), days, end)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

type eventRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Location    string             `json:"location"`
	Label       string             `json:"label"`
	StartTime   string             `json:"start_time"`
	EndTime     string             `json:"end_time"`
	AllDay      bool               `json:"all_day"`
	Timezone    string             `json:"timezone"`
	Recurrence  *recurrenceRequest `json:"recurrence"`
	Reminders   []int              `json:"reminders"`
}

// Create handles POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 format")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339 format")
		return
	}

	draft := model.Event{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Label:       req.Label,
		StartTime:   startTime,
		EndTime:     endTime,
		AllDay:      req.AllDay,
		Timezone:    req.Timezone,
	}
	if req.Recurrence != nil {
		rule, err := req.Recurrence.rule()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		draft.Rule = rule
	}

	event, err := h.svc.CreateEvent(draft)
	if err != nil {
		if errors.Is(err, series.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	if len(req.Reminders) > 0 {
		if err := h.events.SetReminders(event.ID, req.Reminders); err != nil {
			h.logger.Error("set reminders", "event_id", event.ID, "error", err)
		}
	}

	h.hub.Broadcast(ws.NewMessage("event", "created", event.ID, nil))
	writeJSON(w, http.StatusCreated, event)
}

// List handles GET /api/events?start=...&end=...
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	start, err := parseFlexibleTime(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD format")
		return
	}
	end, err := parseFlexibleTime(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD format")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	window, err := h.svc.ListOccurrences(start, end)
	if err != nil {
		h.logger.Error("list occurrences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// include_recurring=false drops generated instances, leaving only rows.
	if r.URL.Query().Get("include_recurring") == "false" {
		kept := window.Occurrences[:0]
		for _, occ := range window.Occurrences {
			if _, _, ok := recurrence.ParseInstanceID(occ.ID); !ok {
				kept = append(kept, occ)
			}
		}
		window.Occurrences = kept
	}

	writeJSON(w, http.StatusOK, window)
}

// Get handles GET /api/events/{id}. The id may name a stored event or a
// generated occurrence of a recurring series.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.GetOccurrence(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get occurrence", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if occ == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

type eventPatchRequest struct {
	Title           *string            `json:"title"`
	Description     *string            `json:"description"`
	Location        *string            `json:"location"`
	Label           *string            `json:"label"`
	StartTime       *string            `json:"start_time"`
	EndTime         *string            `json:"end_time"`
	AllDay          *bool              `json:"all_day"`
	Status          *string            `json:"status"`
	Recurrence      *recurrenceRequest `json:"recurrence"`
	ClearRecurrence bool               `json:"clear_recurrence"`
}

func (req *eventPatchRequest) patch() (series.Patch, error) {
	p := series.Patch{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Label:       req.Label,
		AllDay:      req.AllDay,
		ClearRule:   req.ClearRecurrence,
	}
	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			return p, errors.New("start_time must be RFC3339 format")
		}
		p.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			return p, errors.New("end_time must be RFC3339 format")
		}
		p.EndTime = &t
	}
	if req.Status != nil {
		status := model.EventStatus(*req.Status)
		switch status {
		case model.StatusActive, model.StatusCancelled, model.StatusCompleted:
		default:
			return p, errors.New("invalid status")
		}
		p.Status = &status
	}
	if req.Recurrence != nil {
		rule, err := req.Recurrence.rule()
		if err != nil {
			return p, err
		}
		p.Rule = rule
	}
	return p, nil
}

// Update handles PUT /api/events/{id}?scope=single|future|all
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	scope, err := series.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req eventPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	event, err := h.svc.UpdateEvent(id, scope, patch)
	if err != nil {
		h.writeMutationError(w, "update event", id, err)
		return
	}

	h.hub.Broadcast(ws.NewMessage("event", "updated", event.ID, map[string]any{"scope": string(scope)}))
	writeJSON(w, http.StatusOK, event)
}

// Delete handles DELETE /api/events/{id}?scope=single|future|all
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, err := series.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	if err := h.svc.DeleteEvent(id, scope); err != nil {
		h.writeMutationError(w, "delete event", id, err)
		return
	}

	h.hub.Broadcast(ws.NewMessage("event", "deleted", id, map[string]any{"scope": string(scope)}))
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) writeMutationError(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, series.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, series.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "event was modified concurrently, retry")
	default:
		h.logger.Error(op, "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

type guestRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AddGuest handles POST /api/events/{id}/guests
func (h *EventHandler) AddGuest(w http.ResponseWriter, r *http.Request) {
	event, err := h.requireConcreteEvent(w, r)
	if err != nil {
		return
	}

	var req guestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	guest, err := h.events.AddGuest(event.ID, req.Email, req.Name)
	if err != nil {
		h.logger.Error("add guest", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add guest")
		return
	}
	writeJSON(w, http.StatusCreated, guest)
}

// ListGuests handles GET /api/events/{id}/guests
func (h *EventHandler) ListGuests(w http.ResponseWriter, r *http.Request) {
	event, err := h.requireConcreteEvent(w, r)
	if err != nil {
		return
	}

	guests, err := h.events.ListGuests(event.ID)
	if err != nil {
		h.logger.Error("list guests", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list guests")
		return
	}
	if guests == nil {
		guests = []model.Guest{}
	}
	writeJSON(w, http.StatusOK, guests)
}

// RemoveGuest handles DELETE /api/events/{id}/guests/{guest_id}
func (h *EventHandler) RemoveGuest(w http.ResponseWriter, r *http.Request) {
	event, err := h.requireConcreteEvent(w, r)
	if err != nil {
		return
	}

	guestID, err := strconv.ParseInt(r.PathValue("guest_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid guest id")
		return
	}
	if err := h.events.RemoveGuest(event.ID, guestID); err != nil {
		h.logger.Error("remove guest", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove guest")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type remindersRequest struct {
	Reminders []int `json:"reminders"`
}

// SetReminders handles PUT /api/events/{id}/reminders
func (h *EventHandler) SetReminders(w http.ResponseWriter, r *http.Request) {
	event, err := h.requireConcreteEvent(w, r)
	if err != nil {
		return
	}

	var req remindersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, m := range req.Reminders {
		if m < 0 {
			writeError(w, http.StatusBadRequest, "reminder lead times must be non-negative")
			return
		}
	}

	if err := h.events.SetReminders(event.ID, req.Reminders); err != nil {
		h.logger.Error("set reminders", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set reminders")
		return
	}

	reminders, err := h.events.ListReminders(event.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	if reminders == nil {
		reminders = []model.Reminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// requireConcreteEvent resolves {id} to a stored event row. Guests and
// reminders attach to rows, so a virtual occurrence id resolves to its
// series parent.
func (h *EventHandler) requireConcreteEvent(w http.ResponseWriter, r *http.Request) (*model.Event, error) {
	id := r.PathValue("id")
	if parentID, _, ok := recurrence.ParseInstanceID(id); ok {
		id = parentID
	}

	event, err := h.events.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return nil, err
	}
	if event == nil || event.DeletedAt != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return nil, errors.New("not found")
	}
	return event, nil
}
