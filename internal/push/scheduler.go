package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mclarke/eventide/internal/model"
	"github.com/mclarke/eventide/internal/schedule"
	"github.com/mclarke/eventide/internal/store"
)

// Scheduler periodically checks for event reminders to send. Reminders on a
// recurring series fire for every generated occurrence, deduplicated per
// occurrence identity and lead time.
type Scheduler struct {
	mu       sync.RWMutex
	service  *Service
	push     *store.PushStore
	events   *store.EventStore
	schedule *schedule.Service
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(svc *Service, pushStore *store.PushStore, eventStore *store.EventStore, scheduleSvc *schedule.Service) *Scheduler {
	return &Scheduler{
		service:  svc,
		push:     pushStore,
		events:   eventStore,
		schedule: scheduleSvc,
		interval: 60 * time.Second,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(time.Now().UTC())
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.checkReminders(now)

	// Hourly housekeeping: sent-notification records for occurrences long
	// past serve no dedup purpose.
	if now.Minute() == 0 {
		if err := s.push.CleanupSent(now.AddDate(0, 0, -30)); err != nil {
			log.Printf("push scheduler: cleanup sent: %v", err)
		}
	}
}

func (s *Scheduler) checkReminders(now time.Time) {
	reminders, err := s.events.ListAllReminders()
	if err != nil {
		log.Printf("push scheduler: list reminders: %v", err)
		return
	}
	if len(reminders) == 0 {
		return
	}

	byEvent := make(map[string][]int)
	maxLead := 0
	for _, r := range reminders {
		byEvent[r.EventID] = append(byEvent[r.EventID], r.MinutesBefore)
		if r.MinutesBefore > maxLead {
			maxLead = r.MinutesBefore
		}
	}

	// One listing covers every reminder: an occurrence whose reminder fires
	// this tick starts at most maxLead+interval from now.
	horizon := now.Add(time.Duration(maxLead)*time.Minute + s.interval)
	window, err := s.schedule.ListOccurrences(now, horizon)
	if err != nil {
		log.Printf("push scheduler: list occurrences: %v", err)
		return
	}

	var subs []model.PushSubscription
	loaded := false
	for _, occ := range window.Occurrences {
		leads, ok := byEvent[occ.EventID]
		if !ok {
			continue
		}
		for _, lead := range leads {
			sendAt := occ.StartTime.Add(-time.Duration(lead) * time.Minute)
			if sendAt.After(now.Add(s.interval)) || sendAt.Before(now.Add(-s.interval)) {
				continue
			}

			sent, err := s.push.WasSent(occ.ID, lead)
			if err != nil {
				log.Printf("push scheduler: check sent: %v", err)
				continue
			}
			if sent {
				continue
			}

			if !loaded {
				subs, err = s.push.List()
				if err != nil {
					log.Printf("push scheduler: list subscriptions: %v", err)
					return
				}
				loaded = true
			}

			payload := Payload{
				Title: "Event Reminder",
				Body:  fmt.Sprintf("%s starts in %d minutes", occ.Title, lead),
				URL:   "/calendar",
				Tag:   occ.ID,
			}
			s.sendAll(subs, payload)

			if err := s.push.RecordSent(occ.ID, lead); err != nil {
				log.Printf("push scheduler: record sent: %v", err)
			}
		}
	}
}

func (s *Scheduler) sendAll(subs []model.PushSubscription, payload Payload) {
	for i := range subs {
		if err := s.service.Send(&subs[i], payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(subs[i].Endpoint)
			} else {
				log.Printf("push scheduler: send reminder: %v", err)
			}
		}
	}
}
