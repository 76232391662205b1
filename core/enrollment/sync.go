package enrollment

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

type EventKind string

// Event kinds
const (
	EventStudentCreated   EventKind = "student_created"
	EventPaymentRecorded  EventKind = "payment_recorded"
	EventReservationSaved EventKind = "reservation_saved"
)

// Event signals that a write was committed by the backend.
type Event struct {
	Kind          EventKind `json:"kind"`
	BranchID      int       `json:"branch_id"`
	ReservationID int       `json:"reservation_id"`
	StudentID     int       `json:"student_id,omitempty"`
	Confirmed     bool      `json:"confirmed"`
	At            time.Time `json:"at"`
}

// invalidated on every committed write
var syncGroups = []string{core.CacheGroupReservations, core.CacheGroupStudents, core.CacheGroupAdmissions}

// Synchronizer keeps query caches coherent after writes: it invalidates the cached groups, re-fetches the
// written reservation until the backend confirms the write, then notifies subscribers.
type Synchronizer struct {
	cache  core.QueryCache
	delays []time.Duration
	logger core.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

var afterFunc = time.After // mockable

// NewSynchronizer returns a Synchronizer. delays are optional pauses between confirmation attempts
// for backends with replication lag.
func NewSynchronizer(cache core.QueryCache, logger core.Logger, delays ...time.Duration) *Synchronizer {
	return &Synchronizer{cache: cache, delays: delays, logger: logger, subs: make(map[int]chan Event)}
}

// Invalidate drops the cached reservation, student and admission queries.
func (s *Synchronizer) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateGroups(ctx, syncGroups...); err != nil {
		s.logger.Warn(errors.Wrap(err, "enrollment.Synchronizer: cache.InvalidateGroups").Error())
	}
}

// Committed invalidates the caches and re-fetches the reservation until confirmed reports true or the
// configured delays are exhausted. The last fetched record is returned with the confirmation outcome.
func (s *Synchronizer) Committed(
	ctx context.Context,
	reader reservation.Reader,
	ev Event,
	confirmed func(reservation.Reservation) bool,
) (reservation.Reservation, bool, error) {
	s.Invalidate(ctx)

	var (
		res reservation.Reservation
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = reader.GetReservation(ctx, ev.ReservationID)
		if err == nil && confirmed(res) {
			ev.Confirmed = true
			break
		}
		if attempt >= len(s.delays) {
			break
		}
		select {
		case <-ctx.Done():
			return res, false, ctx.Err()
		case <-afterFunc(s.delays[attempt]):
		}
	}

	// a write between the first invalidation and the confirmation could have been cached again
	if len(s.delays) > 0 {
		s.Invalidate(ctx)
	}

	ev.At = time.Now()
	s.publish(ev)

	if err != nil {
		return res, false, errors.Wrap(err, "enrollment.Synchronizer: reader.GetReservation")
	}
	return res, ev.Confirmed, nil
}

// Subscribe returns a channel of committed events and a function to stop the subscription.
// Events are dropped for subscribers that do not keep up.
func (s *Synchronizer) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Synchronizer) publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("enrollment.Synchronizer: subscriber is full, event dropped", map[string]interface{}{"event": ev})
		}
	}
}
