package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

// DefaultAdmissionFee is offered in the payment step unless configured otherwise.
var DefaultAdmissionFee = decimal.NewFromInt(3000)

const journalTimeout = 5 * time.Second

type (
	Deps struct {
		Branches Branches
		Validate *validator.Validate
		Sync     *Synchronizer
		Journal  Journal
		Locker   core.Locker // optional
		Mailer   core.EmailService
		Logger   core.Logger

		DefaultFee  decimal.Decimal
		IdleTimeout time.Duration
	}

	// Service runs the enrollment workflow: it opens sessions on reservations and keeps them until
	// they are closed or idle for too long.
	Service struct {
		branches   Branches
		validate   *validator.Validate
		sync       *Synchronizer
		journal    Journal
		locker     core.Locker
		mailer     core.EmailService
		logger     core.Logger
		defaultFee decimal.Decimal
		idle       time.Duration
		sessions   *Registry
	}
)

var newSessionID = uuid.NewString // mockable

func NewService(deps Deps) *Service {
	svc := &Service{
		branches:   deps.Branches,
		validate:   deps.Validate,
		sync:       deps.Sync,
		journal:    deps.Journal,
		locker:     deps.Locker,
		mailer:     deps.Mailer,
		logger:     deps.Logger,
		defaultFee: deps.DefaultFee,
		idle:       deps.IdleTimeout,
		sessions:   NewRegistry(),
	}
	if svc.logger == nil {
		svc.logger = core.NopLogger{}
	}
	if svc.validate == nil {
		svc.validate, _ = reservation.NewValidator()
	}
	if svc.sync == nil {
		svc.sync = NewSynchronizer(nil, svc.logger)
	}
	if !svc.defaultFee.IsPositive() {
		svc.defaultFee = DefaultAdmissionFee
	}
	return svc
}

func (svc *Service) DefaultFee() decimal.Decimal { return svc.defaultFee }

// Subscribe forwards the committed-write events.
func (svc *Service) Subscribe(buffer int) (<-chan Event, func()) { return svc.sync.Subscribe(buffer) }

// Open loads the reservation and opens a session on it.
func (svc *Service) Open(ctx context.Context, op core.Session, reservationID int) (*Session, error) {
	adapter, err := svc.branches.Adapter(op)
	if err != nil {
		return nil, errors.Wrap(err, "enrollment.Open")
	}
	res, err := adapter.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, errors.Wrap(err, "enrollment.Open")
	}

	s := newSession(newSessionID(), op, svc, adapter, res)
	svc.sessions.Add(s)
	svc.record(ctx, s.entry(ActionOpen, OutcomeOK, nil))
	return s, nil
}

// Session returns the open session `id` if it belongs to the operator.
func (svc *Service) Session(op core.Session, id string) (*Session, error) {
	s, ok := svc.sessions.Get(id)
	if !ok || s.Operator.UserID != op.UserID || s.Operator.BranchID != op.BranchID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and forgets the session.
func (svc *Service) Close(op core.Session, id string) error {
	s, err := svc.Session(op, id)
	if err != nil {
		return err
	}
	svc.sessions.Remove(id)
	s.Close()
	return nil
}

// OpenSessions returns the number of open sessions.
func (svc *Service) OpenSessions() int { return svc.sessions.Len() }

// History returns the journal of a reservation of the operator's branch.
func (svc *Service) History(ctx context.Context, op core.Session, reservationID int) ([]Entry, error) {
	if svc.journal == nil {
		return []Entry{}, nil
	}
	entries, err := svc.journal.ListByReservation(ctx, op.BranchID, reservationID)
	if err != nil {
		return nil, errors.Wrap(err, "enrollment.History")
	}
	return entries, nil
}

// Sweep closes the sessions idle for longer than the idle timeout and returns how many were closed.
func (svc *Service) Sweep() int {
	if svc.idle <= 0 {
		return 0
	}
	idle := svc.sessions.Idle(nowFunc().Add(-svc.idle))
	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		svc.logger.Info(fmt.Sprintf("enrollment: closed %d idle session(s)", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle sessions every `every` until ctx is done, then closes all remaining sessions.
func (svc *Service) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, s := range svc.sessions.Idle(farFuture) {
				s.Close()
			}
			return
		case <-ticker.C:
			svc.Sweep()
		}
	}
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func lockKey(op core.Session, reservationID int) string {
	return fmt.Sprintf("enrollment:%d:%d", op.BranchID, reservationID)
}

// lock takes the cross-instance lock of a reservation.
func (svc *Service) lock(ctx context.Context, op string, sess core.Session, reservationID int) (func(), error) {
	if svc.locker == nil {
		return func() {}, nil
	}
	unlock, err := svc.locker.Obtain(ctx, lockKey(sess, reservationID))
	if err != nil {
		if errors.Is(err, core.ErrLocked) {
			return nil, core.NewStateError(op, core.ErrLocked)
		}
		return nil, errors.Wrap(err, op)
	}
	return unlock, nil
}

// record journals an entry. Journal failures are logged and never fail the workflow.
func (svc *Service) record(ctx context.Context, entry Entry) {
	if svc.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowFunc().UTC()
	}
	if _, err := svc.journal.Record(ctx, entry); err != nil {
		svc.logger.Error(errors.Wrap(err, "enrollment: journal.Record").Error(), map[string]interface{}{
			"session_id":     entry.SessionID,
			"reservation_id": entry.ReservationID,
			"action":         entry.Action,
		})
	}
}

// mailReceipt emails the receipt to the guardian, if any.
func (svc *Service) mailReceipt(
	res reservation.Reservation,
	student CreatedStudent,
	receipt Receipt,
	amount decimal.Decimal,
	method PaymentMethod,
	op core.Session,
) {
	if svc.mailer == nil {
		return
	}
	msg, err := receiptMessage(res, student, receipt, amount, method)
	if err != nil {
		svc.logger.Warn(errors.Wrap(err, "enrollment: receipt email").Error(), op)
		return
	}
	if msg != nil {
		svc.mailer.SendMessages(msg)
	}
}
