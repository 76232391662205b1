package enrollment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

type State string

// States of an enrollment session.
const (
	StateView      State = "VIEW"
	StateEdit      State = "EDIT"
	StateEnrolling State = "ENROLLING"
	StatePayment   State = "PAYMENT"
	StateEnrolled  State = "ENROLLED"
	StateClosed    State = "CLOSED"
)

var nowFunc = time.Now // mockable

// Session is an open enrollment panel on one reservation. It serializes its own operations:
// a second operation while one is in flight fails with ErrBusy.
type Session struct {
	ID            string
	Operator      core.Session
	ReservationID int

	svc     *Service
	adapter BranchAdapter

	// cancelled on Close, every in-flight backend call derives from it
	ctx    context.Context
	cancel context.CancelFunc
	busy   sync.Mutex

	mu        sync.RWMutex
	state     State
	snapshot  reservation.Reservation
	draft     *reservation.Edit
	ignored   []string
	student   *CreatedStudent
	receipt   *Receipt
	lastError string
	lastUsed  time.Time
}

type (
	// View is a read-only rendering of a session.
	View struct {
		ID           string                  `json:"id"`
		State        State                   `json:"state"`
		Reservation  reservation.Reservation `json:"reservation"`
		Actions      reservation.Actions     `json:"actions"`
		Draft        *reservation.Edit       `json:"draft,omitempty"`
		LockedFields []string                `json:"locked_fields,omitempty"`
		Ignored      []string                `json:"ignored_fields,omitempty"`
		Student      *CreatedStudent         `json:"student,omitempty"`
		AdmissionFee decimal.Decimal         `json:"admission_fee"`
		Receipt      *Receipt                `json:"receipt,omitempty"`
		Error        string                  `json:"error,omitempty"`
	}

	// Payment is the operator's input in the payment step.
	Payment struct {
		Amount  decimal.NullDecimal `json:"paid_amount"` // default admission fee when missing
		Method  PaymentMethod       `json:"payment_method" validate:"required,oneof=CASH ONLINE"`
		Remarks string              `json:"remarks"`
	}
)

func newSession(id string, op core.Session, svc *Service, adapter BranchAdapter, res reservation.Reservation) *Session {
	ctx, cancel := context.WithCancel(core.WithSession(context.Background(), op))
	s := &Session{
		ID:            id,
		Operator:      op,
		ReservationID: res.ID,
		svc:           svc,
		adapter:       adapter,
		ctx:           ctx,
		cancel:        cancel,
		state:         StateView,
		snapshot:      res,
		lastUsed:      nowFunc(),
	}
	if res.IsEnrolled {
		s.state = StateEnrolled
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// View renders the session.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view()
}

func (s *Session) view() View {
	v := View{
		ID:           s.ID,
		State:        s.state,
		Reservation:  s.snapshot,
		Actions:      s.snapshot.Actions(),
		Ignored:      s.ignored,
		AdmissionFee: s.svc.defaultFee,
		Error:        s.lastError,
	}
	if s.state != StateView {
		v.Actions.CanEdit, v.Actions.CanEnroll = false, false
	}
	if s.receipt != nil {
		v.Actions.CanPay = false
		v.Actions.FeeIndicator = reservation.IndicatorPaid
		receipt := *s.receipt
		v.Receipt = &receipt
	}
	if s.state == StateEdit && s.draft != nil {
		draft := *s.draft
		v.Draft = &draft
		if s.snapshot.ConcessionLock {
			v.LockedFields = reservation.LockedFields
		}
	}
	if student := s.currentStudent(); student != nil {
		v.Student = student
	}
	return v
}

func (s *Session) currentStudent() *CreatedStudent {
	if s.student != nil {
		student := *s.student
		return &student
	}
	if s.snapshot.IsEnrolled && s.snapshot.StudentID > 0 {
		return &CreatedStudent{StudentID: s.snapshot.StudentID, AdmissionNo: s.snapshot.AdmissionNo}
	}
	return nil
}

func (s *Session) isPaid() bool { return s.receipt != nil || s.snapshot.AdmissionFeePaid() }

// begin marks the session busy for the duration of one operation.
func (s *Session) begin(op string) (release func(), err error) {
	if !s.busy.TryLock() {
		return nil, core.NewStateError(op, ErrBusy)
	}
	if s.closed() {
		s.busy.Unlock()
		return nil, core.NewStateError(op, ErrClosed)
	}
	s.touch()
	return func() {
		s.touch()
		s.busy.Unlock()
	}, nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = nowFunc()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

func (s *Session) closed() bool { return s.ctx.Err() != nil }

// opContext derives the context of a backend call: it ends when either the request or the session ends.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Session) entry(action Action, outcome Outcome, err error) Entry {
	e := Entry{
		SessionID:      s.ID,
		BranchID:       s.Operator.BranchID,
		AcademicYearID: s.Operator.AcademicYearID,
		ReservationID:  s.ReservationID,
		Operator:       s.Operator.Operator(),
		Action:         action,
		Outcome:        outcome,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// BeginEdit moves VIEW to EDIT with a draft of the last-loaded snapshot.
func (s *Session) BeginEdit() (View, error) {
	const op = "enrollment.BeginEdit"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapshot.CanEdit() {
		return s.view(), core.NewStateError(op, ErrNotEditable)
	}
	if s.state != StateView {
		return s.view(), core.NewStateError(op, ErrWrongState)
	}
	draft := reservation.EditFrom(s.snapshot)
	s.draft = &draft
	s.ignored = nil
	s.lastError = ""
	s.state = StateEdit
	return s.view(), nil
}

// CancelEdit discards the draft and restores the last-loaded snapshot.
func (s *Session) CancelEdit() (View, error) {
	const op = "enrollment.CancelEdit"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	if s.state != StateEdit {
		defer s.mu.Unlock()
		return s.view(), core.NewStateError(op, ErrNotEditing)
	}
	s.draft = nil
	s.ignored = nil
	s.lastError = ""
	s.state = StateView
	v := s.view()
	s.mu.Unlock()

	s.svc.record(s.ctx, s.entry(ActionCancelEdit, OutcomeOK, nil))
	return v, nil
}

// Save validates edit and sends it to the backend. On success the canonical record is reloaded and the
// session returns to VIEW; on failure it stays in EDIT with the edit preserved as the draft.
func (s *Session) Save(ctx context.Context, edit reservation.Edit) (View, error) {
	const op = "enrollment.Save"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	if s.state != StateEdit {
		defer s.mu.Unlock()
		return s.view(), core.NewStateError(op, ErrNotEditing)
	}
	snapshot := s.snapshot
	edit.Clean(s.Operator.IsCollege())
	ignored := edit.Guard(snapshot)
	draft := edit
	s.draft = &draft
	s.ignored = ignored
	s.mu.Unlock()

	if err := s.svc.validate.Struct(edit); err != nil {
		s.setError("")
		s.svc.record(s.ctx, s.entry(ActionSave, OutcomeRejected, err))
		return s.View(), err
	}

	opCtx, done := s.opContext(ctx)
	defer done()

	unlock, err := s.svc.lock(opCtx, op, s.Operator, snapshot.ID)
	if err != nil {
		return s.View(), err
	}
	defer unlock()

	updated, err := s.adapter.UpdateReservation(opCtx, snapshot.ID, edit)
	if s.closed() {
		if err == nil {
			s.svc.sync.Invalidate(context.Background())
		}
		s.svc.record(context.Background(), s.entry(ActionSave, OutcomeCancelled, err))
		return s.View(), core.NewStateError(op, ErrClosed)
	}
	if err != nil {
		s.setError(core.UserMessage(err, msgSaveFailed))
		s.svc.logger.Error(errors.Wrap(err, op).Error(), s.Operator)
		s.svc.record(s.ctx, s.entry(ActionSave, OutcomeFailed, err))
		return s.View(), errors.Wrap(err, op)
	}

	canonical, err := s.adapter.GetReservation(opCtx, snapshot.ID)
	if err != nil {
		s.svc.logger.Warn(errors.Wrap(err, op+": reload").Error(), s.Operator)
		canonical = updated
		if canonical.ID == 0 {
			canonical = edit.Apply(snapshot)
		}
	}
	s.svc.sync.Invalidate(opCtx)
	s.svc.sync.publish(Event{
		Kind:          EventReservationSaved,
		BranchID:      s.Operator.BranchID,
		ReservationID: snapshot.ID,
		Confirmed:     err == nil,
		At:            nowFunc(),
	})

	s.mu.Lock()
	s.snapshot = canonical
	s.draft = nil
	s.lastError = ""
	s.state = StateView
	v := s.view()
	s.mu.Unlock()

	entry := s.entry(ActionSave, OutcomeOK, nil)
	entry.Diff = EditDiff(reservation.EditFrom(snapshot), edit)
	s.svc.record(s.ctx, entry)
	return v, nil
}

// Enroll creates the Student from the current snapshot. On success the session moves to PAYMENT
// (or ENROLLED when the admission fee is already recorded); on failure it returns to VIEW.
func (s *Session) Enroll(ctx context.Context) (View, error) {
	const op = "enrollment.Enroll"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	switch {
	case s.snapshot.IsEnrolled:
		err = ErrAlreadyEnrolled
	case s.state != StateView:
		err = ErrWrongState
	case !s.snapshot.CanEnroll():
		err = ErrNotEnrollable
	}
	if err != nil {
		defer s.mu.Unlock()
		return s.view(), core.NewStateError(op, err)
	}
	s.state = StateEnrolling
	s.lastError = ""
	snapshot := s.snapshot
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	fail := func(err error, msg string) (View, error) {
		s.mu.Lock()
		if s.state == StateEnrolling {
			s.state = StateView
		}
		s.lastError = msg
		s.mu.Unlock()
		s.svc.logger.Error(errors.Wrap(err, op).Error(), s.Operator)
		s.svc.record(s.ctx, s.entry(ActionEnroll, OutcomeFailed, err))
		return s.View(), errors.Wrap(err, op)
	}

	unlock, err := s.svc.lock(opCtx, op, s.Operator, snapshot.ID)
	if err != nil {
		s.mu.Lock()
		s.state = StateView
		s.mu.Unlock()
		return s.View(), err
	}
	defer unlock()

	created, err := s.adapter.CreateStudent(opCtx, snapshot.ID, NewStudentFrom(snapshot))
	if s.closed() {
		entry := s.entry(ActionEnroll, OutcomeCancelled, err)
		if err == nil {
			// the student exists even though nobody is looking anymore
			entry.StudentID = created.StudentID
			s.svc.sync.Invalidate(context.Background())
		}
		s.svc.record(context.Background(), entry)
		return s.View(), core.NewStateError(op, ErrClosed)
	}
	if err != nil {
		return fail(err, core.UserMessage(err, msgEnrollFailed))
	}

	res, confirmed, err := s.svc.sync.Committed(opCtx, s.adapter, Event{
		Kind:          EventStudentCreated,
		BranchID:      s.Operator.BranchID,
		ReservationID: snapshot.ID,
		StudentID:     created.StudentID,
	}, func(r reservation.Reservation) bool { return r.IsEnrolled })
	if err != nil {
		s.svc.logger.Warn(err.Error(), s.Operator)
		res = snapshot
	}
	if !confirmed {
		res.IsEnrolled = true
		res.StudentID = created.StudentID
		res.AdmissionNo = created.AdmissionNo
	}

	s.mu.Lock()
	if s.state == StateClosed {
		v := s.view()
		s.mu.Unlock()
		entry := s.entry(ActionEnroll, OutcomeCancelled, nil)
		entry.StudentID = created.StudentID
		s.svc.record(context.Background(), entry)
		return v, core.NewStateError(op, ErrClosed)
	}
	s.student = &created
	s.snapshot = res
	if s.isPaid() {
		s.state = StateEnrolled
	} else {
		s.state = StatePayment
	}
	v := s.view()
	s.mu.Unlock()

	entry := s.entry(ActionEnroll, OutcomeOK, nil)
	entry.StudentID = created.StudentID
	s.svc.record(s.ctx, entry)
	return v, nil
}

// OpenPayment reopens the payment step for an enrolled student who has not paid.
func (s *Session) OpenPayment() (View, error) {
	const op = "enrollment.OpenPayment"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.isPaid():
		return s.view(), core.NewStateError(op, ErrAlreadyPaid)
	case s.currentStudent() == nil:
		return s.view(), core.NewStateError(op, ErrNotEnrolled)
	case s.state != StateEnrolled && s.state != StatePayment:
		return s.view(), core.NewStateError(op, ErrWrongState)
	}
	s.state = StatePayment
	s.lastError = ""
	return s.view(), nil
}

// DismissPayment closes the payment step without paying.
func (s *Session) DismissPayment() (View, error) {
	const op = "enrollment.DismissPayment"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePayment {
		return s.view(), core.NewStateError(op, ErrWrongState)
	}
	s.state = StateEnrolled
	return s.view(), nil
}

// Pay records the admission fee. A failed payment closes the payment step and leaves the student
// enrolled and unpaid.
func (s *Session) Pay(ctx context.Context, p Payment) (View, error) {
	const op = "enrollment.Pay"
	release, err := s.begin(op)
	if err != nil {
		return s.View(), err
	}
	defer release()

	s.mu.Lock()
	student := s.currentStudent()
	switch {
	case s.isPaid():
		err = ErrAlreadyPaid
	case student == nil:
		err = ErrNotEnrolled
	case s.state != StatePayment:
		err = ErrWrongState
	}
	if err != nil {
		defer s.mu.Unlock()
		return s.view(), core.NewStateError(op, err)
	}
	snapshot := s.snapshot
	s.mu.Unlock()

	p.Method = PaymentMethod(strings.ToUpper(core.CleanString(string(p.Method))))
	p.Remarks = core.CollapseSpaces(p.Remarks)
	if err := s.svc.validate.Struct(p); err != nil {
		return s.View(), err
	}
	amount := s.svc.defaultFee
	if p.Amount.Valid {
		amount = p.Amount.Decimal
	}
	if !amount.IsPositive() {
		return s.View(), core.NewValidationError(nil, core.FieldError{Field: "paid_amount", Error: "amount must be greater than 0"})
	}

	opCtx, done := s.opContext(ctx)
	defer done()

	unlock, err := s.svc.lock(opCtx, op, s.Operator, snapshot.ID)
	if err != nil {
		return s.View(), err
	}
	defer unlock()

	receipt, err := s.adapter.PayByStudent(opCtx, student.StudentID, PayRequest{
		Details: []PaymentDetail{{Purpose: PurposeAdmissionFee, PaidAmount: amount, PaymentMethod: p.Method}},
		Remarks: p.Remarks,
	})
	if s.closed() {
		entry := s.entry(ActionPay, OutcomeCancelled, err)
		entry.StudentID = student.StudentID
		entry.Amount = decimal.NewNullDecimal(amount)
		if err == nil {
			entry.ReceiptNo = receipt.Number
			s.svc.sync.Invalidate(context.Background())
		}
		s.svc.record(context.Background(), entry)
		return s.View(), core.NewStateError(op, ErrClosed)
	}

	entry := s.entry(ActionPay, OutcomeOK, err)
	entry.StudentID = student.StudentID
	entry.Amount = decimal.NewNullDecimal(amount)
	if err != nil {
		s.mu.Lock()
		s.state = StateEnrolled
		s.lastError = core.UserMessage(err, msgPaymentFailed)
		s.mu.Unlock()
		s.svc.logger.Error(errors.Wrap(err, op).Error(), s.Operator)
		entry.Outcome = OutcomeFailed
		s.svc.record(s.ctx, entry)
		return s.View(), errors.Wrap(err, op)
	}

	res, confirmed, err := s.svc.sync.Committed(opCtx, s.adapter, Event{
		Kind:          EventPaymentRecorded,
		BranchID:      s.Operator.BranchID,
		ReservationID: snapshot.ID,
		StudentID:     student.StudentID,
	}, func(r reservation.Reservation) bool { return r.AdmissionFeePaid() })
	if err != nil {
		s.svc.logger.Warn(err.Error(), s.Operator)
		res = snapshot
	}
	if !confirmed && receipt.IncomeID > 0 {
		incomeID := receipt.IncomeID
		res.AdmissionIncomeID = &incomeID
	}

	s.mu.Lock()
	if s.state == StateClosed {
		v := s.view()
		s.mu.Unlock()
		entry.Outcome = OutcomeCancelled
		entry.ReceiptNo = receipt.Number
		s.svc.record(context.Background(), entry)
		return v, core.NewStateError(op, ErrClosed)
	}
	s.receipt = &receipt
	s.snapshot = res
	s.state = StateEnrolled
	s.lastError = ""
	v := s.view()
	s.mu.Unlock()

	entry.ReceiptNo = receipt.Number
	s.svc.record(s.ctx, entry)
	s.svc.mailReceipt(res, *student, receipt, amount, p.Method, s.Operator)
	return v, nil
}

// Receipt returns the receipt of the payment made in this session.
func (s *Session) Receipt() (Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.receipt == nil {
		return Receipt{}, core.NewStateError("enrollment.Receipt", ErrNoReceipt)
	}
	return *s.receipt, nil
}

// Close cancels any in-flight call and releases the receipt. Closing twice is a no-op.
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.receipt = nil
	s.draft = nil
	s.mu.Unlock()

	s.svc.record(context.Background(), s.entry(ActionClose, OutcomeOK, nil))
}
