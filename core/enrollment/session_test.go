package enrollment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

var operator = core.Session{
	UserID:         "7",
	Username:       "desk",
	BranchID:       3,
	BranchType:     core.BranchSchool,
	AcademicYearID: 2024,
	Token:          "token",
}

func johnDoe() reservation.Reservation {
	return reservation.Reservation{
		ID:                42,
		ReservationNo:     "RES-2024-0042",
		BranchID:          3,
		AcademicYearID:    2024,
		Status:            reservation.StatusConfirmed,
		StudentName:       "John Doe",
		FatherName:        "Richard Doe",
		FatherMobile:      "9876543210",
		GuardianEmail:     "richard@doe.test",
		PreferredClassID:  6,
		ClassName:         "VI",
		TuitionFee:        decimal.NewFromInt(20000),
		TuitionConcession: decimal.NewFromInt(1000),
	}
}

type fixture struct {
	svc     *Service
	adapter *adapterMock
	journal *journalMock
	mailer  *mailerMock
}

func newFixture(t *testing.T, records ...reservation.Reservation) fixture {
	t.Helper()
	adapter := newAdapterMock(records...)
	journal := &journalMock{}
	mailer := &mailerMock{}
	svc := NewService(Deps{
		Branches: branchesMock{adapter: adapter},
		Journal:  journal,
		Mailer:   mailer,
		Logger:   core.NopLogger{},
	})
	return fixture{svc: svc, adapter: adapter, journal: journal, mailer: mailer}
}

func (f fixture) open(t *testing.T, id int) *Session {
	t.Helper()
	s, err := f.svc.Open(context.Background(), operator, id)
	require.NoError(t, err)
	return s
}

func TestOpen(t *testing.T) {
	enrolled := johnDoe()
	enrolled.ID = 43
	enrolled.IsEnrolled = true
	enrolled.StudentID = 500

	f := newFixture(t, johnDoe(), enrolled)

	s := f.open(t, 42)
	assert.Equal(t, StateView, s.State())
	assert.True(t, s.View().Actions.CanEnroll)

	s2 := f.open(t, 43)
	assert.Equal(t, StateEnrolled, s2.State())
	v := s2.View()
	assert.False(t, v.Actions.CanEnroll)
	assert.Equal(t, reservation.IndicatorEnrolled, v.Actions.Indicator)
	assert.True(t, v.Actions.CanPay)

	_, err := f.svc.Open(context.Background(), operator, 99)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	assert.Equal(t, 2, f.svc.OpenSessions())
}

func TestSession_enrollUnavailable(t *testing.T) {
	for _, status := range []reservation.Status{reservation.StatusPending, reservation.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			r := johnDoe()
			r.Status = status
			f := newFixture(t, r)
			s := f.open(t, r.ID)

			assert.False(t, s.View().Actions.CanEnroll)
			_, err := s.Enroll(context.Background())
			assert.True(t, errors.Is(err, ErrNotEnrollable))
			assert.Empty(t, f.adapter.students, "backend not called")
			assert.Equal(t, StateView, s.State())
		})
	}

	t.Run("already enrolled", func(t *testing.T) {
		r := johnDoe()
		r.IsEnrolled = true
		r.StudentID = 500
		f := newFixture(t, r)
		s := f.open(t, r.ID)

		_, err := s.Enroll(context.Background())
		assert.True(t, errors.Is(err, ErrAlreadyEnrolled))
		assert.Empty(t, f.adapter.students)
	})
}

// Given a CONFIRMED reservation for "John Doe", enrolling moves to the payment step showing the
// admission number and the default fee.
func TestSession_Enroll(t *testing.T) {
	f := newFixture(t, johnDoe())
	events, stop := f.svc.Subscribe(4)
	defer stop()
	s := f.open(t, 42)

	v, err := s.Enroll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatePayment, v.State)
	require.NotNil(t, v.Student)
	assert.Equal(t, 501, v.Student.StudentID)
	assert.Equal(t, "STU2024999", v.Student.AdmissionNo)
	assert.True(t, v.AdmissionFee.Equal(decimal.NewFromInt(3000)))
	assert.True(t, v.Reservation.IsEnrolled)
	assert.Equal(t, reservation.IndicatorEnrolled, v.Actions.Indicator)
	assert.False(t, v.Actions.CanEnroll)
	assert.False(t, v.Actions.CanEdit)

	require.Len(t, f.adapter.students, 1)
	assert.Equal(t, "John Doe", f.adapter.students[0].StudentName)
	assert.Equal(t, 42, f.adapter.students[0].ReservationID)

	select {
	case ev := <-events:
		assert.Equal(t, EventStudentCreated, ev.Kind)
		assert.Equal(t, 42, ev.ReservationID)
		assert.Equal(t, 501, ev.StudentID)
		assert.True(t, ev.Confirmed)
	default:
		t.Fatal("no committed event")
	}

	_, err = s.Enroll(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyEnrolled), "enrollment is idempotent")
	assert.Len(t, f.adapter.students, 1)

	assert.Equal(t, []string{"open:ok", "enroll:ok"}, f.journal.actions())
}

// A create-student response without any student id is a visible error and never reaches payment.
func TestSession_Enroll_missingStudentID(t *testing.T) {
	f := newFixture(t, johnDoe())
	_, shapeErr := ParseCreatedStudent([]byte(`{"message":"created","data":{"admission_no":"STU2024999"}}`))
	require.Error(t, shapeErr)
	f.adapter.createEr = shapeErr
	s := f.open(t, 42)

	v, err := s.Enroll(context.Background())
	require.Error(t, err)

	var rse *ResponseShapeError
	assert.True(t, errors.As(err, &rse))
	assert.Equal(t, StateView, v.State)
	assert.Nil(t, v.Student)
	assert.Equal(t, msgEnrollFailed, v.Error)
	assert.True(t, v.Actions.CanEnroll, "left open for retry")
	assert.Equal(t, []string{"open:ok", "enroll:failed"}, f.journal.actions())

	// retry succeeds
	f.adapter.createEr = nil
	v, err = s.Enroll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePayment, v.State)
	assert.Empty(t, v.Error)
}

func TestSession_Enroll_backendMessage(t *testing.T) {
	f := newFixture(t, johnDoe())
	f.adapter.createEr = &core.BackendError{Op: "backend.CreateStudent", StatusCode: 409, Message: "Aadhar number already registered"}
	s := f.open(t, 42)

	v, err := s.Enroll(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Aadhar number already registered", v.Error)
	assert.Equal(t, StateView, v.State)
}

func enrolledFixture(t *testing.T) (fixture, *Session) {
	t.Helper()
	f := newFixture(t, johnDoe())
	s := f.open(t, 42)
	_, err := s.Enroll(context.Background())
	require.NoError(t, err)
	return f, s
}

// Paying the admission fee yields the receipt and the payment is not offered again.
func TestSession_Pay(t *testing.T) {
	f, s := enrolledFixture(t)

	v, err := s.Pay(context.Background(), Payment{Amount: decimal.NewNullDecimal(decimal.NewFromInt(3000)), Method: "cash"})
	require.NoError(t, err)

	assert.Equal(t, StateEnrolled, v.State)
	require.NotNil(t, v.Receipt)
	assert.Equal(t, "RCPT-0001", v.Receipt.Number)
	assert.False(t, v.Actions.CanPay)
	assert.Equal(t, reservation.IndicatorPaid, v.Actions.FeeIndicator)
	require.NotNil(t, v.Reservation.AdmissionIncomeID)
	assert.Equal(t, 9001, *v.Reservation.AdmissionIncomeID)

	require.Len(t, f.adapter.payments, 1)
	assert.Equal(t, []PaymentDetail{{
		Purpose:       PurposeAdmissionFee,
		PaidAmount:    decimal.NewFromInt(3000),
		PaymentMethod: PaymentCash,
	}}, f.adapter.payments[0].Details)

	receipt, err := s.Receipt()
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 receipt"), receipt.Document)
	assert.Equal(t, "receipt-RCPT-0001.pdf", receipt.Filename())

	// receipt emailed to the guardian
	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "richard@doe.test", msg.To[0].Address)
	assert.Contains(t, msg.TextContent, "STU2024999")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)

	// no second prompt, neither in this session nor on the next view
	_, err = s.Pay(context.Background(), Payment{Method: PaymentCash})
	assert.True(t, errors.Is(err, ErrAlreadyPaid))
	_, err = s.OpenPayment()
	assert.True(t, errors.Is(err, ErrAlreadyPaid))

	next := f.open(t, 42)
	nv := next.View()
	assert.Equal(t, StateEnrolled, nv.State)
	assert.False(t, nv.Actions.CanPay)
	assert.Equal(t, reservation.IndicatorPaid, nv.Actions.FeeIndicator)
	_, err = next.OpenPayment()
	assert.True(t, errors.Is(err, ErrAlreadyPaid))
	assert.Len(t, f.adapter.payments, 1)
}

// A failed payment closes the payment step and leaves the student enrolled and unpaid.
func TestSession_Pay_failure(t *testing.T) {
	f, s := enrolledFixture(t)
	f.adapter.payErr = errors.New("dial tcp: connection reset by peer")

	v, err := s.Pay(context.Background(), Payment{Amount: decimal.NewNullDecimal(decimal.NewFromInt(3000)), Method: PaymentCash})
	require.Error(t, err)

	assert.Equal(t, StateEnrolled, v.State, "payment step closed")
	assert.Equal(t, msgPaymentFailed, v.Error)
	assert.True(t, v.Reservation.IsEnrolled, "enrollment not rolled back")
	assert.Nil(t, v.Reservation.AdmissionIncomeID)
	assert.True(t, v.Actions.CanPay)
	assert.Nil(t, v.Receipt)
	assert.True(t, f.adapter.record(42).IsEnrolled)
	assert.Nil(t, f.adapter.record(42).AdmissionIncomeID)
	assert.Empty(t, f.mailer.sent)

	_, err = s.Receipt()
	assert.True(t, errors.Is(err, ErrNoReceipt))

	// manual retry
	f.adapter.payErr = nil
	_, err = s.Pay(context.Background(), Payment{Method: PaymentOnline})
	assert.True(t, errors.Is(err, ErrWrongState), "payment step must be reopened first")

	_, err = s.OpenPayment()
	require.NoError(t, err)
	v, err = s.Pay(context.Background(), Payment{Method: PaymentOnline})
	require.NoError(t, err)
	assert.Equal(t, StateEnrolled, v.State)
	assert.True(t, f.adapter.payments[1].Details[0].PaidAmount.Equal(decimal.NewFromInt(3000)), "default amount")

	assert.Equal(t, []string{"open:ok", "enroll:ok", "pay:failed", "pay:ok"}, f.journal.actions())
}

func TestSession_Pay_validation(t *testing.T) {
	f, s := enrolledFixture(t)

	tests := []struct {
		name    string
		payment Payment
	}{
		{name: "no method", payment: Payment{}},
		{name: "unknown method", payment: Payment{Method: "CHEQUE"}},
		{name: "zero amount", payment: Payment{Amount: decimal.NewNullDecimal(decimal.Zero), Method: PaymentCash}},
		{name: "negative amount", payment: Payment{Amount: decimal.NewNullDecimal(decimal.NewFromInt(-5)), Method: PaymentCash}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := s.Pay(context.Background(), tt.payment)
			require.Error(t, err)
			assert.Equal(t, StatePayment, v.State, "dialog stays open")
		})
	}
	assert.Empty(t, f.adapter.payments)
}

func TestSession_DismissPayment(t *testing.T) {
	_, s := enrolledFixture(t)

	v, err := s.DismissPayment()
	require.NoError(t, err)
	assert.Equal(t, StateEnrolled, v.State)
	assert.True(t, v.Actions.CanPay)

	_, err = s.DismissPayment()
	assert.True(t, errors.Is(err, ErrWrongState))

	v, err = s.OpenPayment()
	require.NoError(t, err)
	assert.Equal(t, StatePayment, v.State)
}

func TestSession_edit(t *testing.T) {
	t.Run("save round trip", func(t *testing.T) {
		f := newFixture(t, johnDoe())
		s := f.open(t, 42)

		v, err := s.BeginEdit()
		require.NoError(t, err)
		assert.Equal(t, StateEdit, v.State)
		require.NotNil(t, v.Draft)
		assert.False(t, v.Actions.CanEnroll, "save or cancel first")

		edit := *v.Draft
		edit.StudentName = "Johnny Doe"
		v, err = s.Save(context.Background(), edit)
		require.NoError(t, err)
		assert.Equal(t, StateView, v.State)
		assert.Nil(t, v.Draft)

		reloaded, err := f.adapter.GetReservation(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, "Johnny Doe", reloaded.StudentName)
		reloaded.StudentName = "John Doe"
		assert.Equal(t, johnDoe(), reloaded, "no other field changed")

		history, err := f.svc.History(context.Background(), operator, 42)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, ActionSave, history[1].Action)
		assert.Contains(t, history[1].Diff, `-  "student_name": "John Doe",`)
		assert.Contains(t, history[1].Diff, `+  "student_name": "Johnny Doe",`)
	})

	t.Run("invalid edit stays in edit", func(t *testing.T) {
		f := newFixture(t, johnDoe())
		s := f.open(t, 42)
		v, err := s.BeginEdit()
		require.NoError(t, err)

		edit := *v.Draft
		edit.FatherMobile = "12345"
		v, err = s.Save(context.Background(), edit)
		require.Error(t, err)
		assert.Equal(t, StateEdit, v.State)
		require.NotNil(t, v.Draft)
		assert.Equal(t, "12345", v.Draft.FatherMobile, "unsaved input preserved")
		assert.Empty(t, f.adapter.updates)
	})

	t.Run("backend failure stays in edit", func(t *testing.T) {
		f := newFixture(t, johnDoe())
		f.adapter.updErr = &core.BackendError{Op: "backend.UpdateReservation", StatusCode: 400, Message: "class is full"}
		s := f.open(t, 42)
		v, err := s.BeginEdit()
		require.NoError(t, err)

		edit := *v.Draft
		edit.StudentName = "Johnny Doe"
		v, err = s.Save(context.Background(), edit)
		require.Error(t, err)
		assert.Equal(t, StateEdit, v.State)
		assert.Equal(t, "class is full", v.Error)
		assert.Equal(t, "Johnny Doe", v.Draft.StudentName)
		assert.Equal(t, "John Doe", v.Reservation.StudentName)
	})

	t.Run("cancel restores the snapshot", func(t *testing.T) {
		f := newFixture(t, johnDoe())
		s := f.open(t, 42)
		_, err := s.BeginEdit()
		require.NoError(t, err)

		v, err := s.CancelEdit()
		require.NoError(t, err)
		assert.Equal(t, StateView, v.State)
		assert.Nil(t, v.Draft)
		assert.Equal(t, johnDoe(), v.Reservation)

		_, err = s.CancelEdit()
		assert.True(t, errors.Is(err, ErrNotEditing))
	})

	t.Run("concession lock", func(t *testing.T) {
		r := johnDoe()
		r.ConcessionLock = true
		f := newFixture(t, r)
		s := f.open(t, 42)
		v, err := s.BeginEdit()
		require.NoError(t, err)
		assert.ElementsMatch(t, reservation.LockedFields, v.LockedFields)

		edit := *v.Draft
		edit.TuitionConcession = decimal.NewFromInt(15000)
		v, err = s.Save(context.Background(), edit)
		require.NoError(t, err)
		assert.True(t, v.Reservation.TuitionConcession.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, []string{"tuition_concession"}, v.Ignored)
		require.Len(t, f.adapter.updates, 1)
		assert.True(t, f.adapter.updates[0].TuitionConcession.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("enrolled reservations are read-only", func(t *testing.T) {
		_, s := enrolledFixture(t)
		_, err := s.BeginEdit()
		assert.True(t, errors.Is(err, ErrNotEditable))
	})
}

func TestSession_busy(t *testing.T) {
	f := newFixture(t, johnDoe())
	f.adapter.gate = make(chan struct{})
	f.adapter.entered = make(chan struct{}, 1)
	s := f.open(t, 42)

	done := make(chan error, 1)
	go func() {
		_, err := s.Enroll(context.Background())
		done <- err
	}()
	<-f.adapter.entered

	assert.Equal(t, StateEnrolling, s.State())
	_, err := s.BeginEdit()
	assert.True(t, errors.Is(err, ErrBusy))
	_, err = s.Enroll(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))

	close(f.adapter.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StatePayment, s.State())
	assert.Len(t, f.adapter.students, 1)
}

func TestSession_closeCancelsInFlight(t *testing.T) {
	f := newFixture(t, johnDoe())
	f.adapter.gate = make(chan struct{})
	f.adapter.entered = make(chan struct{}, 1)
	s := f.open(t, 42)

	done := make(chan error, 1)
	go func() {
		_, err := s.Enroll(context.Background())
		done <- err
	}()
	<-f.adapter.entered

	require.NoError(t, f.svc.Close(operator, s.ID))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call was not cancelled")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.View().Student, "late result discarded")
	assert.ElementsMatch(t, []string{"open:ok", "close:ok", "enroll:cancelled"}, f.journal.actions())

	_, err := f.svc.Session(operator, s.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = s.BeginEdit()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSession_closeDuringSave(t *testing.T) {
	cache := &cacheMock{}
	f := newFixture(t, johnDoe())
	f.svc.sync = NewSynchronizer(cache, core.NopLogger{})
	s := f.open(t, 42)

	v, err := s.BeginEdit()
	require.NoError(t, err)
	edit := *v.Draft
	edit.StudentName = "Johnny Doe"

	// the backend commits the write although the session is closed meanwhile
	f.adapter.onUpdate = func() { require.NoError(t, f.svc.Close(operator, s.ID)) }
	_, err = s.Save(context.Background(), edit)
	assert.True(t, errors.Is(err, ErrClosed))

	assert.Equal(t, "Johnny Doe", f.adapter.record(42).StudentName)
	assert.Len(t, cache.invalidations, 1, "committed write invalidates the listing")
	assert.ElementsMatch(t, []string{"open:ok", "close:ok", "save:cancelled"}, f.journal.actions())
}

func TestSession_requestCancellation(t *testing.T) {
	f := newFixture(t, johnDoe())
	f.adapter.gate = make(chan struct{})
	f.adapter.entered = make(chan struct{}, 1)
	s := f.open(t, 42)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Enroll(ctx)
		done <- err
	}()
	<-f.adapter.entered
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateView, s.State(), "session survives a cancelled request")
}

func TestSession_Close_releasesReceipt(t *testing.T) {
	f, s := enrolledFixture(t)
	_, err := s.Pay(context.Background(), Payment{Method: PaymentCash})
	require.NoError(t, err)

	s.Close()
	s.Close()
	_, err = s.Receipt()
	assert.True(t, errors.Is(err, ErrNoReceipt))
	assert.Equal(t, []string{"open:ok", "enroll:ok", "pay:ok", "close:ok"}, f.journal.actions())
}

func TestService_Session_ownership(t *testing.T) {
	f := newFixture(t, johnDoe())
	s := f.open(t, 42)

	got, err := f.svc.Session(operator, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	other := operator
	other.UserID = "8"
	_, err = f.svc.Session(other, s.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	otherBranch := operator
	otherBranch.BranchID = 4
	assert.True(t, errors.Is(f.svc.Close(otherBranch, s.ID), ErrSessionNotFound))
}

func TestService_Sweep(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	f := newFixture(t, johnDoe())
	f.svc.idle = 30 * time.Minute
	stale := f.open(t, 42)

	now = now.Add(20 * time.Minute)
	fresh := f.open(t, 42)
	assert.Equal(t, 0, f.svc.Sweep())

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, f.svc.Sweep())
	assert.Equal(t, StateClosed, stale.State())
	assert.Equal(t, StateView, fresh.State())
	assert.Equal(t, 1, f.svc.OpenSessions())
}

func TestService_lock(t *testing.T) {
	f := newFixture(t, johnDoe())
	locker := &lockerMock{}
	f.svc.locker = locker
	s := f.open(t, 42)

	unlock, err := locker.Obtain(context.Background(), lockKey(operator, 42))
	require.NoError(t, err)

	_, err = s.Enroll(context.Background())
	assert.True(t, errors.Is(err, core.ErrLocked))
	assert.Equal(t, StateView, s.State())
	assert.Empty(t, f.adapter.students)

	unlock()
	_, err = s.Enroll(context.Background())
	require.NoError(t, err)
}
