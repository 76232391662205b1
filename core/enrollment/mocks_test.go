package enrollment

import (
	"context"
	"sort"
	"sync"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

// adapterMock is an in-memory branch backend.
type adapterMock struct {
	mu      sync.Mutex
	records map[int]reservation.Reservation

	created  CreatedStudent
	receipt  Receipt
	getErr   error
	getCalls int
	updErr   error
	createEr error
	payErr   error

	// called by UpdateReservation before the write is applied
	onUpdate func()

	// when set, CreateStudent and PayByStudent signal `entered` then block until `gate` is closed or ctx ends
	gate    chan struct{}
	entered chan struct{}

	updates  []reservation.Edit
	students []NewStudent
	payments []PayRequest
}

func newAdapterMock(records ...reservation.Reservation) *adapterMock {
	m := &adapterMock{
		records: make(map[int]reservation.Reservation),
		created: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		receipt: Receipt{Number: "RCPT-0001", IncomeID: 9001, ContentType: "application/pdf", Document: []byte("%PDF-1.4 receipt")},
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *adapterMock) wait(ctx context.Context) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate == nil {
		return nil
	}
	select {
	case <-m.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *adapterMock) record(id int) reservation.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *adapterMock) ListReservations(_ context.Context, filter reservation.ListFilter) (reservation.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := reservation.Page{Page: filter.Page, PageSize: filter.PageSize, Results: []reservation.Reservation{}}
	for _, r := range m.records {
		if r.Status == filter.Status {
			page.Results = append(page.Results, r)
		}
	}
	sort.Slice(page.Results, func(i, j int) bool { return page.Results[i].ID < page.Results[j].ID })
	page.Count = len(page.Results)
	return page, nil
}

func (m *adapterMock) GetReservation(_ context.Context, id int) (reservation.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return reservation.Reservation{}, m.getErr
	}
	r, ok := m.records[id]
	if !ok {
		return reservation.Reservation{}, core.ErrNotFound
	}
	return r, nil
}

func (m *adapterMock) UpdateReservation(_ context.Context, id int, edit reservation.Edit) (reservation.Reservation, error) {
	if m.onUpdate != nil {
		m.onUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, edit)
	if m.updErr != nil {
		return reservation.Reservation{}, m.updErr
	}
	r := edit.Apply(m.records[id])
	m.records[id] = r
	return r, nil
}

func (m *adapterMock) CreateStudent(ctx context.Context, reservationID int, payload NewStudent) (CreatedStudent, error) {
	if err := m.wait(ctx); err != nil {
		return CreatedStudent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append(m.students, payload)
	if m.createEr != nil {
		return CreatedStudent{}, m.createEr
	}
	r := m.records[reservationID]
	r.IsEnrolled = true
	r.StudentID = m.created.StudentID
	r.AdmissionNo = m.created.AdmissionNo
	m.records[reservationID] = r
	return m.created, nil
}

func (m *adapterMock) PayByStudent(ctx context.Context, studentID int, req PayRequest) (Receipt, error) {
	if err := m.wait(ctx); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, req)
	if m.payErr != nil {
		return Receipt{}, m.payErr
	}
	for id, r := range m.records {
		if r.StudentID == studentID {
			incomeID := m.receipt.IncomeID
			r.AdmissionIncomeID = &incomeID
			m.records[id] = r
		}
	}
	return m.receipt, nil
}

type branchesMock struct {
	adapter BranchAdapter
}

func (b branchesMock) Adapter(core.Session) (BranchAdapter, error) { return b.adapter, nil }

type journalMock struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *journalMock) Record(_ context.Context, entry Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, entry)
	return entry, nil
}

func (j *journalMock) ListByReservation(_ context.Context, branchID, reservationID int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := make([]Entry, 0)
	for _, e := range j.entries {
		if e.BranchID == branchID && e.ReservationID == reservationID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (j *journalMock) actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	actions := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		actions = append(actions, string(e.Action)+":"+string(e.Outcome))
	}
	return actions
}

type mailerMock struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailerMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

type lockerMock struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *lockerMock) Obtain(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, core.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}
