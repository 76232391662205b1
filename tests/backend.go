package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
)

// ReceiptPDF is the document served by FakeBackend for every payment.
var ReceiptPDF = []byte("%PDF-1.4\n% admission fee receipt\n%%EOF")

type (
	// RecordedRequest is a request received by FakeBackend.
	RecordedRequest struct {
		Method string
		Path   string
		Header http.Header
		Query  url.Values
		Form   url.Values
		Body   []byte
	}

	// FakeError makes the next matching call fail.
	FakeError struct {
		Status  int
		Message string
	}

	// FakeBackend is an in-memory school/college REST backend.
	FakeBackend struct {
		*httptest.Server

		mu           sync.Mutex
		reservations map[int]reservation.Reservation
		nextStudent  int
		nextIncome   int
		requests     []RecordedRequest

		// response shapes
		NestStudentResponse bool
		StudentResponse     string // raw create-student body, overrides the generated one
		ReceiptAsJSON       bool

		// failures
		UpdateError *FakeError
		CreateError *FakeError
		PayError    *FakeError
		ListError   *FakeError
	}
)

func NewFakeBackend(t *testing.T, records ...reservation.Reservation) *FakeBackend {
	t.Helper()
	b := &FakeBackend{
		reservations: make(map[int]reservation.Reservation),
		nextStudent:  501,
		nextIncome:   9001,
	}
	for _, r := range records {
		b.reservations[r.ID] = r
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(b.record, b.authenticate)
	e.GET("/:branch/reservations", b.list)
	e.GET("/:branch/reservations/:id", b.get)
	e.PUT("/:branch/reservations/:id", b.update)
	e.POST("/:branch/students/from-reservation/:id", b.createStudent)
	e.POST("/:branch/income/pay-by-student/:id", b.pay)

	b.Server = httptest.NewServer(e)
	t.Cleanup(b.Server.Close)
	return b
}

// Reservation returns the stored record.
func (b *FakeBackend) Reservation(id int) reservation.Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reservations[id]
}

// Put stores r.
func (b *FakeBackend) Put(r reservation.Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reservations[r.ID] = r
}

// Requests returns the requests received so far, optionally only those whose path has the suffix.
func (b *FakeBackend) Requests(pathSuffix ...string) []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	reqs := make([]RecordedRequest, 0, len(b.requests))
	for _, r := range b.requests {
		if len(pathSuffix) == 0 || strings.Contains(r.Path, pathSuffix[0]) {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

func (b *FakeBackend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		body, _ := io.ReadAll(req.Body)
		_ = req.Body.Close()
		req.Body = io.NopCloser(strings.NewReader(string(body)))

		rec := RecordedRequest{
			Method: req.Method,
			Path:   req.URL.Path,
			Header: req.Header.Clone(),
			Query:  req.URL.Query(),
			Body:   body,
		}
		if strings.HasPrefix(req.Header.Get("Content-Type"), echo.MIMEMultipartForm) {
			if form, err := c.MultipartForm(); err == nil {
				rec.Form = form.Value
			}
		}
		b.mu.Lock()
		b.requests = append(b.requests, rec)
		b.mu.Unlock()
		return next(c)
	}
}

func (b *FakeBackend) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !strings.HasPrefix(c.Request().Header.Get("Authorization"), "Bearer ") {
			return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "Authentication credentials were not provided."})
		}
		if c.Request().Header.Get("X-Branch-Id") == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "branch is required"})
		}
		return next(c)
	}
}

func fail(c echo.Context, fe *FakeError) error {
	return c.JSON(fe.Status, echo.Map{"message": fe.Message})
}

func (b *FakeBackend) list(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListError != nil {
		return fail(c, b.ListError)
	}

	status := reservation.Status(c.QueryParam("status"))
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = reservation.DefaultPageSize
	}

	matching := make([]reservation.Reservation, 0)
	for _, r := range b.reservations {
		if status == "" || r.Status == status {
			matching = append(matching, r)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].ID < matching[j].ID })

	start := (page - 1) * size
	if start > len(matching) {
		start = len(matching)
	}
	end := start + size
	if end > len(matching) {
		end = len(matching)
	}
	return c.JSON(http.StatusOK, reservation.Page{
		Count:    len(matching),
		Page:     page,
		PageSize: size,
		Results:  matching[start:end],
	})
}

func (b *FakeBackend) get(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reservations[atoi(c.Param("id"))]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "Not found."})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": r})
}

func (b *FakeBackend) update(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reservations[atoi(c.Param("id"))]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "Not found."})
	}
	if b.UpdateError != nil {
		return fail(c, b.UpdateError)
	}

	var edit reservation.Edit
	if strings.HasPrefix(c.Request().Header.Get("Content-Type"), echo.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
		}
		if err := formToEdit(form.Value, &edit); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
		}
	} else if err := json.NewDecoder(c.Request().Body).Decode(&edit); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}

	r = edit.Apply(r)
	b.reservations[r.ID] = r
	return c.JSON(http.StatusOK, r)
}

// formToEdit rebuilds the JSON form of a multipart edit.
func formToEdit(values url.Values, edit *reservation.Edit) error {
	fields := make(map[string]interface{}, len(values))
	for k := range values {
		v := values.Get(k)
		switch k {
		case "preferred_class_id", "group_id", "course_id":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %v", k, err)
			}
			fields[k] = n
		case "transport_required":
			fields[k] = v == "true"
		default:
			fields[k] = v
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, edit)
}

func (b *FakeBackend) createStudent(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reservations[atoi(c.Param("id"))]
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "Not found."})
	}
	if b.CreateError != nil {
		return fail(c, b.CreateError)
	}
	if r.IsEnrolled {
		return c.JSON(http.StatusConflict, echo.Map{"message": "Reservation is already enrolled"})
	}
	var payload enrollment.NewStudent
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}

	r.IsEnrolled = true
	r.StudentID = b.nextStudent
	r.AdmissionNo = fmt.Sprintf("STU2024%03d", 999-(b.nextStudent-501))
	b.nextStudent++
	b.reservations[r.ID] = r

	if b.StudentResponse != "" {
		return c.Blob(http.StatusCreated, echo.MIMEApplicationJSON, []byte(b.StudentResponse))
	}
	created := echo.Map{"student_id": r.StudentID, "admission_no": r.AdmissionNo}
	if b.NestStudentResponse {
		return c.JSON(http.StatusCreated, echo.Map{"status": "success", "data": created})
	}
	return c.JSON(http.StatusCreated, created)
}

func (b *FakeBackend) pay(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PayError != nil {
		return fail(c, b.PayError)
	}

	var req enrollment.PayRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}
	if len(req.Details) != 1 || req.Details[0].Purpose != enrollment.PurposeAdmissionFee {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "unsupported payment"})
	}

	studentID := atoi(c.Param("id"))
	for id, r := range b.reservations {
		if r.StudentID != studentID {
			continue
		}
		if r.AdmissionIncomeID != nil {
			return c.JSON(http.StatusConflict, echo.Map{"message": "Admission fee already paid"})
		}
		incomeID := b.nextIncome
		b.nextIncome++
		r.AdmissionIncomeID = &incomeID
		b.reservations[id] = r

		receiptNo := fmt.Sprintf("RCPT-%d", incomeID)
		if b.ReceiptAsJSON {
			return c.JSON(http.StatusCreated, echo.Map{"data": echo.Map{"receipt_no": receiptNo, "income_id": incomeID}})
		}
		c.Response().Header().Set("X-Receipt-No", receiptNo)
		c.Response().Header().Set("X-Income-Id", strconv.Itoa(incomeID))
		return c.Blob(http.StatusCreated, "application/pdf", ReceiptPDF)
	}
	return c.JSON(http.StatusNotFound, echo.Map{"message": "Student not found"})
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
