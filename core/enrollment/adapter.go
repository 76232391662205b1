package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

type (
	// BranchAdapter is what the workflow needs from a branch backend. Schools and colleges each provide one.
	BranchAdapter interface {
		reservation.Reader
		UpdateReservation(ctx context.Context, id int, edit reservation.Edit) (reservation.Reservation, error)
		CreateStudent(ctx context.Context, reservationID int, payload NewStudent) (CreatedStudent, error)
		PayByStudent(ctx context.Context, studentID int, req PayRequest) (Receipt, error)
	}

	// Branches resolves the adapter matching the session's branch type.
	Branches interface {
		Adapter(sess core.Session) (BranchAdapter, error)
	}
)

// NewStudent is the student-creation payload built from a reservation snapshot.
type NewStudent struct {
	ReservationID  int    `json:"reservation_id"`
	AcademicYearID int    `json:"academic_year_id"`
	StudentName    string `json:"student_name"`
	Gender         string `json:"gender"`
	DOB            string `json:"dob"`
	AadharNo       string `json:"aadhar_no"`
	PreviousSchool string `json:"previous_school"`

	FatherName     string `json:"father_name"`
	FatherMobile   string `json:"father_mobile"`
	FatherAadharNo string `json:"father_aadhar_no"`
	MotherName     string `json:"mother_name"`
	MotherMobile   string `json:"mother_mobile"`
	Email          string `json:"email"`

	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`

	ClassID  int `json:"class_id"`
	GroupID  int `json:"group_id,omitempty"`
	CourseID int `json:"course_id,omitempty"`

	TuitionFee          decimal.Decimal `json:"tuition_fee"`
	TuitionConcession   decimal.Decimal `json:"tuition_concession"`
	BookFee             decimal.Decimal `json:"book_fee"`
	BookConcession      decimal.Decimal `json:"book_concession"`
	TransportRequired   bool            `json:"transport_required"`
	TransportFee        decimal.Decimal `json:"transport_fee"`
	TransportConcession decimal.Decimal `json:"transport_concession"`
}

// NewStudentFrom maps the current snapshot to a student-creation payload.
func NewStudentFrom(r reservation.Reservation) NewStudent {
	ns := NewStudent{
		ReservationID:       r.ID,
		AcademicYearID:      r.AcademicYearID,
		StudentName:         r.StudentName,
		Gender:              r.Gender,
		DOB:                 r.DOB,
		AadharNo:            r.AadharNo,
		PreviousSchool:      r.PreviousSchool,
		FatherName:          r.FatherName,
		FatherMobile:        r.FatherMobile,
		FatherAadharNo:      r.FatherAadharNo,
		MotherName:          r.MotherName,
		MotherMobile:        r.MotherMobile,
		Email:               r.GuardianEmail,
		Address:             r.Address,
		City:                r.City,
		State:               r.State,
		Pincode:             r.Pincode,
		ClassID:             r.PreferredClassID,
		GroupID:             r.GroupID,
		CourseID:            r.CourseID,
		TuitionFee:          r.TuitionFee,
		TuitionConcession:   r.TuitionConcession,
		BookFee:             r.BookFee,
		BookConcession:      r.BookConcession,
		TransportRequired:   r.TransportRequired,
		TransportFee:        r.TransportFee,
		TransportConcession: r.TransportConcession,
	}
	if !ns.TransportRequired {
		ns.TransportFee, ns.TransportConcession = decimal.Zero, decimal.Zero
	}
	return ns
}

// CreatedStudent is the canonical answer of the student-creation endpoint.
type CreatedStudent struct {
	StudentID   int    `json:"student_id"`
	AdmissionNo string `json:"admission_no"`
}

// ResponseShapeError is returned when a backend response does not match the expected schema.
type ResponseShapeError struct {
	Op     string
	Reason string
}

func (err *ResponseShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", err.Op, err.Reason)
}

// flexibleID decodes ids sent either as numbers or as numeric strings.
type flexibleID int

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return err
	}
	*id = flexibleID(v)
	return nil
}

type createdStudentFields struct {
	StudentID   *flexibleID `json:"student_id"`
	AdmissionNo string      `json:"admission_no"`
}

// ParseCreatedStudent normalizes the student-creation response. The fields may be at the top level
// or nested under "data"; a response carrying neither student id is a *ResponseShapeError.
func ParseCreatedStudent(body []byte) (CreatedStudent, error) {
	const op = "enrollment.ParseCreatedStudent"

	var resp struct {
		createdStudentFields
		Data *createdStudentFields `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return CreatedStudent{}, &ResponseShapeError{Op: op, Reason: err.Error()}
	}

	fields := resp.createdStudentFields
	if resp.Data != nil && resp.Data.StudentID != nil {
		fields = *resp.Data
	}
	if fields.StudentID == nil || *fields.StudentID <= 0 {
		return CreatedStudent{}, &ResponseShapeError{Op: op, Reason: "student_id is missing"}
	}
	return CreatedStudent{StudentID: int(*fields.StudentID), AdmissionNo: fields.AdmissionNo}, nil
}

type PaymentMethod string

// Payment methods
const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentOnline PaymentMethod = "ONLINE"
)

// PurposeAdmissionFee is the income purpose code of the one-time admission fee.
const PurposeAdmissionFee = "ADMISSION_FEE"

type (
	PaymentDetail struct {
		Purpose       string          `json:"purpose"`
		PaidAmount    decimal.Decimal `json:"paid_amount"`
		PaymentMethod PaymentMethod   `json:"payment_method"`
	}

	// PayRequest is the body of the pay-by-student endpoint.
	PayRequest struct {
		Details []PaymentDetail `json:"details"`
		Remarks string          `json:"remarks,omitempty"`
	}

	// Receipt is the artifact of a recorded payment.
	Receipt struct {
		Number      string `json:"receipt_no"`
		IncomeID    int    `json:"income_id"`
		ContentType string `json:"content_type"`
		Document    []byte `json:"-"`
	}
)

// MarshalJSON sends the amount as a JSON number.
func (d PaymentDetail) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Purpose       string        `json:"purpose"`
		PaidAmount    json.Number   `json:"paid_amount"`
		PaymentMethod PaymentMethod `json:"payment_method"`
	}{d.Purpose, json.Number(d.PaidAmount.String()), d.PaymentMethod})
}

func (r Receipt) Filename() string {
	name := r.Number
	if name == "" {
		name = strconv.Itoa(r.IncomeID)
	}
	return "receipt-" + name + ".pdf"
}

func (r Receipt) HasDocument() bool { return len(r.Document) > 0 }
