package reservation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
)

type Status string

// Statuses
const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

var AllStatuses = []Status{StatusPending, StatusConfirmed, StatusCancelled}

func (s Status) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Reservation is a prospective student's request to join a class (school) or group/course (college).
type Reservation struct {
	ID             int    `json:"reservation_id"`
	ReservationNo  string `json:"reservation_no"`
	BranchID       int    `json:"branch_id"`
	AcademicYearID int    `json:"academic_year_id"`
	Status         Status `json:"status"`

	// applicant
	StudentName    string `json:"student_name"`
	Gender         string `json:"gender"`
	DOB            string `json:"dob"`
	AadharNo       string `json:"aadhar_no"`
	PreviousSchool string `json:"previous_school"`

	// guardians
	FatherName     string `json:"father_name"`
	FatherMobile   string `json:"father_mobile"`
	FatherAadharNo string `json:"father_aadhar_no"`
	MotherName     string `json:"mother_name"`
	MotherMobile   string `json:"mother_mobile"`
	GuardianEmail  string `json:"email"`

	// address
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`

	// academics
	PreferredClassID int    `json:"preferred_class_id"`
	ClassName        string `json:"class_name"`
	GroupID          int    `json:"group_id,omitempty"`
	GroupName        string `json:"group_name,omitempty"`
	CourseID         int    `json:"course_id,omitempty"`
	CourseName       string `json:"course_name,omitempty"`

	// fees
	ApplicationFee      decimal.Decimal `json:"application_fee"`
	TuitionFee          decimal.Decimal `json:"tuition_fee"` // group + course fee for colleges
	TuitionConcession   decimal.Decimal `json:"tuition_concession"`
	BookFee             decimal.Decimal `json:"book_fee"`
	BookConcession      decimal.Decimal `json:"book_concession"`
	TransportRequired   bool            `json:"transport_required"`
	TransportFee        decimal.Decimal `json:"transport_fee"`
	TransportConcession decimal.Decimal `json:"transport_concession"`
	ConcessionLock      bool            `json:"concession_lock"`

	// enrollment
	IsEnrolled        bool   `json:"is_enrolled"`
	StudentID         int    `json:"student_id,omitempty"`
	AdmissionNo       string `json:"admission_no,omitempty"`
	AdmissionIncomeID *int   `json:"admission_income_id"`

	Remarks string `json:"remarks"`
}

// CanEdit reports whether the details may still be changed.
func (r Reservation) CanEdit() bool { return !r.IsEnrolled }

// CanEnroll reports whether a Student may be created from the reservation.
func (r Reservation) CanEnroll() bool { return r.Status == StatusConfirmed && !r.IsEnrolled }

// AdmissionFeePaid reports whether the one-time admission fee has been recorded.
func (r Reservation) AdmissionFeePaid() bool { return r.AdmissionIncomeID != nil }

// NeedsAdmissionFee reports whether the enrolled student still owes the admission fee.
func (r Reservation) NeedsAdmissionFee() bool { return r.IsEnrolled && !r.AdmissionFeePaid() }

// Matches does a case-insensitive match of `search` on the student name, reservation number or identity number.
func (r Reservation) Matches(search string) bool {
	search = core.CleanString(search, true /* lower */)
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.StudentName), search) ||
		strings.Contains(strings.ToLower(r.ReservationNo), search) ||
		(r.AadharNo != "" && strings.Contains(r.AadharNo, search))
}

// NetTuitionFee is the tuition fee minus its concession, never negative.
func (r Reservation) NetTuitionFee() decimal.Decimal {
	return nonNegative(r.TuitionFee.Sub(r.TuitionConcession))
}

func (r Reservation) NetBookFee() decimal.Decimal {
	return nonNegative(r.BookFee.Sub(r.BookConcession))
}

func (r Reservation) NetTransportFee() decimal.Decimal {
	if !r.TransportRequired {
		return decimal.Zero
	}
	return nonNegative(r.TransportFee.Sub(r.TransportConcession))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Actions describes what an operator may do with a reservation right now.
type Actions struct {
	CanEdit          bool   `json:"can_edit"`
	CanEnroll        bool   `json:"can_enroll"`
	Indicator        string `json:"indicator,omitempty"`
	AdmissionFeePaid bool   `json:"admission_fee_paid"`
	FeeIndicator     string `json:"fee_indicator,omitempty"`
	CanPay           bool   `json:"can_pay"`
}

// Indicators
const (
	IndicatorEnrolled = "Enrolled"
	IndicatorPaid     = "Paid"
)

func (r Reservation) Actions() Actions {
	a := Actions{
		CanEdit:          r.CanEdit(),
		CanEnroll:        r.CanEnroll(),
		AdmissionFeePaid: r.AdmissionFeePaid(),
		CanPay:           r.NeedsAdmissionFee(),
	}
	if r.IsEnrolled {
		a.Indicator = IndicatorEnrolled
	}
	if a.AdmissionFeePaid {
		a.FeeIndicator = IndicatorPaid
	}
	return a
}

// ListFilter selects the reservations shown in a listing.
type ListFilter struct {
	Status   Status `query:"status" json:"status"`
	Search   string `query:"search" json:"search,omitempty"`
	Page     int    `query:"page" json:"page"`
	PageSize int    `query:"page_size" json:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Clean applies defaults: CONFIRMED status, first page, DefaultPageSize.
func (f *ListFilter) Clean() {
	f.Status = Status(strings.ToUpper(core.CleanString(string(f.Status))))
	if f.Status == "" {
		f.Status = StatusConfirmed
	}
	f.Search = core.CleanString(f.Search)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	} else if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Page is one page of reservations as returned by the backend.
type Page struct {
	Count    int           `json:"count"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Results  []Reservation `json:"results"`
}

// Listing is what a reservation list view renders. Error is set instead of failing when the read failed.
type Listing struct {
	Page
	Filter ListFilter `json:"filter"`
	Error  string     `json:"error,omitempty"`
}
