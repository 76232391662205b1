package reservation

import (
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
)

// Edit is the full editable payload of a reservation, sent as-is to the update endpoint.
type Edit struct {
	StudentName    string `json:"student_name" validate:"required,notblank"`
	Gender         string `json:"gender"`
	DOB            string `json:"dob"`
	AadharNo       string `json:"aadhar_no" validate:"aadhar"`
	PreviousSchool string `json:"previous_school"`

	FatherName     string `json:"father_name"`
	FatherMobile   string `json:"father_mobile" validate:"mobile"`
	FatherAadharNo string `json:"father_aadhar_no" validate:"aadhar"`
	MotherName     string `json:"mother_name"`
	MotherMobile   string `json:"mother_mobile" validate:"omitempty,mobile"`
	GuardianEmail  string `json:"email" validate:"omitempty,email"`

	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`

	PreferredClassID int `json:"preferred_class_id" validate:"required"`
	GroupID          int `json:"group_id,omitempty"`
	CourseID         int `json:"course_id,omitempty" validate:"required_with=GroupID"`

	ApplicationFee      decimal.Decimal `json:"application_fee"`
	TuitionFee          decimal.Decimal `json:"tuition_fee"`
	TuitionConcession   decimal.Decimal `json:"tuition_concession"`
	BookFee             decimal.Decimal `json:"book_fee"`
	BookConcession      decimal.Decimal `json:"book_concession"`
	TransportRequired   bool            `json:"transport_required"`
	TransportFee        decimal.Decimal `json:"transport_fee"`
	TransportConcession decimal.Decimal `json:"transport_concession"`

	Remarks string `json:"remarks"`

	college bool
}

// EditFrom starts a draft from the last-loaded snapshot.
func EditFrom(r Reservation) Edit {
	return Edit{
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
		GuardianEmail:       r.GuardianEmail,
		Address:             r.Address,
		City:                r.City,
		State:               r.State,
		Pincode:             r.Pincode,
		PreferredClassID:    r.PreferredClassID,
		GroupID:             r.GroupID,
		CourseID:            r.CourseID,
		ApplicationFee:      r.ApplicationFee,
		TuitionFee:          r.TuitionFee,
		TuitionConcession:   r.TuitionConcession,
		BookFee:             r.BookFee,
		BookConcession:      r.BookConcession,
		TransportRequired:   r.TransportRequired,
		TransportFee:        r.TransportFee,
		TransportConcession: r.TransportConcession,
		Remarks:             r.Remarks,
	}
}

// Clean trims text inputs and truncates identity numbers the way the input fields do.
// college enables the group/course requirement.
func (e *Edit) Clean(college bool) {
	e.college = college
	e.StudentName = core.CleanString(e.StudentName)
	e.Gender = core.CleanString(e.Gender)
	e.DOB = core.CleanString(e.DOB)
	e.AadharNo = core.DigitsOnly(e.AadharNo, core.AadharMaxDigits)
	e.PreviousSchool = core.CleanString(e.PreviousSchool)
	e.FatherName = core.CleanString(e.FatherName)
	e.FatherMobile = core.CleanString(e.FatherMobile)
	e.FatherAadharNo = core.DigitsOnly(e.FatherAadharNo, core.AadharMaxDigits)
	e.MotherName = core.CleanString(e.MotherName)
	e.MotherMobile = core.CleanString(e.MotherMobile)
	e.GuardianEmail = core.CleanString(e.GuardianEmail, true /* lower */)
	e.Address = core.CleanString(e.Address)
	e.City = core.CleanString(e.City)
	e.State = core.CleanString(e.State)
	e.Pincode = core.CleanString(e.Pincode)
	e.Remarks = core.CleanString(e.Remarks)
	if !college {
		e.GroupID, e.CourseID = 0, 0
	}
}

// LockedFields are the fee figures frozen by Reservation.ConcessionLock.
var LockedFields = []string{
	"tuition_fee", "tuition_concession", "book_concession", "transport_fee", "transport_concession",
}

// Guard restores the snapshot value of every locked field when the snapshot is concession-locked,
// and returns the names of the fields whose edited value was ignored.
func (e *Edit) Guard(snapshot Reservation) (ignored []string) {
	if !snapshot.ConcessionLock {
		return nil
	}
	keep := func(name string, field *decimal.Decimal, locked decimal.Decimal) {
		if !field.Equal(locked) {
			ignored = append(ignored, name)
		}
		*field = locked
	}
	keep("tuition_fee", &e.TuitionFee, snapshot.TuitionFee)
	keep("tuition_concession", &e.TuitionConcession, snapshot.TuitionConcession)
	keep("book_concession", &e.BookConcession, snapshot.BookConcession)
	keep("transport_fee", &e.TransportFee, snapshot.TransportFee)
	keep("transport_concession", &e.TransportConcession, snapshot.TransportConcession)
	return ignored
}

// Apply returns r with the edited fields set. Identity, status and enrollment fields are untouched.
func (e Edit) Apply(r Reservation) Reservation {
	r.StudentName = e.StudentName
	r.Gender = e.Gender
	r.DOB = e.DOB
	r.AadharNo = e.AadharNo
	r.PreviousSchool = e.PreviousSchool
	r.FatherName = e.FatherName
	r.FatherMobile = e.FatherMobile
	r.FatherAadharNo = e.FatherAadharNo
	r.MotherName = e.MotherName
	r.MotherMobile = e.MotherMobile
	r.GuardianEmail = e.GuardianEmail
	r.Address = e.Address
	r.City = e.City
	r.State = e.State
	r.Pincode = e.Pincode
	r.PreferredClassID = e.PreferredClassID
	r.GroupID = e.GroupID
	r.CourseID = e.CourseID
	r.ApplicationFee = e.ApplicationFee
	r.TuitionFee = e.TuitionFee
	r.TuitionConcession = e.TuitionConcession
	r.BookFee = e.BookFee
	r.BookConcession = e.BookConcession
	r.TransportRequired = e.TransportRequired
	r.TransportFee = e.TransportFee
	r.TransportConcession = e.TransportConcession
	r.Remarks = e.Remarks
	return r
}
