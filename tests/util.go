package testutil

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

func NewSession(t *testing.T, branchType string, token ...string) core.Session {
	t.Helper()
	tok := "operator-token"
	if len(token) > 0 {
		tok = token[0]
	}
	sess, err := core.NewSession("u-1", "desk1", 7, branchType, 2024, tok)
	if err != nil {
		t.Fatalf("NewSession() failed: %v", err)
	}
	return sess
}

// Dec parses a decimal fixture.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Dec(%q) failed: %v", s, err)
	}
	return d
}

// NewReservation returns a confirmed, unenrolled reservation of the session's branch.
func NewReservation(t *testing.T, sess core.Session, id int, name string) reservation.Reservation {
	t.Helper()
	res := reservation.Reservation{
		ID:               id,
		ReservationNo:    fmt.Sprintf("RES-%04d", id),
		BranchID:         sess.BranchID,
		AcademicYearID:   sess.AcademicYearID,
		Status:           reservation.StatusConfirmed,
		StudentName:      name,
		Gender:           "F",
		DOB:              "2015-06-01",
		AadharNo:         "123412341234",
		FatherName:       "Ravi Kumar",
		FatherMobile:     "9876543210",
		FatherAadharNo:   "432143214321",
		GuardianEmail:    "parent@example.com",
		City:             "Hyderabad",
		PreferredClassID: 3,
		ClassName:        "Class 3",
		ApplicationFee:   Dec(t, "500"),
		TuitionFee:       Dec(t, "25000"),
		BookFee:          Dec(t, "3000"),
	}
	if sess.IsCollege() {
		res.GroupID, res.GroupName = 2, "MPC"
		res.CourseID, res.CourseName = 5, "EAMCET"
	}
	return res
}
