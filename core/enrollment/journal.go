package enrollment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core/reservation"
)

type Action string

// Journal actions
const (
	ActionOpen       Action = "open"
	ActionSave       Action = "save"
	ActionCancelEdit Action = "cancel_edit"
	ActionEnroll     Action = "enroll"
	ActionPay        Action = "pay"
	ActionClose      Action = "close"
)

type Outcome string

// Journal outcomes
const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

type (
	// Entry is one workflow transition.
	Entry struct {
		ID             int64               `json:"id"`
		SessionID      string              `json:"session_id"`
		BranchID       int                 `json:"branch_id"`
		AcademicYearID int                 `json:"academic_year_id"`
		ReservationID  int                 `json:"reservation_id"`
		Operator       string              `json:"operator"`
		Action         Action              `json:"action"`
		Outcome        Outcome             `json:"outcome"`
		Error          string              `json:"error,omitempty"`
		Diff           string              `json:"diff,omitempty"`
		StudentID      int                 `json:"student_id,omitempty"`
		ReceiptNo      string              `json:"receipt_no,omitempty"`
		Amount         decimal.NullDecimal `json:"amount"`
		CreatedAt      time.Time           `json:"created_at"`
	}

	// Journal persists workflow transitions.
	Journal interface {
		Record(ctx context.Context, entry Entry) (Entry, error)
		// ListByReservation returns the entries of a reservation, oldest first.
		ListByReservation(ctx context.Context, branchID, reservationID int) ([]Entry, error)
	}
)

// EditDiff renders a unified diff between two drafts, one JSON field per line.
// It returns "" when nothing changed.
func EditDiff(before, after reservation.Edit) string {
	a, b := editLines(before), editLines(after)
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "snapshot",
		ToFile:   "edit",
		Context:  0,
	})
	if err != nil {
		return ""
	}
	return diff
}

func editLines(e reservation.Edit) []string {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil
	}
	return difflib.SplitLines(string(data))
}
