package enrollment

import (
	"github.com/pkg/errors"
)

var (
	ErrBusy            = errors.New("another operation is in progress on this enrollment")
	ErrClosed          = errors.New("enrollment session is closed")
	ErrSessionNotFound = errors.New("enrollment session not found")
	ErrNotEditable     = errors.New("enrolled reservations can no longer be edited")
	ErrNotEditing      = errors.New("no edit in progress")
	ErrNotEnrollable   = errors.New("only confirmed reservations that are not enrolled can be enrolled")
	ErrAlreadyEnrolled = errors.New("reservation is already enrolled")
	ErrNotEnrolled     = errors.New("student is not enrolled yet")
	ErrAlreadyPaid     = errors.New("admission fee already paid")
	ErrNoReceipt       = errors.New("no receipt available")
	ErrWrongState      = errors.New("operation not allowed in the current step")
)

// Fallback messages shown when the backend gave none.
const (
	msgSaveFailed    = "reservation could not be saved"
	msgEnrollFailed  = "student could not be enrolled"
	msgPaymentFailed = "admission fee payment failed, the student remains enrolled"
)
