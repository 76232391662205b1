package core

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Branch types
const (
	BranchSchool  = "SCHOOL"
	BranchCollege = "COLLEGE"
)

var errInvalidSession = errors.New("invalid session")

// Session is the operator's working context: who is acting, on which branch and academic year.
// It is built once when a request (or CLI run) starts and passed explicitly to whatever needs it.
type Session struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	BranchID       int    `json:"branch_id"`
	BranchType     string `json:"branch_type"`
	AcademicYearID int    `json:"academic_year_id"`
	Token          string `json:"-"` // bearer token forwarded to the backend
}

func NewSession(userID, username string, branchID int, branchType string, academicYearID int, token string) (Session, error) {
	sess := Session{
		UserID:         CleanString(userID),
		Username:       CleanString(username),
		BranchID:       branchID,
		BranchType:     strings.ToUpper(CleanString(branchType)),
		AcademicYearID: academicYearID,
		Token:          token,
	}
	if err := sess.Validate(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s Session) Validate() error {
	if s.BranchType != BranchSchool && s.BranchType != BranchCollege {
		return errors.Wrapf(errInvalidSession, "unknown branch type %q", s.BranchType)
	}
	if s.BranchID <= 0 {
		return errors.Wrap(errInvalidSession, "branch is required")
	}
	return nil
}

func (s Session) IsCollege() bool { return s.BranchType == BranchCollege }

// Operator names the acting user for logs and journals.
func (s Session) Operator() string {
	if s.Username != "" {
		return s.Username
	}
	return s.UserID
}

type sessionCtxKey struct{}

// WithSession attaches sess to ctx for code paths that only carry a context (loggers, journals).
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionCtxKey{}).(Session)
	return sess, ok
}
