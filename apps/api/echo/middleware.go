package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
)

const contextEnrollmentKey = "enrollment"

// sessionMiddleware builds the operator's core.Session from the token claims.
func (a *authenticator) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token, claims, err := getContextToken(ctx)
		if err != nil {
			return err
		}
		sess, err := core.NewSession(claims.Subject, claims.Username, claims.BranchID, claims.BranchType, claims.AcademicYearID, token.Raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		ctx.Set(contextSessionKey, sess)
		return next(ctx)
	}
}

func getContextSession(ctx echo.Context) (core.Session, error) {
	if sess, ok := ctx.Get(contextSessionKey).(core.Session); ok {
		return sess, nil
	}
	return core.Session{}, errUnauthorized
}

// enrollmentMiddleware loads the operator's enrollment session named by the `sid` path param.
func enrollmentMiddleware(svc *enrollment.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess, err := getContextSession(ctx)
			if err != nil {
				return err
			}
			s, err := svc.Session(sess, ctx.Param("sid"))
			if err != nil {
				return err
			}
			ctx.Set(contextEnrollmentKey, s)
			return next(ctx)
		}
	}
}

func getContextEnrollment(ctx echo.Context) *enrollment.Session {
	s, _ := ctx.Get(contextEnrollmentKey).(*enrollment.Session)
	return s
}
