package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
)

const msgBackendFailed = "the school backend could not complete the request"

// viewError carries the session view to render along with a failed operation.
type viewError struct {
	err  error
	view enrollment.View
}

func withView(err error, v enrollment.View) error {
	if err == nil {
		return nil
	}
	return &viewError{err: err, view: v}
}

func (e *viewError) Error() string { return e.err.Error() }
func (e *viewError) Cause() error  { return e.err }
func (e *viewError) Unwrap() error { return e.err }

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var view *enrollment.View
		var vErr *viewError
		if errors.As(err, &vErr) {
			view = &vErr.view
		}

		var stateErr *core.StateError
		switch {
		case errors.As(err, &stateErr):
			code = http.StatusConflict
			message = stateErr.Err.Error()
		case errors.Is(err, enrollment.ErrSessionNotFound), errors.Is(err, core.ErrNotFound):
			code = http.StatusNotFound
			message = errors.Cause(err).Error()
		}

		if code == 0 {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				code = http.StatusBadRequest
				message = core.TranslateErrors(origErr, translator)
			case *core.ValidationError:
				if origErr.Fields != nil {
					message = core.TranslateErrors(origErr, translator)
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			case *core.BackendError, *enrollment.ResponseShapeError:
				code = http.StatusBadGateway
				if view != nil && view.Error != "" {
					message = view.Error
				} else {
					message = core.UserMessage(err, msgBackendFailed)
				}
				logger.Warn(err.Error(), logArgs(ctx)...)
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg
				logger.Error(msg, logArgs(ctx, errors.Wrap(err, msg))...)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		switch m := message.(type) {
		case string:
			body := echo.Map{"error": m}
			if view != nil {
				body["enrollment"] = view
			}
			message = body
		case map[string]string:
			if view != nil {
				message = echo.Map{"errors": m, "enrollment": view}
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// logArgs appends the operator session to args, if authenticated.
func logArgs(ctx echo.Context, args ...interface{}) []interface{} {
	if sess, err := getContextSession(ctx); err == nil {
		args = append(args, sess)
	}
	return args
}
