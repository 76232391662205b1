package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
)

type enrollmentApi struct {
	svc      *enrollment.Service
	validate *validator.Validate
}

func registerEnrollmentAPI(g *echo.Group, authed []echo.MiddlewareFunc, opts *Options) {
	api := enrollmentApi{
		svc:      opts.Enrollment,
		validate: opts.Validate,
	}

	eg := g.Group("/enrollments", authed...)
	eg.POST("", api.open)
	eg.GET("/events", api.events)

	// session endpoints
	sg := eg.Group("/:sid", enrollmentMiddleware(api.svc))
	sg.GET("", api.retrieve)
	sg.DELETE("", api.close)
	sg.POST("/edit", api.beginEdit)
	sg.PUT("/edit", api.save)
	sg.DELETE("/edit", api.cancelEdit)
	sg.POST("/enroll", api.enroll)
	sg.POST("/payment", api.openPayment)
	sg.DELETE("/payment", api.dismissPayment)
	sg.POST("/payment/pay", api.pay)
	sg.GET("/receipt", api.receipt)
}

// Handlers

func (api *enrollmentApi) open(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data OpenEnrollmentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OpenEnrollmentRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	s, err := api.svc.Open(ctx.Request().Context(), sess, data.ReservationID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, s.View())
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, getContextEnrollment(ctx).View())
}

func (api *enrollmentApi) close(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Close(sess, ctx.Param("sid")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollmentApi) beginEdit(ctx echo.Context) error {
	v, err := getContextEnrollment(ctx).BeginEdit()
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) save(ctx echo.Context) error {
	var data reservation.Edit
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to reservation.Edit")
	}
	v, err := getContextEnrollment(ctx).Save(ctx.Request().Context(), data)
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) cancelEdit(ctx echo.Context) error {
	v, err := getContextEnrollment(ctx).CancelEdit()
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	v, err := getContextEnrollment(ctx).Enroll(ctx.Request().Context())
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) openPayment(ctx echo.Context) error {
	v, err := getContextEnrollment(ctx).OpenPayment()
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) dismissPayment(ctx echo.Context) error {
	v, err := getContextEnrollment(ctx).DismissPayment()
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) pay(ctx echo.Context) error {
	var data enrollment.Payment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to enrollment.Payment")
	}
	v, err := getContextEnrollment(ctx).Pay(ctx.Request().Context(), data)
	if err != nil {
		return withView(err, v)
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *enrollmentApi) receipt(ctx echo.Context) error {
	receipt, err := getContextEnrollment(ctx).Receipt()
	if err != nil {
		return err
	}
	if !receipt.HasDocument() {
		return ctx.JSON(http.StatusOK, receipt)
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", receipt.Filename()))
	return ctx.Blob(http.StatusOK, receipt.ContentType, receipt.Document)
}

// events streams the committed writes of the operator's branch as server-sent events.
func (api *enrollmentApi) events(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	events, stop := api.svc.Subscribe(16)
	defer stop()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.BranchID != sess.BranchID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return errors.Wrap(err, "encoding event")
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
