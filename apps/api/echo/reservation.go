package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
)

type reservationApi struct {
	branches   enrollment.Branches
	svc        *reservation.Service
	enrollment *enrollment.Service
}

func registerReservationAPI(g *echo.Group, authed []echo.MiddlewareFunc, opts *Options) {
	api := reservationApi{
		branches:   opts.Branches,
		svc:        opts.Reservations,
		enrollment: opts.Enrollment,
	}

	rg := g.Group("/reservations", authed...)
	rg.GET("", api.query)
	rg.GET("/:id", api.retrieve)
	rg.GET("/:id/journal", api.journal)
}

// Handlers

func (api *reservationApi) query(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	filter, err := bindFilter(ctx)
	if err != nil {
		return err
	}
	adapter, err := api.branches.Adapter(sess)
	if err != nil {
		return errors.Wrap(err, "resolving branch adapter")
	}

	// a failed read still answers 200 with an empty listing and its error indicator
	listing := api.svc.Browse(ctx.Request().Context(), sess, adapter, filter)
	return ctx.JSON(http.StatusOK, listing)
}

func (api *reservationApi) retrieve(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	adapter, err := api.branches.Adapter(sess)
	if err != nil {
		return errors.Wrap(err, "resolving branch adapter")
	}

	res, err := api.svc.Get(ctx.Request().Context(), adapter, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ReservationDetail{Reservation: res, Actions: res.Actions()})
}

func (api *reservationApi) journal(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	entries, err := api.enrollment.History(ctx.Request().Context(), sess, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, entries)
}
