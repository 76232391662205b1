package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

type (
	OpenEnrollmentRequest struct {
		ReservationID int `json:"reservation_id" validate:"required,gt=0"`
	}

	ReservationDetail struct {
		reservation.Reservation
		Actions reservation.Actions `json:"actions"`
	}
)

// bindFilter reads the listing filter from the query string and applies its defaults.
func bindFilter(ctx echo.Context) (reservation.ListFilter, error) {
	var filter reservation.ListFilter
	if err := ctx.Bind(&filter); err != nil {
		return filter, core.NewValidationError(errors.New("invalid filter"))
	}
	filter.Clean()
	if !filter.Status.IsValid() {
		return filter, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "unknown status " + string(filter.Status)})
	}
	return filter, nil
}

func pathID(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(nil, core.FieldError{Field: name, Error: "invalid id"})
	}
	return id, nil
}
