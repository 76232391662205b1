package reservation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
)

// ErrListUnavailable is the indicator shown when reservations could not be loaded.
const ErrListUnavailable = "reservations could not be loaded, please retry"

type (
	// Reader is the read side of a branch backend.
	Reader interface {
		ListReservations(ctx context.Context, filter ListFilter) (Page, error)
		GetReservation(ctx context.Context, id int) (Reservation, error)
	}

	Service struct {
		cache  core.QueryCache
		logger core.Logger
	}
)

func NewService(cache core.QueryCache, logger core.Logger) *Service {
	return &Service{cache: cache, logger: logger}
}

func listCacheKey(sess core.Session, f ListFilter) string {
	return fmt.Sprintf("list:%d:%d:%s:%d:%d", sess.BranchID, sess.AcademicYearID, f.Status, f.Page, f.PageSize)
}

// Browse returns the reservations matching filter. It never fails: a read error yields an empty listing
// with Error set.
func (svc *Service) Browse(ctx context.Context, sess core.Session, backend Reader, filter ListFilter) Listing {
	filter.Clean()
	listing := Listing{Filter: filter}

	var (
		page Page
		err  error
	)
	if filter.Search != "" {
		page, err = svc.search(ctx, sess, backend, filter)
	} else {
		page, err = svc.fetch(ctx, sess, backend, filter)
	}
	if err != nil {
		svc.logger.Error(err.Error(), sess)
		listing.Page = Page{Page: filter.Page, PageSize: filter.PageSize, Results: []Reservation{}}
		listing.Error = ErrListUnavailable
		return listing
	}
	listing.Page = page
	return listing
}

// search walks every backend page of the filter's status, keeps the matching reservations and pages them
// locally, so Count is the number of matches.
func (svc *Service) search(ctx context.Context, sess core.Session, backend Reader, filter ListFilter) (Page, error) {
	walk := ListFilter{Status: filter.Status, PageSize: MaxPageSize}
	matches := make([]Reservation, 0)
	for walk.Page = 1; ; walk.Page++ {
		page, err := svc.fetch(ctx, sess, backend, walk)
		if err != nil {
			return Page{}, err
		}
		for _, r := range page.Results {
			if r.Matches(filter.Search) {
				matches = append(matches, r)
			}
		}
		if len(page.Results) == 0 || walk.Page*walk.PageSize >= page.Count {
			break
		}
	}

	start := (filter.Page - 1) * filter.PageSize
	if start > len(matches) {
		start = len(matches)
	}
	end := start + filter.PageSize
	if end > len(matches) {
		end = len(matches)
	}
	return Page{
		Count:    len(matches),
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Results:  matches[start:end],
	}, nil
}

func (svc *Service) fetch(ctx context.Context, sess core.Session, backend Reader, filter ListFilter) (Page, error) {
	key := listCacheKey(sess, filter)
	var page Page
	if svc.cache != nil {
		found, err := svc.cache.Get(ctx, core.CacheGroupReservations, key, &page)
		if err != nil {
			svc.logger.Warn(errors.Wrap(err, "reservation.Browse: cache.Get").Error())
		} else if found {
			return page, nil
		}
	}

	page, err := backend.ListReservations(ctx, filter)
	if err != nil {
		return Page{}, errors.Wrap(err, "reservation.Browse: backend.ListReservations")
	}
	if page.Page == 0 {
		page.Page = filter.Page
	}
	if page.PageSize == 0 {
		page.PageSize = filter.PageSize
	}
	if page.Results == nil {
		page.Results = []Reservation{}
	}

	if svc.cache != nil {
		if err := svc.cache.Set(ctx, core.CacheGroupReservations, key, page); err != nil {
			svc.logger.Warn(errors.Wrap(err, "reservation.Browse: cache.Set").Error())
		}
	}
	return page, nil
}

// Get loads the canonical record, bypassing the cache.
func (svc *Service) Get(ctx context.Context, backend Reader, id int) (Reservation, error) {
	r, err := backend.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, errors.Wrap(err, "reservation.Get")
	}
	return r, nil
}
