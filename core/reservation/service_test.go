package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/admissions/core"
)

type readerMock struct {
	page    Page
	err     error
	calls   int
	filters []ListFilter
}

func (m *readerMock) ListReservations(_ context.Context, filter ListFilter) (Page, error) {
	m.calls++
	m.filters = append(m.filters, filter)
	return m.page, m.err
}

func (m *readerMock) GetReservation(_ context.Context, id int) (Reservation, error) {
	for _, r := range m.page.Results {
		if r.ID == id {
			return r, nil
		}
	}
	return Reservation{}, core.ErrNotFound
}

// pagedReader pages records like the backend does.
type pagedReader struct {
	records    []Reservation
	failOnPage int
	filters    []ListFilter
}

func (m *pagedReader) ListReservations(_ context.Context, filter ListFilter) (Page, error) {
	m.filters = append(m.filters, filter)
	if filter.Page == m.failOnPage {
		return Page{}, errors.New("connection reset")
	}
	start := (filter.Page - 1) * filter.PageSize
	if start > len(m.records) {
		start = len(m.records)
	}
	end := start + filter.PageSize
	if end > len(m.records) {
		end = len(m.records)
	}
	return Page{Count: len(m.records), Page: filter.Page, PageSize: filter.PageSize, Results: m.records[start:end]}, nil
}

func (m *pagedReader) GetReservation(context.Context, int) (Reservation, error) {
	return Reservation{}, core.ErrNotFound
}

func reservationIDs(rs []Reservation) []int {
	ids := make([]int, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

// mapCache stores JSON so cached pages are decoded like a real cache would.
type mapCache map[string][]byte

func (c mapCache) Get(_ context.Context, group, key string, dest interface{}) (bool, error) {
	data, ok := c[group+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c mapCache) Set(_ context.Context, group, key string, value interface{}) error {
	data, err := json.Marshal(value)
	c[group+"/"+key] = data
	return err
}

func (c mapCache) InvalidateGroups(_ context.Context, groups ...string) error {
	for k := range c {
		for _, g := range groups {
			if len(k) > len(g) && k[:len(g)+1] == g+"/" {
				delete(c, k)
			}
		}
	}
	return nil
}

var testSession = core.Session{UserID: "1", Username: "desk", BranchID: 3, BranchType: core.BranchSchool, AcademicYearID: 2024}

func samplePage() Page {
	return Page{
		Count: 3,
		Results: []Reservation{
			{ID: 1, ReservationNo: "RES-1", StudentName: "John Doe", Status: StatusConfirmed, AadharNo: "111122223333"},
			{ID: 2, ReservationNo: "RES-2", StudentName: "Jane Roe", Status: StatusConfirmed},
			{ID: 3, ReservationNo: "RES-3", StudentName: "Johnny Bravo", Status: StatusConfirmed},
		},
	}
}

func TestService_Browse(t *testing.T) {
	t.Run("defaults to confirmed", func(t *testing.T) {
		reader := &readerMock{page: samplePage()}
		svc := NewService(nil, core.NopLogger{})

		listing := svc.Browse(context.Background(), testSession, reader, ListFilter{})
		require.Len(t, reader.filters, 1)
		assert.Equal(t, StatusConfirmed, reader.filters[0].Status)
		assert.Len(t, listing.Results, 3)
		assert.Empty(t, listing.Error)
		assert.Equal(t, 1, listing.Page.Page)
		assert.Equal(t, DefaultPageSize, listing.PageSize)
	})

	t.Run("search", func(t *testing.T) {
		reader := &readerMock{page: samplePage()}
		svc := NewService(nil, core.NopLogger{})

		tests := []struct {
			search string
			want   []int
		}{
			{search: "john", want: []int{1, 3}},
			{search: "RES-2", want: []int{2}},
			{search: "2222", want: []int{1}},
			{search: "nobody", want: []int{}},
		}
		for _, tt := range tests {
			listing := svc.Browse(context.Background(), testSession, reader, ListFilter{Search: tt.search})
			ids := make([]int, 0, len(listing.Results))
			for _, r := range listing.Results {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, tt.want, ids, tt.search)
		}
	})

	t.Run("search spans backend pages", func(t *testing.T) {
		reader := &pagedReader{}
		for id := 1; id <= 250; id++ {
			name := fmt.Sprintf("Student %03d", id)
			if id == 22 || id == 140 || id == 233 {
				name = fmt.Sprintf("Zed Zulu %d", id)
			}
			reader.records = append(reader.records, Reservation{ID: id, StudentName: name, Status: StatusConfirmed})
		}
		svc := NewService(nil, core.NopLogger{})

		first := svc.Browse(context.Background(), testSession, reader, ListFilter{Search: "zed", PageSize: 2})
		assert.Empty(t, first.Error)
		assert.Equal(t, 3, first.Count)
		assert.Equal(t, 1, first.Page.Page)
		assert.Equal(t, []int{22, 140}, reservationIDs(first.Results))
		require.Len(t, reader.filters, 3)
		for i, f := range reader.filters {
			assert.Equal(t, i+1, f.Page)
			assert.Equal(t, MaxPageSize, f.PageSize)
		}

		second := svc.Browse(context.Background(), testSession, reader, ListFilter{Search: "zed", Page: 2, PageSize: 2})
		assert.Equal(t, 3, second.Count)
		assert.Equal(t, []int{233}, reservationIDs(second.Results))

		beyond := svc.Browse(context.Background(), testSession, reader, ListFilter{Search: "zed", Page: 5, PageSize: 2})
		assert.Equal(t, 3, beyond.Count)
		assert.NotNil(t, beyond.Results)
		assert.Empty(t, beyond.Results)
	})

	t.Run("search failure degrades to an empty list", func(t *testing.T) {
		reader := &pagedReader{failOnPage: 2}
		for id := 1; id <= 150; id++ {
			reader.records = append(reader.records, Reservation{ID: id, StudentName: "Zed", Status: StatusConfirmed})
		}
		svc := NewService(nil, core.NopLogger{})

		listing := svc.Browse(context.Background(), testSession, reader, ListFilter{Search: "zed"})
		assert.Equal(t, ErrListUnavailable, listing.Error)
		assert.Empty(t, listing.Results)
	})

	t.Run("backend failure degrades to an empty list", func(t *testing.T) {
		reader := &readerMock{err: errors.New("connection refused")}
		svc := NewService(nil, core.NopLogger{})

		listing := svc.Browse(context.Background(), testSession, reader, ListFilter{Status: StatusPending})
		assert.NotNil(t, listing.Results)
		assert.Empty(t, listing.Results)
		assert.Equal(t, ErrListUnavailable, listing.Error)
		assert.Equal(t, StatusPending, listing.Filter.Status)
	})

	t.Run("cached until invalidated", func(t *testing.T) {
		reader := &readerMock{page: samplePage()}
		cache := mapCache{}
		svc := NewService(cache, core.NopLogger{})
		ctx := context.Background()

		first := svc.Browse(ctx, testSession, reader, ListFilter{})
		svc.Browse(ctx, testSession, reader, ListFilter{})
		assert.Equal(t, 1, reader.calls)
		assert.Len(t, first.Results, 3)

		jane := svc.Browse(ctx, testSession, reader, ListFilter{Search: "jane"})
		john := svc.Browse(ctx, testSession, reader, ListFilter{Search: "john"})
		assert.Equal(t, 2, reader.calls, "searches share the cached backend pages")
		assert.Len(t, jane.Results, 1)
		assert.Len(t, john.Results, 2)

		other := testSession
		other.BranchID = 4
		svc.Browse(ctx, other, reader, ListFilter{})
		assert.Equal(t, 3, reader.calls, "cache is per branch")

		require.NoError(t, cache.InvalidateGroups(ctx, core.CacheGroupReservations))
		svc.Browse(ctx, testSession, reader, ListFilter{})
		assert.Equal(t, 4, reader.calls)
	})
}

func TestService_Get(t *testing.T) {
	svc := NewService(nil, core.NopLogger{})
	reader := &readerMock{page: samplePage()}

	r, err := svc.Get(context.Background(), reader, 2)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", r.StudentName)

	_, err = svc.Get(context.Background(), reader, 99)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
