package reservation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func incomeID(id int) *int { return &id }

func TestReservation_Actions(t *testing.T) {
	tests := []struct {
		name string
		res  Reservation
		want Actions
	}{
		{
			name: "confirmed, not enrolled",
			res:  Reservation{Status: StatusConfirmed},
			want: Actions{CanEdit: true, CanEnroll: true},
		},
		{
			name: "pending",
			res:  Reservation{Status: StatusPending},
			want: Actions{CanEdit: true},
		},
		{
			name: "cancelled",
			res:  Reservation{Status: StatusCancelled},
			want: Actions{CanEdit: true},
		},
		{
			name: "enrolled, unpaid",
			res:  Reservation{Status: StatusConfirmed, IsEnrolled: true, StudentID: 501},
			want: Actions{Indicator: IndicatorEnrolled, CanPay: true},
		},
		{
			name: "enrolled, paid",
			res:  Reservation{Status: StatusConfirmed, IsEnrolled: true, StudentID: 501, AdmissionIncomeID: incomeID(77)},
			want: Actions{Indicator: IndicatorEnrolled, AdmissionFeePaid: true, FeeIndicator: IndicatorPaid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Actions())
		})
	}
}

func TestReservation_CanEnroll_onlyConfirmed(t *testing.T) {
	for _, status := range AllStatuses {
		for _, enrolled := range []bool{false, true} {
			r := Reservation{Status: status, IsEnrolled: enrolled}
			assert.Equal(t, status == StatusConfirmed && !enrolled, r.CanEnroll(), "%s enrolled=%v", status, enrolled)
		}
	}
}

func TestReservation_Matches(t *testing.T) {
	r := Reservation{StudentName: "John Doe", ReservationNo: "RES-2024-0042", AadharNo: "123456789012"}

	tests := []struct {
		search string
		want   bool
	}{
		{search: "", want: true},
		{search: "  ", want: true},
		{search: "john", want: true},
		{search: "DOE", want: true},
		{search: "res-2024", want: true},
		{search: "56789", want: true},
		{search: "jane", want: false},
		{search: "9999", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Matches(tt.search))
		})
	}
}

func TestReservation_NetFees(t *testing.T) {
	r := Reservation{
		TuitionFee:          decimal.NewFromInt(20000),
		TuitionConcession:   decimal.NewFromInt(2500),
		BookFee:             decimal.NewFromInt(1500),
		BookConcession:      decimal.NewFromInt(2000),
		TransportFee:        decimal.NewFromInt(6000),
		TransportConcession: decimal.NewFromInt(1000),
	}
	assert.True(t, r.NetTuitionFee().Equal(decimal.NewFromInt(17500)))
	assert.True(t, r.NetBookFee().IsZero())
	assert.True(t, r.NetTransportFee().IsZero(), "transport not required")

	r.TransportRequired = true
	assert.True(t, r.NetTransportFee().Equal(decimal.NewFromInt(5000)))
}

func TestListFilter_Clean(t *testing.T) {
	tests := []struct {
		name   string
		filter ListFilter
		want   ListFilter
	}{
		{
			name:   "defaults",
			filter: ListFilter{},
			want:   ListFilter{Status: StatusConfirmed, Page: 1, PageSize: DefaultPageSize},
		},
		{
			name:   "lower case status",
			filter: ListFilter{Status: " pending ", Search: "  doe ", Page: 3, PageSize: 10},
			want:   ListFilter{Status: StatusPending, Search: "doe", Page: 3, PageSize: 10},
		},
		{
			name:   "page size capped",
			filter: ListFilter{Status: StatusCancelled, PageSize: 1000},
			want:   ListFilter{Status: StatusCancelled, Page: 1, PageSize: MaxPageSize},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.filter.Clean()
			assert.Equal(t, tt.want, tt.filter)
		})
	}
}
