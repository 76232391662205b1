package enrollment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/admissions/core/reservation"
)

func TestParseCreatedStudent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    CreatedStudent
		wantErr bool
	}{
		{
			name: "flat",
			body: `{"student_id": 501, "admission_no": "STU2024999"}`,
			want: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		},
		{
			name: "nested under data",
			body: `{"status": "success", "data": {"student_id": 501, "admission_no": "STU2024999"}}`,
			want: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		},
		{
			name: "nested wins over flat",
			body: `{"student_id": 1, "data": {"student_id": 501, "admission_no": "STU2024999"}}`,
			want: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		},
		{
			name: "string id",
			body: `{"data": {"student_id": "501", "admission_no": "STU2024999"}}`,
			want: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		},
		{
			name: "flat id with empty data",
			body: `{"student_id": 501, "admission_no": "STU2024999", "data": {}}`,
			want: CreatedStudent{StudentID: 501, AdmissionNo: "STU2024999"},
		},
		{name: "neither", body: `{"message": "Student created"}`, wantErr: true},
		{name: "null id", body: `{"data": {"student_id": null}}`, wantErr: true},
		{name: "zero id", body: `{"student_id": 0}`, wantErr: true},
		{name: "not json", body: `<html>502 Bad Gateway</html>`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCreatedStudent([]byte(tt.body))
			if tt.wantErr {
				var rse *ResponseShapeError
				require.True(t, errors.As(err, &rse), "got %v", err)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewStudentFrom(t *testing.T) {
	r := johnDoe()
	r.GroupID, r.CourseID = 2, 5
	r.MotherName = "Jane Doe"
	r.TransportFee = decimal.NewFromInt(6000)
	r.TransportConcession = decimal.NewFromInt(500)

	ns := NewStudentFrom(r)
	assert.Equal(t, 42, ns.ReservationID)
	assert.Equal(t, 2024, ns.AcademicYearID)
	assert.Equal(t, "John Doe", ns.StudentName)
	assert.Equal(t, "Jane Doe", ns.MotherName)
	assert.Equal(t, "richard@doe.test", ns.Email)
	assert.Equal(t, 6, ns.ClassID)
	assert.Equal(t, 2, ns.GroupID)
	assert.Equal(t, 5, ns.CourseID)
	assert.True(t, ns.TuitionFee.Equal(decimal.NewFromInt(20000)))
	assert.True(t, ns.TransportFee.IsZero(), "no transport requested")
	assert.True(t, ns.TransportConcession.IsZero())

	r.TransportRequired = true
	ns = NewStudentFrom(r)
	assert.True(t, ns.TransportFee.Equal(decimal.NewFromInt(6000)))
}

func TestReceipt_Filename(t *testing.T) {
	assert.Equal(t, "receipt-RCPT-7.pdf", Receipt{Number: "RCPT-7", IncomeID: 7}.Filename())
	assert.Equal(t, "receipt-7.pdf", Receipt{IncomeID: 7}.Filename())
}

func TestEditDiff(t *testing.T) {
	before := reservation.EditFrom(johnDoe())
	assert.Empty(t, EditDiff(before, before))

	after := before
	after.FatherMobile = "9123456780"
	diff := EditDiff(before, after)
	assert.Contains(t, diff, "--- snapshot")
	assert.Contains(t, diff, "+++ edit")
	assert.Contains(t, diff, `-  "father_mobile": "9876543210",`)
	assert.Contains(t, diff, `+  "father_mobile": "9123456780",`)
	assert.NotContains(t, diff, "student_name")
}
