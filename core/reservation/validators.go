package reservation

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
)

var (
	collegeRequiredTag  = "college_required"
	collegeRequiredText = "group and course are required for college admissions"

	concessionTag  = "concession"
	concessionText = "concession must be between 0 and the fee amount"

	feeTag  = "fee"
	feeText = "fee cannot be negative"
)

// InitValidators registers the reservation rules on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(editStructValidation, Edit{})
	core.RegisterCustomTranslation(validate, translator, collegeRequiredTag, collegeRequiredText)
	core.RegisterCustomTranslation(validate, translator, concessionTag, concessionText)
	core.RegisterCustomTranslation(validate, translator, feeTag, feeText)
}

// NewValidator returns a validator with the core and reservation rules registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	InitValidators(validate, translator)
	return validate, translator
}

// editStructValidation does struct level validation on Edit.
func editStructValidation(sl validator.StructLevel) {
	e, ok := sl.Current().Interface().(Edit)
	if !ok {
		return
	}

	// a selected group already makes the course required (required_with)
	if e.college && e.GroupID == 0 {
		sl.ReportError(e.GroupID, "group_id", "GroupID", collegeRequiredTag, "")
		if e.CourseID == 0 {
			sl.ReportError(e.CourseID, "course_id", "CourseID", collegeRequiredTag, "")
		}
	}

	checkFee := func(name, field string, fee decimal.Decimal) {
		if fee.IsNegative() {
			sl.ReportError(fee, name, field, feeTag, "")
		}
	}
	checkFee("application_fee", "ApplicationFee", e.ApplicationFee)
	checkFee("tuition_fee", "TuitionFee", e.TuitionFee)
	checkFee("book_fee", "BookFee", e.BookFee)
	checkFee("transport_fee", "TransportFee", e.TransportFee)

	// a negative fee is already reported on its own field
	checkConcession := func(name, field string, concession, fee decimal.Decimal) {
		if fee.IsNegative() {
			return
		}
		if concession.IsNegative() || concession.GreaterThan(fee) {
			sl.ReportError(concession, name, field, concessionTag, "")
		}
	}
	checkConcession("tuition_concession", "TuitionConcession", e.TuitionConcession, e.TuitionFee)
	checkConcession("book_concession", "BookConcession", e.BookConcession, e.BookFee)
	checkConcession("transport_concession", "TransportConcession", e.TransportConcession, e.TransportFee)
}
