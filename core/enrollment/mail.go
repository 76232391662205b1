package enrollment

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	"strconv"
	texttmpl "text/template"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/reservation"
)

var (
	receiptTextTmpl = texttmpl.Must(texttmpl.New("receipt.txt").Parse(
		`Dear parent of {{.StudentName}},

We have received the admission fee of {{.Amount}} ({{.Method}}) for admission no. {{.AdmissionNo}}.
Receipt no.: {{.ReceiptNo}}

The receipt is attached to this email.
`))

	receiptHTMLTmpl = htmltmpl.Must(htmltmpl.New("receipt.html").Parse(
		`<p>Dear parent of {{.StudentName}},</p>
<p>We have received the admission fee of <strong>{{.Amount}}</strong> ({{.Method}}) for admission no. <strong>{{.AdmissionNo}}</strong>.<br>
Receipt no.: {{.ReceiptNo}}</p>
<p>The receipt is attached to this email.</p>
`))
)

// ReceiptMailCategory tags receipt emails.
const ReceiptMailCategory = "admission-fee-receipt"

type receiptMailData struct {
	StudentName string
	AdmissionNo string
	ReceiptNo   string
	Amount      string
	Method      PaymentMethod
}

// receiptMessage builds the email sending a payment receipt to the guardian.
// It returns nil when the reservation has no guardian email.
func receiptMessage(
	res reservation.Reservation,
	student CreatedStudent,
	receipt Receipt,
	amount decimal.Decimal,
	method PaymentMethod,
) (*core.EmailMessage, error) {
	if res.GuardianEmail == "" {
		return nil, nil
	}
	to, err := mail.ParseAddress(res.GuardianEmail)
	if err != nil {
		return nil, errors.Wrap(err, "parsing guardian email")
	}

	msg := &core.EmailMessage{
		To:       []mail.Address{*to},
		Subject:  "Admission fee receipt " + receipt.Number,
		Category: ReceiptMailCategory,
		Args: map[string]string{
			"reservation_id": strconv.Itoa(res.ID),
			"admission_no":   student.AdmissionNo,
			"receipt_no":     receipt.Number,
		},
	}
	data := receiptMailData{
		StudentName: res.StudentName,
		AdmissionNo: student.AdmissionNo,
		ReceiptNo:   receipt.Number,
		Amount:      amount.StringFixed(2),
		Method:      method,
	}
	if err := msg.Render(receiptTextTmpl, receiptHTMLTmpl, data); err != nil {
		return nil, err
	}
	if receipt.HasDocument() {
		if err := msg.Attach(bytes.NewReader(receipt.Document), receipt.Filename(), receipt.ContentType); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
