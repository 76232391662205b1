package backend

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
)

// branch holds the operations shared by schools and colleges.
type branch struct {
	client  *Client
	sess    core.Session
	segment string
}

func (b *branch) send(ctx context.Context, cl call) (*rest.Response, error) {
	return b.client.send(ctx, b.sess, b.segment, cl)
}

func (b *branch) sendJSON(ctx context.Context, cl call, dest interface{}) error {
	return b.client.sendJSON(ctx, b.sess, b.segment, cl, dest)
}

func (b *branch) ListReservations(ctx context.Context, filter reservation.ListFilter) (reservation.Page, error) {
	query := map[string]string{
		"page":      strconv.Itoa(filter.Page),
		"page_size": strconv.Itoa(filter.PageSize),
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	var page reservation.Page
	err := b.sendJSON(ctx, call{
		op:     "backend.ListReservations",
		method: rest.Get,
		path:   "/reservations",
		query:  query,
	}, &page)
	if err != nil {
		return reservation.Page{}, err
	}
	return page, nil
}

func (b *branch) GetReservation(ctx context.Context, id int) (reservation.Reservation, error) {
	var res reservation.Reservation
	err := b.sendJSON(ctx, call{
		op:     "backend.GetReservation",
		method: rest.Get,
		path:   "/reservations/" + strconv.Itoa(id),
	}, &res)
	if err != nil {
		var bErr *core.BackendError
		if errors.As(err, &bErr) && bErr.StatusCode == http.StatusNotFound {
			return reservation.Reservation{}, errors.Wrapf(core.ErrNotFound, "reservation %d", id)
		}
		return reservation.Reservation{}, err
	}
	return res, nil
}

func (b *branch) CreateStudent(ctx context.Context, reservationID int, payload enrollment.NewStudent) (enrollment.CreatedStudent, error) {
	const op = "backend.CreateStudent"
	body, err := json.Marshal(payload)
	if err != nil {
		return enrollment.CreatedStudent{}, errors.Wrap(err, op)
	}
	resp, err := b.send(ctx, call{
		op:      op,
		method:  rest.Post,
		path:    "/students/from-reservation/" + strconv.Itoa(reservationID),
		headers: map[string]string{"Content-Type": "application/json"},
		body:    body,
	})
	if err != nil {
		return enrollment.CreatedStudent{}, err
	}
	return enrollment.ParseCreatedStudent([]byte(resp.Body))
}

func (b *branch) PayByStudent(ctx context.Context, studentID int, req enrollment.PayRequest) (enrollment.Receipt, error) {
	const op = "backend.PayByStudent"
	body, err := json.Marshal(req)
	if err != nil {
		return enrollment.Receipt{}, errors.Wrap(err, op)
	}
	resp, err := b.send(ctx, call{
		op:     op,
		method: rest.Post,
		path:   "/income/pay-by-student/" + strconv.Itoa(studentID),
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/pdf, application/json",
		},
		body: body,
	})
	if err != nil {
		return enrollment.Receipt{}, err
	}
	return parseReceipt(op, resp)
}

// parseReceipt reads either a PDF body with the receipt metadata in headers, or a JSON body.
func parseReceipt(op string, resp *rest.Response) (enrollment.Receipt, error) {
	header := http.Header(resp.Headers)
	receipt := enrollment.Receipt{Number: header.Get(HeaderReceiptNo)}
	if id := header.Get(HeaderIncomeID); id != "" {
		incomeID, err := strconv.Atoi(id)
		if err != nil {
			return enrollment.Receipt{}, &enrollment.ResponseShapeError{Op: op, Reason: "invalid " + HeaderIncomeID + " header"}
		}
		receipt.IncomeID = incomeID
	}

	ct, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if ct == "" {
		if strings.HasPrefix(strings.TrimSpace(resp.Body), "{") {
			ct = "application/json"
		} else {
			ct, _, _ = mime.ParseMediaType(http.DetectContentType([]byte(resp.Body)))
		}
	}
	if ct == "application/json" || strings.HasSuffix(ct, "+json") {
		var meta struct {
			ReceiptNo string          `json:"receipt_no"`
			IncomeID  json.RawMessage `json:"income_id"`
		}
		if err := decodeData([]byte(resp.Body), &meta); err != nil {
			return enrollment.Receipt{}, &enrollment.ResponseShapeError{Op: op, Reason: err.Error()}
		}
		if receipt.Number == "" {
			receipt.Number = meta.ReceiptNo
		}
		if receipt.IncomeID == 0 && len(meta.IncomeID) > 0 {
			var id json.Number
			if err := json.Unmarshal(meta.IncomeID, &id); err == nil {
				if v, err := strconv.Atoi(id.String()); err == nil {
					receipt.IncomeID = v
				}
			}
		}
		return receipt, nil
	}

	receipt.ContentType = ct
	receipt.Document = []byte(resp.Body)
	return receipt, nil
}

type schoolAdapter struct {
	branch
}

var _ enrollment.BranchAdapter = (*schoolAdapter)(nil)

// UpdateReservation sends the edit as JSON.
func (a *schoolAdapter) UpdateReservation(ctx context.Context, id int, edit reservation.Edit) (reservation.Reservation, error) {
	const op = "backend.UpdateReservation"
	body, err := json.Marshal(edit)
	if err != nil {
		return reservation.Reservation{}, errors.Wrap(err, op)
	}
	return a.update(ctx, op, id, body, "application/json")
}

type collegeAdapter struct {
	branch
}

var _ enrollment.BranchAdapter = (*collegeAdapter)(nil)

// UpdateReservation sends the edit as a multipart form.
func (a *collegeAdapter) UpdateReservation(ctx context.Context, id int, edit reservation.Edit) (reservation.Reservation, error) {
	const op = "backend.UpdateReservation"
	body, ct, err := multipartForm(edit)
	if err != nil {
		return reservation.Reservation{}, errors.Wrap(err, op)
	}
	return a.update(ctx, op, id, body, ct)
}

func (b *branch) update(ctx context.Context, op string, id int, body []byte, ct string) (reservation.Reservation, error) {
	resp, err := b.send(ctx, call{
		op:      op,
		method:  rest.Put,
		path:    "/reservations/" + strconv.Itoa(id),
		headers: map[string]string{"Content-Type": ct},
		body:    body,
	})
	if err != nil {
		return reservation.Reservation{}, err
	}
	// some deployments answer 204 or a bare acknowledgement
	var res reservation.Reservation
	if err := decodeData([]byte(resp.Body), &res); err != nil {
		return reservation.Reservation{}, nil
	}
	return res, nil
}
