package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/admissions/core/enrollment"
)

type (
	journalRepository struct {
		db *sqlx.DB
	}

	journalRow struct {
		ID             int64               `db:"id"`
		SessionID      string              `db:"session_id"`
		BranchID       int                 `db:"branch_id"`
		AcademicYearID int                 `db:"academic_year_id"`
		ReservationID  int                 `db:"reservation_id"`
		Operator       string              `db:"operator"`
		Action         string              `db:"action"`
		Outcome        string              `db:"outcome"`
		Error          null.String         `db:"error"`
		Diff           null.String         `db:"diff"`
		StudentID      null.Int            `db:"student_id"`
		ReceiptNo      null.String         `db:"receipt_no"`
		Amount         decimal.NullDecimal `db:"amount"`
		CreatedAt      time.Time           `db:"created_at"`
	}
)

var _ enrollment.Journal = (*journalRepository)(nil) // interface compliance check

func NewJournalRepository(db *sqlx.DB) *journalRepository {
	return &journalRepository{db: db}
}

func toRow(e enrollment.Entry) journalRow {
	return journalRow{
		SessionID:      e.SessionID,
		BranchID:       e.BranchID,
		AcademicYearID: e.AcademicYearID,
		ReservationID:  e.ReservationID,
		Operator:       e.Operator,
		Action:         string(e.Action),
		Outcome:        string(e.Outcome),
		Error:          null.NewString(e.Error, e.Error != ""),
		Diff:           null.NewString(e.Diff, e.Diff != ""),
		StudentID:      null.NewInt(e.StudentID, e.StudentID != 0),
		ReceiptNo:      null.NewString(e.ReceiptNo, e.ReceiptNo != ""),
		Amount:         e.Amount,
	}
}

func (row journalRow) entry() enrollment.Entry {
	return enrollment.Entry{
		ID:             row.ID,
		SessionID:      row.SessionID,
		BranchID:       row.BranchID,
		AcademicYearID: row.AcademicYearID,
		ReservationID:  row.ReservationID,
		Operator:       row.Operator,
		Action:         enrollment.Action(row.Action),
		Outcome:        enrollment.Outcome(row.Outcome),
		Error:          row.Error.String,
		Diff:           row.Diff.String,
		StudentID:      row.StudentID.Int,
		ReceiptNo:      row.ReceiptNo.String,
		Amount:         row.Amount,
		CreatedAt:      row.CreatedAt.UTC(),
	}
}

const insertEntry = `
INSERT INTO enrollment_journal (
	session_id, branch_id, academic_year_id, reservation_id, operator, action, outcome,
	error, diff, student_id, receipt_no, amount
) VALUES (
	:session_id, :branch_id, :academic_year_id, :reservation_id, :operator, :action, :outcome,
	:error, :diff, :student_id, :receipt_no, :amount
) RETURNING id, created_at`

func (repo *journalRepository) Record(ctx context.Context, entry enrollment.Entry) (enrollment.Entry, error) {
	row := toRow(entry)
	query, args, err := repo.db.BindNamed(insertEntry, row)
	if err != nil {
		return enrollment.Entry{}, errors.Wrap(err, "binding journal entry")
	}
	if err := repo.db.QueryRowxContext(ctx, query, args...).Scan(&row.ID, &row.CreatedAt); err != nil {
		return enrollment.Entry{}, errors.Wrap(err, "inserting journal entry")
	}
	return row.entry(), nil
}

const selectByReservation = `
SELECT id, session_id, branch_id, academic_year_id, reservation_id, operator, action, outcome,
	error, diff, student_id, receipt_no, amount, created_at
FROM enrollment_journal
WHERE branch_id = $1 AND reservation_id = $2
ORDER BY id ASC`

func (repo *journalRepository) ListByReservation(ctx context.Context, branchID, reservationID int) ([]enrollment.Entry, error) {
	var rows []journalRow
	if err := repo.db.SelectContext(ctx, &rows, selectByReservation, branchID, reservationID); err != nil {
		return nil, errors.Wrap(err, "querying journal entries")
	}
	entries := make([]enrollment.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}
