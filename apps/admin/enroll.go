package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/apps"
	"github.com/trezcool/admissions/core/enrollment"
)

type enrollOptions struct {
	reservationID int
	pay           bool
	amount        string
	method        string
	remarks       string
	receiptPath   string
}

// enroll runs the enrollment workflow of one reservation from the terminal.
func (cli *commandLine) enroll(ctx context.Context, opts enrollOptions) error {
	payment := enrollment.Payment{Method: enrollment.PaymentMethod(opts.method), Remarks: opts.remarks}
	if opts.amount != "" {
		amount, err := decimal.NewFromString(opts.amount)
		if err != nil {
			return apps.NewArgumentError(fmt.Sprintf("invalid amount %q", opts.amount))
		}
		payment.Amount = decimal.NewNullDecimal(amount)
	}

	sess, err := cli.session()
	if err != nil {
		return err
	}
	s, err := cli.enrollment.Open(ctx, sess, opts.reservationID)
	if err != nil {
		return err
	}
	defer func() { _ = cli.enrollment.Close(sess, s.ID) }()

	v := s.View()
	fmt.Fprintf(cli.out, "%s %s (%s)\n", v.Reservation.ReservationNo, v.Reservation.StudentName, v.Reservation.Status)

	if v.Reservation.IsEnrolled {
		fmt.Fprintf(cli.out, "already enrolled: admission no %s\n", v.Reservation.AdmissionNo)
	} else {
		if v, err = s.Enroll(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "enrolled: student %d, admission no %s\n", v.Student.StudentID, v.Student.AdmissionNo)
	}

	if !opts.pay {
		return nil
	}
	if v.State != enrollment.StatePayment {
		if _, err = s.OpenPayment(); err != nil {
			return err
		}
	}
	if !payment.Amount.Valid {
		fmt.Fprintf(cli.out, "paying the default admission fee %s\n", cli.enrollment.DefaultFee())
	}
	if _, err = s.Pay(ctx, payment); err != nil {
		return err
	}

	receipt, err := s.Receipt()
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "admission fee paid: receipt %s\n", receipt.Number)
	if opts.receiptPath != "" && receipt.HasDocument() {
		if err := os.WriteFile(opts.receiptPath, receipt.Document, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "receipt saved to %s\n", opts.receiptPath)
	}
	return nil
}
