package main

import (
	"context"
	"fmt"
	"text/tabwriter"
)

func (cli *commandLine) printJournal(ctx context.Context, reservationID int) error {
	sess, err := cli.session()
	if err != nil {
		return err
	}
	entries, err := cli.enrollment.History(ctx, sess, reservationID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(cli.out, "no journal entries for reservation %d\n", reservationID)
		return nil
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATOR\tACTION\tOUTCOME\tDETAILS")
	for _, e := range entries {
		details := e.Error
		switch {
		case e.ReceiptNo != "":
			details = "receipt " + e.ReceiptNo
		case e.StudentID > 0 && details == "":
			details = fmt.Sprintf("student %d", e.StudentID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Operator, e.Action, e.Outcome, details)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Diff != "" {
			fmt.Fprintf(cli.out, "\n%s %s:\n%s", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Diff)
		}
	}
	return nil
}
