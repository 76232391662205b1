package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"

	"github.com/trezcool/admissions/core/reservation"
)

const exportSheet = "Reservations"

var exportHeaders = []string{
	"Reservation No", "Student", "Status", "Class", "Group", "Course", "Father", "Mobile", "Email",
	"Tuition Fee", "Tuition Concession", "Book Fee", "Transport Fee", "Enrolled", "Admission No", "Admission Fee",
}

func (cli *commandLine) browse(ctx context.Context, filter reservation.ListFilter) (reservation.Listing, error) {
	sess, err := cli.session()
	if err != nil {
		return reservation.Listing{}, err
	}
	adapter, err := cli.branches.Adapter(sess)
	if err != nil {
		return reservation.Listing{}, err
	}
	listing := cli.reservations.Browse(ctx, sess, adapter, filter)
	if listing.Error != "" {
		return listing, errors.New(listing.Error)
	}
	return listing, nil
}

func (cli *commandLine) listReservations(ctx context.Context, filter reservation.ListFilter) error {
	filter.Clean()
	if !filter.Status.IsValid() {
		return fmt.Errorf("unknown status %q", filter.Status)
	}
	listing, err := cli.browse(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRESERVATION NO\tSTUDENT\tSTATUS\tCLASS\tSTATE")
	for _, r := range listing.Results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.ReservationNo, r.StudentName, r.Status, academics(r), r.Actions().Indicator)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "\npage %d, %d of %d reservation(s)\n", listing.Page.Page, len(listing.Results), listing.Count)
	return nil
}

// exportReservations writes every reservation matching filter to an Excel workbook.
func (cli *commandLine) exportReservations(ctx context.Context, filter reservation.ListFilter, path string) error {
	filter.Page, filter.PageSize = 1, reservation.MaxPageSize
	filter.Clean()
	if !filter.Status.IsValid() {
		return fmt.Errorf("unknown status %q", filter.Status)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}

	row := 2
	for {
		listing, err := cli.browse(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range listing.Results {
			if err := f.SetSheetRow(exportSheet, fmt.Sprintf("A%d", row), &[]interface{}{
				r.ReservationNo, r.StudentName, string(r.Status), r.ClassName, r.GroupName, r.CourseName,
				r.FatherName, r.FatherMobile, r.GuardianEmail,
				r.TuitionFee.InexactFloat64(), r.TuitionConcession.InexactFloat64(),
				r.BookFee.InexactFloat64(), r.TransportFee.InexactFloat64(),
				r.IsEnrolled, r.AdmissionNo, r.AdmissionFeePaid(),
			}); err != nil {
				return err
			}
			row++
		}
		// the backend pages before the search is applied
		if filter.Page*filter.PageSize >= listing.Count {
			break
		}
		filter.Page++
	}

	if err := f.SaveAs(path); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "exported %d reservation(s) to %s\n", row-2, path)
	return nil
}

func academics(r reservation.Reservation) string {
	if r.GroupName != "" {
		return r.GroupName + " / " + r.CourseName
	}
	return r.ClassName
}
