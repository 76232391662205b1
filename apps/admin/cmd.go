package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/trezcool/goose"
	"golang.org/x/term"

	"github.com/trezcool/admissions/apps"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	isTerminalFunc   = term.IsTerminal   // mockable
	gooseRunFunc     = goose.RunFS       // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf         *core.Config
	out          io.Writer
	branches     enrollment.Branches
	reservations *reservation.Service
	enrollment   *enrollment.Service
	openDB       func(ctx context.Context) (*sqlx.DB, error)

	sess *core.Session
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  reservations [-status STATUS] [-search TEXT] [-page N] [-size N] - list reservations")
	fmt.Fprintln(cli.out, "  export -o FILE.xlsx [-status STATUS] [-search TEXT] - export reservations to Excel")
	fmt.Fprintln(cli.out, "  enroll -id RESERVATION [-pay] [-amount AMOUNT] [-method CASH|ONLINE] [-remarks TEXT] [-receipt FILE.pdf]")
	fmt.Fprintln(cli.out, "         - enroll a reservation and optionally pay its admission fee")
	fmt.Fprintln(cli.out, "  journal -id RESERVATION - print the workflow journal of a reservation")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run the journal database migrations (up, down, redo, status, ...)")
}

// needsDeps reports whether the command needs the backend, cache and journal wiring.
func needsDeps(args []string) bool {
	return len(args) < 2 || args[1] != "migrate"
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	listCmd := flag.NewFlagSet("reservations", flag.ContinueOnError)
	listStatus := listCmd.String("status", string(reservation.StatusConfirmed), "Reservation status: PENDING, CONFIRMED or CANCELLED.")
	listSearch := listCmd.String("search", "", "Student name, reservation or Aadhar number.")
	listPage := listCmd.Int("page", 1, "Page number.")
	listSize := listCmd.Int("size", reservation.DefaultPageSize, "Page size.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportOut := exportCmd.String("o", "", "The Excel file to write.")
	exportStatus := exportCmd.String("status", string(reservation.StatusConfirmed), "Reservation status: PENDING, CONFIRMED or CANCELLED.")
	exportSearch := exportCmd.String("search", "", "Student name, reservation or Aadhar number.")

	enrollCmd := flag.NewFlagSet("enroll", flag.ContinueOnError)
	enrollID := enrollCmd.Int("id", 0, "The reservation to enroll.")
	enrollPay := enrollCmd.Bool("pay", false, "Pay the admission fee after enrolling.")
	enrollAmount := enrollCmd.String("amount", "", "The admission fee paid. Defaults to the configured fee.")
	enrollMethod := enrollCmd.String("method", string(enrollment.PaymentCash), "Payment method: CASH or ONLINE.")
	enrollRemarks := enrollCmd.String("remarks", "", "Payment remarks.")
	enrollReceipt := enrollCmd.String("receipt", "", "Where to save the receipt PDF.")

	journalCmd := flag.NewFlagSet("journal", flag.ContinueOnError)
	journalID := journalCmd.Int("id", 0, "The reservation.")

	for _, fs := range []*flag.FlagSet{listCmd, exportCmd, enrollCmd, journalCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "reservations":
		if err := listCmd.Parse(args[2:]); err != nil {
			return err
		}
		filter := reservation.ListFilter{
			Status:   reservation.Status(*listStatus),
			Search:   *listSearch,
			Page:     *listPage,
			PageSize: *listSize,
		}
		return cli.listReservations(ctx, filter)

	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *exportOut == "" {
			exportCmd.Usage()
			return errHelp
		}
		filter := reservation.ListFilter{Status: reservation.Status(*exportStatus), Search: *exportSearch}
		return cli.exportReservations(ctx, filter, *exportOut)

	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *enrollID <= 0 {
			enrollCmd.Usage()
			return errHelp
		}
		opts := enrollOptions{
			reservationID: *enrollID,
			pay:           *enrollPay,
			amount:        *enrollAmount,
			method:        *enrollMethod,
			remarks:       *enrollRemarks,
			receiptPath:   *enrollReceipt,
		}
		return cli.enroll(ctx, opts)

	case "journal":
		if err := journalCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *journalID <= 0 {
			journalCmd.Usage()
			return errHelp
		}
		return cli.printJournal(ctx, *journalID)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	default:
		cli.printUsage()
		return errHelp
	}
}

// session returns the operator session of the configured branch. The backend token is prompted for
// when none is configured and stdin is a terminal.
func (cli *commandLine) session() (core.Session, error) {
	if cli.sess != nil {
		return *cli.sess, nil
	}
	var token string
	if cli.conf.Backend.Token == "" && isTerminalFunc(int(syscall.Stdin)) {
		fmt.Fprint(cli.out, "Enter backend token:")
		tok, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return core.Session{}, err
		}
		token = string(tok)
	}

	operator := cli.conf.Operator
	if operator == "" {
		operator = "admin"
	}
	sess, err := core.NewSession(operator, operator, cli.conf.BranchID, cli.conf.BranchType, cli.conf.AcademicYearID, token)
	if err != nil {
		return core.Session{}, apps.NewArgumentError(fmt.Sprintf("invalid operator session (check session.* settings): %v", err))
	}
	cli.sess = &sess
	return sess, nil
}
