package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/config"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/scheduler"
	"qms/scheduler/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const usage = `queuectl - staff maintenance for the office queue.

Usage:
  queuectl reset --office NAME      restart numbering for one office
  queuectl reset --all              restart numbering for every office
  queuectl queue --office NAME      print the active queue grouped by window
  queuectl slots --office NAME --date YYYY-MM-DD

Flags shared by every command:
  --db-dsn           PostgreSQL connection string (default $DB_DSN)
  --policy-file      YAML scheduling policy (default $POLICY_FILE)
  --office-timezone  zone used to decide what today is (default $OFFICE_TIMEZONE or UTC)
`

var errUsage = errors.New("usage")

type options struct {
	dsn        string
	policyFile string
	timezone   string
	office     string
	date       string
	all        bool
}

func main() {
	_ = godotenv.Load()
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	command, opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.dsn == "" {
		return fmt.Errorf("--db-dsn or DB_DSN is required")
	}
	loc, err := clock.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("office timezone: %w", err)
	}
	policy, err := config.LoadPolicy(opts.policyFile, scheduler.DefaultSlotCapacity)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	svc := scheduler.New(scheduler.Deps{
		Store:  postgres.NewStore(pool),
		Clock:  clock.Real(loc),
		Policy: policy,
		Logger: logrus.WithField("component", "queuectl"),
	})
	return execute(ctx, svc, command, opts, out)
}

func parseArgs(args []string) (string, options, error) {
	if len(args) == 0 {
		return "", options{}, errUsage
	}
	command := args[0]
	switch command {
	case "reset", "queue", "slots":
	case "help", "-h", "--help":
		return "", options{}, errUsage
	default:
		return "", options{}, fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	opts := options{
		dsn:        os.Getenv("DB_DSN"),
		policyFile: os.Getenv("POLICY_FILE"),
		timezone:   os.Getenv("OFFICE_TIMEZONE"),
	}
	flagSet := pflag.NewFlagSet("queuectl "+command, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.dsn, "db-dsn", opts.dsn, "PostgreSQL connection string")
	flagSet.StringVar(&opts.policyFile, "policy-file", opts.policyFile, "YAML scheduling policy")
	flagSet.StringVar(&opts.timezone, "office-timezone", opts.timezone, "office time zone")
	flagSet.StringVarP(&opts.office, "office", "o", "", "office name")
	if command == "reset" {
		flagSet.BoolVar(&opts.all, "all", false, "reset every office")
	}
	if command == "slots" {
		flagSet.StringVarP(&opts.date, "date", "d", "", "date as YYYY-MM-DD")
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", options{}, errUsage
		}
		return "", options{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	if flagSet.NArg() > 0 {
		return "", options{}, fmt.Errorf("%w: unexpected argument %q", errUsage, flagSet.Arg(0))
	}

	opts.office = strings.TrimSpace(opts.office)
	switch {
	case command == "reset" && opts.all && opts.office != "":
		return "", options{}, fmt.Errorf("%w: --office and --all are exclusive", errUsage)
	case command == "reset" && !opts.all && opts.office == "":
		return "", options{}, fmt.Errorf("%w: reset needs --office or --all", errUsage)
	case command != "reset" && opts.office == "":
		return "", options{}, fmt.Errorf("%w: %s needs --office", errUsage, command)
	case command == "slots" && opts.date == "":
		return "", options{}, fmt.Errorf("%w: slots needs --date", errUsage)
	}
	return command, opts, nil
}

func execute(ctx context.Context, svc *scheduler.Service, command string, opts options, out io.Writer) error {
	switch command {
	case "reset":
		return resetNumbering(ctx, svc, opts, out)
	case "queue":
		return printQueue(ctx, svc, opts.office, out)
	case "slots":
		return printSlots(ctx, svc, opts, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func resetNumbering(ctx context.Context, svc *scheduler.Service, opts options, out io.Writer) error {
	if opts.all {
		affected, err := svc.ResetAllNumbering(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reset %d tickets across all offices\n", affected)
		return nil
	}
	affected, err := svc.ResetOfficeNumbering(ctx, opts.office)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reset %d tickets in %s\n", affected, opts.office)
	return nil
}

func printQueue(ctx context.Context, svc *scheduler.Service, office string, out io.Writer) error {
	windows, err := svc.ActiveQueue(ctx, office)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		fmt.Fprintf(out, "%s: queue is empty\n", office)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tSTATUS\tNUMBER\tNAME\tSERVICE\tPRIORITY")
	for _, window := range windows {
		for _, group := range [][]models.Ticket{window.InProgress, window.Called, window.Waiting} {
			for _, ticket := range group {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
					window.WindowNo, ticket.Status, ticketNumber(ticket), ticket.Name, ticket.Service, ticket.PriorityLane)
			}
		}
	}
	return tw.Flush()
}

func printSlots(ctx context.Context, svc *scheduler.Service, opts options, out io.Writer) error {
	date, err := models.ParseDate(opts.date)
	if err != nil {
		return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	slots, err := svc.ListSlots(ctx, opts.office, date)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tBOOKED\tCAPACITY\tAVAILABLE")
	for _, slot := range slots {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", slot.Time, slot.Booked, slot.Capacity, slot.Available)
	}
	return tw.Flush()
}

func ticketNumber(t models.Ticket) string {
	if t.OfficeTicketNo == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", *t.OfficeTicketNo)
}
