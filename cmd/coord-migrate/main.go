// Command coord-migrate provisions the coordination tables.
//
// It applies the idempotent schema statements for the selected dialect and
// optionally the control-plane tables. Defaults come from COORD_* environment
// variables; flags override them.
//
// Exit codes: 0 success, 1 invalid arguments, 2 canceled, 3 failure.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/velmie/coord/cmd/internal/clilog"
	"github.com/velmie/coord/mysql"
	"github.com/velmie/coord/postgres"
)

const (
	exitUsage    = 1
	exitCanceled = 2
	exitFailure  = 3
)

var errUsage = errors.New("invalid arguments")

type envDefaults struct {
	DSN     string        `envconfig:"DSN"`
	Dialect string        `envconfig:"DIALECT" default:"postgres"`
	Schema  string        `envconfig:"SCHEMA"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

type options struct {
	dsn          string
	dialect      string
	schema       string
	tables       tableFlags
	controlPlane bool
	timeout      time.Duration
	verbose      bool
}

type tableFlags struct {
	idempotency string
	lease       string
	outbox      string
	inbox       string
	cursor      string
}

func main() {
	var env envDefaults
	if err := envconfig.Process("coord", &env); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(env).ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, errUsage):
			os.Exit(exitUsage)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			os.Exit(exitCanceled)
		default:
			os.Exit(exitFailure)
		}
	}
}

func newRootCmd(env envDefaults) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "coord-migrate",
		Short:         "Provision the coordination tables",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.dsn, "dsn", env.DSN, "database DSN (or COORD_DSN)")
	cmd.Flags().StringVar(&opts.dialect, "dialect", env.Dialect, "database dialect: postgres or mysql")
	cmd.Flags().StringVar(&opts.schema, "schema", env.Schema, "schema (postgres) or database prefix (mysql) for the tables")
	cmd.Flags().StringVar(&opts.tables.idempotency, "table-idempotency", "", "override the idempotency table name")
	cmd.Flags().StringVar(&opts.tables.lease, "table-lease", "", "override the lease table name")
	cmd.Flags().StringVar(&opts.tables.outbox, "table-outbox", "", "override the outbox table name")
	cmd.Flags().StringVar(&opts.tables.inbox, "table-inbox", "", "override the inbox work table name")
	cmd.Flags().StringVar(&opts.tables.cursor, "table-cursor", "", "override the fanout cursor table name")
	cmd.Flags().BoolVar(&opts.controlPlane, "control-plane", false, "also provision the audit and operation tables")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", env.Timeout, "overall migration timeout")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, opts options) error {
	if opts.dsn == "" {
		return fmt.Errorf("%w: dsn is required", errUsage)
	}
	if opts.dialect != "postgres" && opts.dialect != "mysql" {
		return fmt.Errorf("%w: unknown dialect %q", errUsage, opts.dialect)
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	logger := clilog.New(opts.verbose)

	db, err := sql.Open(opts.dialect, opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return classify(ctx, fmt.Errorf("ping db: %w", err))
	}

	var stmts []string
	switch opts.dialect {
	case "postgres":
		stmts, err = postgresStatements(opts)
	case "mysql":
		stmts, err = mysqlStatements(opts)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	for _, stmt := range stmts {
		logger.Debug("applying statement", "stmt", stmt)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify(ctx, fmt.Errorf("apply schema: %w", err))
		}
	}

	logger.Info("migration complete", "dialect", opts.dialect, "statements", len(stmts))

	return nil
}

func postgresStatements(opts options) ([]string, error) {
	pgOpts := []postgres.Option{
		postgres.WithSchema(opts.schema),
		postgres.WithTableNames(postgres.TableNames{
			Idempotency:  opts.tables.idempotency,
			Lease:        opts.tables.lease,
			Outbox:       opts.tables.outbox,
			InboxWork:    opts.tables.inbox,
			FanoutCursor: opts.tables.cursor,
		}),
	}

	stmts, err := postgres.Schema(pgOpts...)
	if err != nil {
		return nil, err
	}
	if opts.controlPlane {
		extra, err := postgres.ControlPlaneSchema(pgOpts...)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, extra...)
	}

	return stmts, nil
}

func mysqlStatements(opts options) ([]string, error) {
	myOpts := []mysql.Option{
		mysql.WithDatabase(opts.schema),
		mysql.WithTableNames(mysql.TableNames{
			Idempotency:  opts.tables.idempotency,
			Lease:        opts.tables.lease,
			Outbox:       opts.tables.outbox,
			InboxWork:    opts.tables.inbox,
			FanoutCursor: opts.tables.cursor,
		}),
	}

	stmts, err := mysql.Schema(myOpts...)
	if err != nil {
		return nil, err
	}
	if opts.controlPlane {
		extra, err := mysql.ControlPlaneSchema(myOpts...)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, extra...)
	}

	return stmts, nil
}

// classify surfaces the context error when the operation died from
// cancellation so main can map it to the right exit code.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}

	return err
}
