// Command coord-cleanup prunes terminal outbox messages and inbox work
// items older than the retention period.
//
// It wraps coord.RetentionMaintainer for use in cron/CronJobs when the
// application itself should not run DELETE statements. A lease guards
// concurrent runs against the same database.
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

	"github.com/velmie/coord"
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
	DSN       string        `envconfig:"DSN"`
	Dialect   string        `envconfig:"DIALECT" default:"postgres"`
	Schema    string        `envconfig:"SCHEMA"`
	Retention time.Duration `envconfig:"RETENTION"`
}

type options struct {
	dsn        string
	dialect    string
	schema     string
	retention  time.Duration
	checkEvery time.Duration
	limit      int
	leaseName  string
	leaseTTL   time.Duration
	once       bool
	verbose    bool
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
		Use:          "coord-cleanup",
		Short:        "Prune terminal outbox and inbox rows",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.dsn, "dsn", env.DSN, "database DSN (or COORD_DSN)")
	cmd.Flags().StringVar(&opts.dialect, "dialect", env.Dialect, "database dialect: postgres or mysql")
	cmd.Flags().StringVar(&opts.schema, "schema", env.Schema, "schema (postgres) or database prefix (mysql) for the tables")
	cmd.Flags().DurationVar(&opts.retention, "retention", env.Retention, "delete terminal rows older than this duration")
	cmd.Flags().DurationVar(&opts.checkEvery, "check-every", time.Hour, "how often to prune when running continuously")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "max rows deleted per table per run (0 uses the default)")
	cmd.Flags().StringVar(&opts.leaseName, "lease-name", "", "lease guarding concurrent runs (empty uses the default)")
	cmd.Flags().DurationVar(&opts.leaseTTL, "lease-ttl", 0, "lease duration for one prune run")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single prune pass and exit")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, opts options) error {
	if opts.dsn == "" {
		return fmt.Errorf("%w: dsn is required", errUsage)
	}
	if opts.retention <= 0 {
		return fmt.Errorf("%w: retention must be positive", errUsage)
	}

	logger := clilog.New(opts.verbose)

	store, closeDB, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeDB()

	maintainer, err := coord.NewRetentionMaintainer(store.pruner, store.leases, coord.RetentionConfig{
		Retention:  opts.retention,
		CheckEvery: opts.checkEvery,
		Limit:      opts.limit,
		LeaseName:  opts.leaseName,
		LeaseTTL:   opts.leaseTTL,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if opts.once {
		result, err := maintainer.RunOnce(ctx)
		if err != nil {
			return classify(ctx, err)
		}
		logger.Info("prune complete", "outbox", result.Outbox, "inbox", result.Inbox)

		return nil
	}

	err = maintainer.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Normal shutdown.
		return nil
	}

	return err
}

type storeHandles struct {
	pruner coord.Pruner
	leases coord.LeaseStore
}

func openStore(opts options) (storeHandles, func(), error) {
	db, err := sql.Open(opts.dialect, opts.dsn)
	if err != nil {
		return storeHandles{}, nil, fmt.Errorf("open db: %w", err)
	}
	closeDB := func() {
		_ = db.Close()
	}

	switch opts.dialect {
	case "postgres":
		store, err := postgres.NewStore(db, postgres.WithSchema(opts.schema))
		if err != nil {
			closeDB()
			return storeHandles{}, nil, fmt.Errorf("%w: %v", errUsage, err)
		}

		return storeHandles{pruner: store, leases: store}, closeDB, nil
	case "mysql":
		store, err := mysql.NewStore(db, mysql.WithDatabase(opts.schema))
		if err != nil {
			closeDB()
			return storeHandles{}, nil, fmt.Errorf("%w: %v", errUsage, err)
		}

		return storeHandles{pruner: store, leases: store}, closeDB, nil
	default:
		closeDB()
		return storeHandles{}, nil, fmt.Errorf("%w: unknown dialect %q", errUsage, opts.dialect)
	}
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}

	return err
}
