package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/apps/shared"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/services/logger"
	"github.com/trezcool/admissions/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewStd(conf, os.Stderr), conf)

	ctx := context.Background()
	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		openDB: func(ctx context.Context) (*sqlx.DB, error) {
			if conf.DatabaseURL == "" {
				return nil, errors.New("database.url is not set")
			}
			return database.Open(ctx, conf.DatabaseURL)
		},
	}

	// migrations run on their own connection, without applying them first
	var deps *shared.Deps
	if needsDeps(os.Args) {
		var err error
		deps, err = shared.New(ctx, conf, logger, os.Stdout, shared.Options{})
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up dependencies: %v", err), err)
		}
		cli.branches = deps.Backend
		cli.reservations = deps.Reservations
		cli.enrollment = deps.Enrollment
	}

	err := cli.run(ctx, os.Args)
	if deps != nil {
		if cErr := deps.Close(); cErr != nil {
			logger.Error("closing dependencies", cErr)
		}
	}
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
