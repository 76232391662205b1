// Package shared wires the infrastructure common to the API server and the admin CLI.
package shared

import (
	"context"
	"io"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
	"github.com/trezcool/admissions/core/reservation"
	"github.com/trezcool/admissions/services/backend"
	"github.com/trezcool/admissions/services/email"
	"github.com/trezcool/admissions/storage/cache"
	"github.com/trezcool/admissions/storage/database"
	"github.com/trezcool/admissions/storage/database/inmem"
	sqlxrepos "github.com/trezcool/admissions/storage/database/sqlx"
	"github.com/trezcool/admissions/storage/lock"
)

type Deps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

	Backend      *backend.Client
	Cache        core.QueryCache
	Journal      enrollment.Journal
	Mailer       core.EmailService
	Reservations *reservation.Service
	Enrollment   *enrollment.Service

	closers []func() error
}

// Options tune New.
type Options struct {
	// AutoMigrate applies the pending journal migrations once the database is open.
	AutoMigrate bool
}

var (
	openDBFunc  = database.Open    // mockable
	migrateFunc = database.Migrate // mockable
)

// New builds the dependencies described by conf. Redis and Postgres are used when configured,
// in-memory stores otherwise. Console emails are written to out.
func New(ctx context.Context, conf *core.Config, logger core.Logger, out io.Writer, opts Options) (*Deps, error) {
	d := &Deps{Conf: conf, Logger: logger}
	d.Validate, d.Translator = reservation.NewValidator()
	d.Backend = backend.NewClient(conf.Backend, logger)

	var locker core.Locker
	if conf.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, conf.RedisAddr)
		if err != nil {
			return nil, errors.Wrap(err, "setting up redis")
		}
		d.closers = append(d.closers, rdb.Close)
		d.Cache = cache.NewRedis(rdb, conf.Cache.TTL)
		locker = lock.NewRedis(rdb, lock.DefaultTTL, logger)
	} else {
		d.Cache = cache.NewMemory(conf.Cache.TTL)
		locker = lock.NewMemory()
	}

	if conf.DatabaseURL != "" {
		db, err := openDBFunc(ctx, conf.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "setting up database")
		}
		d.closers = append(d.closers, db.Close)
		if opts.AutoMigrate {
			if err := migrateFunc(db); err != nil {
				d.Close()
				return nil, errors.Wrap(err, "migrating database")
			}
		}
		d.Journal = sqlxrepos.NewJournalRepository(db)
	} else {
		logger.Warn("database.url is not set: the journal is kept in memory")
		d.Journal = inmemdb.NewJournalRepository()
	}

	if conf.Debug || conf.SendgridApiKey == "" {
		mailer, err := emailsvc.NewConsoleService(conf, out, logger)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "setting up console email service")
		}
		d.Mailer = mailer
	} else {
		mailer, err := emailsvc.NewSendgridService(conf, logger)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "setting up sendgrid email service")
		}
		d.Mailer = mailer
	}

	d.Reservations = reservation.NewService(d.Cache, logger)
	d.Enrollment = enrollment.NewService(enrollment.Deps{
		Branches:    d.Backend,
		Validate:    d.Validate,
		Sync:        enrollment.NewSynchronizer(d.Cache, logger, conf.Cache.SettleDelays...),
		Journal:     d.Journal,
		Locker:      locker,
		Mailer:      d.Mailer,
		Logger:      logger,
		DefaultFee:  conf.DefaultAdmissionFee,
		IdleTimeout: conf.SessionIdleTimeout,
	})
	return d, nil
}

// Close releases the connections in reverse order of creation.
func (d *Deps) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closers = nil
	return firstErr
}
