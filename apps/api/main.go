package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/admissions/apps/api/echo"
	"github.com/trezcool/admissions/apps/shared"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/services/logger"
)

const sweepEvery = time.Minute

var errServerStopped = errors.New("server stopped unexpectedly")

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(logsvc.NewStd(conf, os.Stdout), conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := shared.New(ctx, conf, logger, os.Stdout, shared.Options{AutoMigrate: true})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up dependencies: %v", err), err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("closing dependencies", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	go deps.Enrollment.Run(ctx, sweepEvery)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("enrollment_sessions", expvar.Func(func() interface{} { return deps.Enrollment.OpenSessions() }))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(
		&echoapi.Options{
			Address:                   conf.Server.Address(),
			AppName:                   conf.AppName,
			Debug:                     conf.Debug,
			TestMode:                  conf.TestMode,
			SecretKey:                 conf.SecretKey,
			JWTExpirationDelta:        conf.Server.JWTExpirationDelta,
			JWTRefreshExpirationDelta: conf.Server.JWTRefreshExpirationDelta,
			Logger:                    logger,
			Validate:                  deps.Validate,
			Translator:                deps.Translator,
			Branches:                  deps.Backend,
			Reservations:              deps.Reservations,
			Enrollment:                deps.Enrollment,
		},
		func() { shutdown <- syscall.SIGTERM },
	)

	serverErrors := make(chan error, 1)
	go func() {
		server.Start()
		serverErrors <- errServerStopped
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancelShutdown()

		// asking listener to shut down and shed load
		if err := server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}
