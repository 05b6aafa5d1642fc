package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cronhost/internal/app"
	"cronhost/internal/services/scheduler"
	"cronhost/jobs/heartbeat"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	// Register jobs here; each needs an entry under jobs in the config.
	if err := heartbeat.Register(a.Jobs(), a.Logger()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal register:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}

	// The app context derives from ctx, so a signal closes both.
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopFatalError
	if ctx.Err() != nil {
		reason = app.StopSignal
	}
	stop(a, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if scheduler.IsDefect(err) {
			fmt.Fprintln(os.Stderr, "fatal scheduler defect:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
