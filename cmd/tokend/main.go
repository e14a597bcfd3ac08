package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	config := NewConfig()

	// Load config in priority order: flags beat env, env beats '.env'
	if err := config.LoadDotEnv(getwd); err != nil {
		return err
	}
	config.LoadEnv(getenv)
	if err := config.ParseFlags(args); err != nil {
		return err
	}

	srv, err := NewServerApp(ctx, config)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		slog.Warn("Interrupt signal")
		cancel()
	}()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("server stopped with error", "error", err.Error())
		os.Exit(1)
	}
}
