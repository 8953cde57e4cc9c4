package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketdatagw/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: load config: %v\n", err)
		os.Exit(1)
	}

	app, err := New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: initialize: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)
	app.Log.Info("gateway: started")

	<-ctx.Done()
	app.Log.Info("gateway: shutting down")
	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: shutdown: %v\n", err)
		os.Exit(1)
	}
}
