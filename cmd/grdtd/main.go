package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jgoldverg/grdt/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveCmd := cli.ServeCommand()
	serveCmd.SetContext(ctx)

	if err := serveCmd.Execute(); err != nil {
		log.Fatalf("error: %v\n", err)
	}
}
