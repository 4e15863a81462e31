package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// main is the entry point of the VaultKeeper gateway daemon.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
