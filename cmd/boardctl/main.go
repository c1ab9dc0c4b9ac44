package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Qualiasolutions/qualia-erp-sub000/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
