package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/teamcutter/ublock-chrome/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := cli.Execute(ctx)
	stop()
	if err != nil {
		cli.PrintError(err)
		os.Exit(cli.ExitCode(err))
	}
}
