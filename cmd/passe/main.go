package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"passe/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.New()
	if err := cli.NewRootCommand(app).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "passe: %v\n", err)
		stop()
		os.Exit(1)
	}
}
