// Command router runs the WaddleBot command router: event ingestion, command
// dispatch, string matching, RBAC, and collector coordination.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/waddlebot/router/internal/app"
	"github.com/waddlebot/router/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api or seed (overrides APP_MODE)")
	flag.Parse()

	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "router: %v\n", err)
		os.Exit(1)
	}
}
