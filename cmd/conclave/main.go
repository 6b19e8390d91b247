package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "conclave"
	version = "v0.4.0"
)

func main() {
	setupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging uses the console writer on a TTY and JSON lines otherwise, so
// piped output stays machine-readable.
func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	if level, err := zerolog.ParseLevel(os.Getenv("CONCLAVE_LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}
}

func execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Multi-agent trading decision engine",
		Long:    "Conclave decomposes trading goals, delegates tasks to a weighted agent roster,\nand synthesizes vetoable consensus decisions with outcome-driven learning.",
		Version: version,
	}

	root.AddCommand(serveCmd(), rosterCmd())
	return root.ExecuteContext(ctx)
}
