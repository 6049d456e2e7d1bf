// Command shardprep turns per-account document dumps into a fixed number of
// balanced, shuffled Parquet shards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shardprep: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
