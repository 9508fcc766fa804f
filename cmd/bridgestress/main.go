// Command bridgestress drives a bridge with a simulated engine: concurrent
// producers post work to event loop contexts, blocking round trips run
// against them, and engine log lines fan out to subscribers. It verifies
// per-producer ordering and round trip results, and prints a summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bridgestress:", err)
		stop()
		os.Exit(1)
	}
}
