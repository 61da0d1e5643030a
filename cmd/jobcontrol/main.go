// Command jobcontrol hosts a job queue and administers its store: it runs
// worker loops with the stale-job cleanup installed, enqueues and cancels
// jobs, and lists what the store holds.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
