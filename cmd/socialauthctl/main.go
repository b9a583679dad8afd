// Command socialauthctl runs maintenance tasks against the socialauth
// stores: schema migrations, nonce and association pruning, and link
// inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "socialauthctl:", err)
		os.Exit(1)
	}
}
