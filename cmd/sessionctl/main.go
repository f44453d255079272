// Command sessionctl drives the backend through the session gateway. It
// signs in, calls authenticated endpoints and watches for logout events
// published by other processes sharing the same credentials.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aelexs/session-gateway/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(openApp).ExecuteContext(ctx)
	stop()
	if err != nil {
		if session.IsLoggedOut(err) {
			fmt.Fprintln(os.Stderr, "error: not logged in, run 'sessionctl login'")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
