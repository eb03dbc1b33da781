// Command oauth-cli logs in to an OpenID Connect provider from the terminal
// using the authorization code flow with PKCE and a loopback redirect.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			printError(os.Stderr, "Interrupted.")
			os.Exit(ExitCodeInterrupted)
		}
		printError(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}
