package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/briandowns/spinner"
	"github.com/go-authgate/oauth-client/loopback"
	"github.com/spf13/cobra"
)

var (
	loginForce   bool
	loginTimeout time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in through the browser",
	Long: `Log in through the browser.

A stored refresh token is used first. Otherwise the browser is opened on the
provider's authorization page and the redirect is received on the local
callback server.

Examples:
  oauth-cli login --client-id <id>
  oauth-cli login --force          # ignore the stored session`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Start a new browser login even when a session can be resumed")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", loopback.DefaultCallbackTimeout, "How long to wait for the browser")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.login(cmd.Context(), loginForce, loginTimeout)
}

func (a *app) login(ctx context.Context, force bool, timeout time.Duration) error {
	ok, err := a.initialize(ctx)
	if err != nil {
		return err
	}
	if ok && !force {
		printSuccess(a.out, "Session resumed, already logged in.")
		return printTokenInfo(a.out, a.client.Token())
	}

	srv, err := loopback.NewCallbackServer(a.cfg.RedirectURI, a.handleRedirect,
		loopback.WithLogger(a.logger.Named("callback")))
	if err != nil {
		return err
	}
	srv.SetTimeout(timeout)
	// Listen before the browser is sent away.
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if err := a.client.Authorize(ctx); err != nil {
		_ = srv.Close()
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = a.errOut
	s.Suffix = fmt.Sprintf(" Waiting for callback on %s ...", srv.RedirectURI())
	s.Start()
	err = srv.Wait(ctx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	printSuccess(a.out, "Logged in.")
	return printTokenInfo(a.out, a.client.Token())
}

// handleRedirect runs while the browser waits for its response, so the page
// shows the outcome of the code exchange.
func (a *app) handleRedirect(ctx context.Context, q url.Values) error {
	a.loc.Deliver(q)
	ok, err := a.client.HandleCodeResponse(ctx, a.loc.Query())
	if err != nil {
		return err
	}
	if !ok {
		if e := q.Get("error"); e != "" {
			return fmt.Errorf("%s: %s", e, q.Get("error_description"))
		}
		return fmt.Errorf("redirect carried no authorization code")
	}
	return nil
}
