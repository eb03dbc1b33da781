package main

import (
	"fmt"

	oauthclient "github.com/go-authgate/oauth-client"
	"github.com/spf13/cobra"
)

var logoutHint string

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session and end it at the provider",
	Long: `Forget the stored refresh token. When the session can still be resumed the
browser is sent to the provider's end session endpoint as well.`,
	RunE: runLogout,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Redeem the stored refresh token",
	RunE:  runRefresh,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	RunE:  runStatus,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token",
	Long: `Print a valid access token to stdout, refreshing it first when needed.

Example:
  curl -H "Authorization: Bearer $(oauth-cli token)" https://api.example.com`,
	RunE: runToken,
}

func init() {
	logoutCmd.Flags().StringVar(&logoutHint, "hint", "", "logout_hint sent to the end session endpoint")
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.initialize(cmd.Context()); err != nil {
		return err
	}
	if err := a.client.Logout(logoutHint); err != nil {
		return err
	}
	printSuccess(a.out, "Logged out.")
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// Initialize already redeems a stored refresh token.
	ok, err := a.client.Initialize(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no session to refresh, run login first: %w", oauthclient.ErrNotAuthenticated)
	}
	printSuccess(a.out, "Token refreshed.")
	return printTokenInfo(a.out, a.client.Token())
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ok, err := a.initialize(cmd.Context())
	if err != nil {
		return err
	}

	md := a.client.Metadata()
	printField(a.out, "Issuer", md.Issuer)
	printField(a.out, "Client ID", a.cfg.ClientID)
	printField(a.out, "Scope", a.client.Scope())
	printField(a.out, "Redirect URI", a.client.RedirectURI())
	printField(a.out, "Storage", a.cfg.Storage)
	if !ok {
		printField(a.out, "Logged in", errorStyle.Render("no"))
		return nil
	}
	printField(a.out, "Logged in", successStyle.Render("yes"))

	if md.UserinfoEndpoint != "" {
		var claims struct {
			Subject string `json:"sub"`
			Name    string `json:"name"`
			Email   string `json:"email"`
		}
		if err := a.client.UserInfo(cmd.Context(), &claims); err != nil {
			a.logger.Warn("userinfo request failed", "error", err)
		} else {
			printField(a.out, "Subject", claims.Subject)
			if claims.Name != "" {
				printField(a.out, "Name", claims.Name)
			}
			if claims.Email != "" {
				printField(a.out, "Email", claims.Email)
			}
		}
	}
	return printTokenInfo(a.out, a.client.Token())
}

func runToken(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.initialize(cmd.Context()); err != nil {
		return err
	}
	tok, err := a.client.TokenSource(cmd.Context()).Token()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, tok.AccessToken)
	return nil
}
