package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	oauthclient "github.com/go-authgate/oauth-client"
	"github.com/go-authgate/oauth-client/internal/config"
	"github.com/go-authgate/oauth-client/loopback"
	"github.com/go-authgate/oauth-client/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
	ExitCodeInterrupted  = 130
)

const keyringService = "authgate-oauth-cli"

var (
	flags config.Flags

	openBrowser = loopback.OpenBrowser
)

var rootCmd = &cobra.Command{
	Use:   "oauth-cli",
	Short: "Log in to an OpenID Connect provider from the terminal",
	Long: `oauth-cli runs the OAuth 2.0 authorization code flow with PKCE against an
OpenID Connect provider. The browser is sent to the provider and the redirect is
received on a local callback server. The refresh token is persisted so later
commands resume the session without a browser.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ServerURL, "server-url", "", "OpenID provider issuer URL (default: http://localhost:8080 or SERVER_URL env)")
	pf.StringVar(&flags.ClientID, "client-id", "", "OAuth client ID (required, or set CLIENT_ID env)")
	pf.StringVar(&flags.ClientSecret, "client-secret", "", "OAuth client secret (confidential clients only; omit for public/PKCE clients)")
	pf.StringVar(&flags.AuthMethod, "auth-method", "", "Token endpoint auth method: none, client_secret_basic or client_secret_post")
	pf.StringVar(&flags.Scope, "scope", "", `Space-separated OAuth scopes (default: "openid offline_access")`)
	pf.IntVar(&flags.CallbackPort, "port", 0, "Local port for the callback server (default: 8888 or CALLBACK_PORT env)")
	pf.StringVar(&flags.RedirectURI, "redirect-uri", "", "Redirect URI registered with the provider (default: http://localhost:PORT/callback)")
	pf.StringVar(&flags.Storage, "storage", "", "Credential storage: file, keyring or session (default: file)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level: trace, debug, info, warn or error (default: warn)")
	pf.StringVar(&flags.ConfigFile, "config", "", "YAML config file (or AUTHGATE_CONFIG env)")

	rootCmd.AddCommand(loginCmd, logoutCmd, refreshCmd, statusCmd, tokenCmd)
}

// app is what every subcommand works with.
type app struct {
	cfg    *config.Config
	logger hclog.Logger
	loc    *loopback.BrowserLocation
	client *oauthclient.Client
	out    io.Writer
	errOut io.Writer
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(flags, config.WithDotEnv(".env"))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "oauth-cli",
			Level:  cfg.Level(),
			Output: cmd.ErrOrStderr(),
		}),
	}
	for _, w := range cfg.Warnings() {
		printWarning(a.errOut, w)
	}

	store, err := newStore(cfg, a.logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	origin, err := originOf(cfg.RedirectURI)
	if err != nil {
		return nil, err
	}
	a.loc = loopback.NewBrowserLocation(origin,
		loopback.WithLogger(a.logger.Named("browser")),
		loopback.WithNotify(func(u string) {
			fmt.Fprintf(a.errOut, "\nOpening in your browser:\n\n  %s\n\n", urlStyle.Render(u))
		}),
		loopback.WithOpener(func(u string) error {
			if err := openBrowser(u); err != nil {
				a.logger.Debug("browser not opened", "error", err)
				fmt.Fprintln(a.errOut, "Could not open browser automatically. Please open the URL above manually.")
			}
			return nil
		}),
	)

	opts := []oauthclient.Option{
		oauthclient.WithScope(cfg.Scope),
		oauthclient.WithStorage(store),
		oauthclient.WithRedirectURI(cfg.RedirectURI),
		oauthclient.WithLocation(a.loc),
		oauthclient.WithLogger(a.logger.Named("client")),
	}
	if cfg.ClientSecret != "" {
		opts = append(opts, oauthclient.WithClientSecret(cfg.ClientSecret))
		if cfg.AuthMethod == "" {
			cfg.AuthMethod = "client_secret_basic"
		}
	}
	if cfg.AuthMethod != "" {
		opts = append(opts, oauthclient.WithTokenEndpointAuthMethod(cfg.AuthMethod))
	}

	a.client, err = oauthclient.New(cfg.ServerURL, cfg.ClientID, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// initialize discovers the provider and resumes the session. A failed resume
// is logged and otherwise ignored so the caller can start over.
func (a *app) initialize(ctx context.Context) (bool, error) {
	ok, err := a.client.Initialize(ctx)
	if err != nil {
		if !a.client.Initialized() {
			return false, err
		}
		a.logger.Warn("could not resume session", "error", err)
		return false, nil
	}
	return ok, nil
}

func (a *app) close() {
	a.client.Close()
}

// newStore returns the credential store selected by cfg. Keys are scoped per
// client so several clients can share one backend.
func newStore(cfg *config.Config, logger hclog.Logger) (storage.Store, error) {
	key := oauthclient.DefaultStorageKey + ":" + cfg.ClientID
	switch cfg.Storage {
	case config.StorageFile:
		return storage.NewPersistentStore(key, storage.WithLogger(logger)), nil
	case config.StorageKeyring:
		return storage.NewPersistentStore(key,
			storage.WithArea(storage.NewKeyringArea(keyringService, cfg.ClientID)),
			storage.WithLogger(logger)), nil
	case config.StorageSession:
		return storage.NewSessionStore(key, storage.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// exitCode maps an error to a process exit code.
func exitCode(err error) int {
	switch {
	case errors.Is(err, oauthclient.ErrNotAuthenticated):
		return ExitCodeAuthRequired
	case errors.Is(err, oauthclient.ErrOAuthRedirect),
		errors.Is(err, oauthclient.ErrOAuthResponse),
		errors.Is(err, oauthclient.ErrWWWAuthenticate),
		errors.Is(err, loopback.ErrTimeout):
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}
