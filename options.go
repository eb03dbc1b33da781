package oauthclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-authgate/oauth-client/protocol"
	"github.com/go-authgate/oauth-client/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// DefaultStorageKey is the base key of the default store.
const DefaultStorageKey = "oauth"

// Option configures a Client in New or Extend.
type Option func(*options)

// options records which settings were supplied; nil means "not given" so
// Extend can tell an unset option from a zero value.
type options struct {
	withIssuer                  *string
	withClientID                *string
	withTokenEndpointAuthMethod *string
	withClientSecret            *string
	withScope                   *string
	withStorage                 storage.Store
	withRedirectURI             *string
	withPostLogoutRedirectURI   *string
	withLocation                Location
	withProtocolClient          *protocol.Client
	withLogger                  hclog.Logger
}

func getOpts(opt ...Option) options {
	opts := options{}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// validate checks the supplied values without applying them.
func (o options) validate() error {
	var retErr *multierror.Error
	if o.withIssuer != nil {
		if err := validateIssuer(*o.withIssuer); err != nil {
			retErr = multierror.Append(retErr, err)
		}
	}
	if o.withStorage != nil && !o.withStorage.Supported() {
		retErr = multierror.Append(retErr, fmt.Errorf("storage: %w", ErrUnsupportedStorage))
	}
	if o.withClientID != nil && *o.withClientID == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("client id cannot be empty: %w", ErrInvalidParameter))
	}
	if o.withTokenEndpointAuthMethod != nil {
		if err := protocol.ValidateAuthMethod(*o.withTokenEndpointAuthMethod); err != nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%w: %w", ErrInvalidParameter, err))
		}
	}
	for name, u := range map[string]*string{
		"redirect uri":             o.withRedirectURI,
		"post logout redirect uri": o.withPostLogoutRedirectURI,
	} {
		if u == nil {
			continue
		}
		if err := validateAbsoluteURL(*u); err != nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: %w", name, err))
		}
	}
	return retErr.ErrorOrNil()
}

func validateIssuer(issuer string) error {
	if issuer == "" {
		return fmt.Errorf("issuer url cannot be empty: %w", ErrInvalidParameter)
	}
	if err := validateAbsoluteURL(issuer); err != nil {
		return fmt.Errorf("issuer url: %w", err)
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w: %w", ErrInvalidParameter, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q: %w", u.Scheme, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host: %w", ErrInvalidParameter)
	}
	return nil
}

// WithIssuer replaces the issuer URL. Only meaningful for Extend; New takes
// the issuer as an argument. Replacing the issuer discards all credentials.
func WithIssuer(issuerURL string) Option {
	return func(o *options) {
		o.withIssuer = &issuerURL
	}
}

// WithClientID replaces the client identifier. Only meaningful for Extend.
func WithClientID(clientID string) Option {
	return func(o *options) {
		o.withClientID = &clientID
	}
}

// WithTokenEndpointAuthMethod sets how the client authenticates at the token
// endpoint: "none" (default), "client_secret_basic" or "client_secret_post".
func WithTokenEndpointAuthMethod(method string) Option {
	return func(o *options) {
		o.withTokenEndpointAuthMethod = &method
	}
}

// WithClientSecret sets the secret for the client_secret_* auth methods.
func WithClientSecret(secret string) Option {
	return func(o *options) {
		o.withClientSecret = &secret
	}
}

// WithScopes sets the requested scopes, joined with single spaces.
func WithScopes(scopes ...string) Option {
	joined := strings.Join(scopes, " ")
	return WithScope(joined)
}

// WithScope sets the requested scope string verbatim.
func WithScope(scope string) Option {
	return func(o *options) {
		o.withScope = &scope
	}
}

// WithStorage sets the store holding the refresh token and code verifier.
// Defaults to a persistent store under DefaultStorageKey.
func WithStorage(s storage.Store) Option {
	return func(o *options) {
		o.withStorage = s
	}
}

// WithRedirectURI sets the redirect_uri. Defaults to the location origin.
func WithRedirectURI(u string) Option {
	return func(o *options) {
		o.withRedirectURI = &u
	}
}

// WithPostLogoutRedirectURI sets the post_logout_redirect_uri. Defaults to
// the location origin.
func WithPostLogoutRedirectURI(u string) Option {
	return func(o *options) {
		o.withPostLogoutRedirectURI = &u
	}
}

// WithLocation sets the navigation target used for redirects and as the
// source of the returned query.
func WithLocation(l Location) Option {
	return func(o *options) {
		o.withLocation = l
	}
}

// WithProtocolClient sets the protocol client, e.g. one with a custom HTTP
// client.
func WithProtocolClient(p *protocol.Client) Option {
	return func(o *options) {
		o.withProtocolClient = p
	}
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}
