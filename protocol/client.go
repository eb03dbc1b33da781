// Package protocol implements the OAuth 2.0 and OpenID Connect wire protocol
// used by a public client: discovery, PKCE, authorization response
// validation, token endpoint grants and token response processing.
//
// The package performs no state management. Callers keep the verifier,
// tokens and authorization server metadata themselves.
package protocol

import (
	"fmt"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

const defaultTimeout = 30 * time.Second

// Client performs protocol requests against authorization servers.
type Client struct {
	httpClient *http.Client
	logger     hclog.Logger

	discovery singleflight.Group
}

type options struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient replaces the default retrying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.withHTTPClient = c
	}
}

// WithLogger sets the logger. Tokens are never logged.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

func getOpts(opt ...Option) options {
	opts := options{}
	for _, o := range opt {
		o(&opts)
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// NewClient returns a protocol client. Without WithHTTPClient, requests go
// through a pooled transport with retries on transient failures.
func NewClient(opt ...Option) (*Client, error) {
	const op = "protocol.NewClient"
	opts := getOpts(opt...)

	hc := opts.withHTTPClient
	if hc == nil {
		var err error
		if hc, err = newRetryingHTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &Client{
		httpClient: hc,
		logger:     opts.withLogger,
	}, nil
}

// HTTPClient returns the HTTP client used for every request.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func newRetryingHTTPClient() (*http.Client, error) {
	base := &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   defaultTimeout,
		// Redirects are followed by the outer client.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(base))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return &http.Client{Transport: &retryTransport{client: rc}}, nil
}

// retryTransport adapts the retry client to http.RoundTripper so that
// libraries taking an *http.Client share the same retry policy.
type retryTransport struct {
	client *retry.Client
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.DoWithContext(req.Context(), req)
}
