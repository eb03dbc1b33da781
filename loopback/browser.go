// Package loopback lets a native application act as the user agent of an
// OAuth redirect flow: it opens the system browser and receives the redirect
// on a local HTTP listener.
package loopback

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultPort is the local port of the callback listener.
	DefaultPort = 8888

	// DefaultCallbackPath is the path the authorization server redirects to.
	DefaultCallbackPath = "/callback"
)

// DefaultOrigin is the origin of the default callback listener.
var DefaultOrigin = fmt.Sprintf("http://localhost:%d", DefaultPort)

// OpenBrowser attempts to open rawURL in the user's default browser. Callers
// should print the URL as a fallback regardless of the error.
func OpenBrowser(rawURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", rawURL)
	default:
		// Linux and other Unix-like systems
		cmd = exec.Command("xdg-open", rawURL)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	// Detach; we don't wait for the browser to close.
	go func() { _ = cmd.Wait() }()

	return nil
}

// BrowserLocation is the system browser seen as a navigable location. The
// query of the current location is whatever the callback listener last
// delivered.
type BrowserLocation struct {
	origin string
	open   func(string) error
	notify func(string)
	logger hclog.Logger

	mu    sync.Mutex
	query url.Values
}

type options struct {
	withLogger hclog.Logger
	withOpener func(string) error
	withNotify func(string)
}

// Option configures a BrowserLocation or CallbackServer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithOpener replaces OpenBrowser, e.g. to drive a headless user agent.
func WithOpener(fn func(rawURL string) error) Option {
	return func(o *options) {
		o.withOpener = fn
	}
}

// WithNotify registers fn to be told every URL the location navigates to,
// before the browser is opened.
func WithNotify(fn func(rawURL string)) Option {
	return func(o *options) {
		o.withNotify = fn
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
	if opts.withOpener == nil {
		opts.withOpener = OpenBrowser
	}
	return opts
}

// NewBrowserLocation returns a location whose origin is origin.
// Supported options: WithLogger, WithOpener, WithNotify.
func NewBrowserLocation(origin string, opt ...Option) *BrowserLocation {
	opts := getOpts(opt...)
	return &BrowserLocation{
		origin: origin,
		open:   opts.withOpener,
		notify: opts.withNotify,
		logger: opts.withLogger,
		query:  url.Values{},
	}
}

// Replace opens rawURL in the browser.
func (l *BrowserLocation) Replace(rawURL string) error {
	if l.notify != nil {
		l.notify(rawURL)
	}
	if err := l.open(rawURL); err != nil {
		l.logger.Warn("could not open browser", "error", err)
		return err
	}
	return nil
}

// Origin returns the application origin.
func (l *BrowserLocation) Origin() string { return l.origin }

// Query returns a copy of the last delivered redirect query.
func (l *BrowserLocation) Query() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneValues(l.query)
}

// Deliver records q as the query of the current location, as if the browser
// had navigated back to the application with it.
func (l *BrowserLocation) Deliver(q url.Values) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = cloneValues(q)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
