package loopback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultCallbackTimeout is how long Wait waits for the browser to
	// deliver the redirect.
	DefaultCallbackTimeout = 5 * time.Minute

	// callbackWriteTimeout is the HTTP write deadline for the callback
	// handler. It must exceed the time the handler needs for the token
	// exchange so the result can be written back to the browser.
	callbackWriteTimeout = 30 * time.Second
)

// ErrTimeout is returned by Wait when no redirect arrived in time.
var ErrTimeout = errors.New("timed out waiting for browser authorization")

// Handler processes the redirect query. The browser's response is held open
// until it returns, so the page reflects the true outcome.
type Handler func(ctx context.Context, query url.Values) error

// CallbackServer is a one-shot local HTTP listener on the path of a loopback
// redirect URI.
type CallbackServer struct {
	redirectURI *url.URL
	handle      Handler
	timeout     time.Duration
	logger      hclog.Logger

	srv      *http.Server
	ln       net.Listener
	resultCh chan error

	once       sync.Once
	handleOnce sync.Once
	handleErr  error
}

// NewCallbackServer returns a server for redirectURI, which must be an http
// URL on a loopback host. Port 0 picks a free port; see RedirectURI.
// Supported options: WithLogger.
func NewCallbackServer(redirectURI string, handle Handler, opt ...Option) (*CallbackServer, error) {
	const op = "loopback.NewCallbackServer"
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid redirect uri: %w", op, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%s: redirect uri scheme must be http, got: %s", op, u.Scheme)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return nil, fmt.Errorf("%s: redirect uri host must be a loopback address, got: %s", op, u.Hostname())
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if handle == nil {
		return nil, fmt.Errorf("%s: missing handler", op)
	}

	opts := getOpts(opt...)
	return &CallbackServer{
		redirectURI: u,
		handle:      handle,
		timeout:     DefaultCallbackTimeout,
		logger:      opts.withLogger,
		resultCh:    make(chan error, 1),
	}, nil
}

// SetTimeout overrides DefaultCallbackTimeout. Call before Wait.
func (s *CallbackServer) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Start binds the listener. Call it before sending the browser away so the
// redirect cannot arrive before the server is up.
func (s *CallbackServer) Start(ctx context.Context) error {
	const op = "loopback.(CallbackServer).Start"
	host := s.redirectURI.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, s.redirectURI.Port())
	if s.redirectURI.Port() == "" {
		addr = net.JoinHostPort(host, "80")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: failed to start callback server on %s: %w", op, addr, err)
	}
	s.ln = ln

	// Report the actual port when 0 was requested.
	if s.redirectURI.Port() == "0" {
		_, port, _ := net.SplitHostPort(ln.Addr().String())
		s.redirectURI.Host = net.JoinHostPort(s.redirectURI.Hostname(), port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.redirectURI.Path, s.serveCallback)
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: callbackWriteTimeout,
	}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	s.logger.Debug("callback server listening", "addr", ln.Addr().String(), "path", s.redirectURI.Path)
	return nil
}

// RedirectURI returns the redirect URI with the bound port.
func (s *CallbackServer) RedirectURI() string {
	return s.redirectURI.String()
}

func (s *CallbackServer) serveCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// The handler runs at most once even when the browser retries.
	s.handleOnce.Do(func() {
		s.handleErr = s.handle(r.Context(), q)
	})
	if s.handleErr != nil {
		writeCallbackPage(w, false, s.handleErr.Error())
	} else {
		writeCallbackPage(w, true, "")
	}
	s.sendResult(s.handleErr)
}

// sendResult delivers the result exactly once. Later requests are discarded
// so no goroutine blocks on the send.
func (s *CallbackServer) sendResult(err error) {
	s.once.Do(func() { s.resultCh <- err })
}

// Wait blocks until the redirect has been handled and returns the handler's
// error, or until ctx is done or the timeout expires. The server is shut
// down when Wait returns.
func (s *CallbackServer) Wait(ctx context.Context) error {
	const op = "loopback.(CallbackServer).Wait"
	if s.srv == nil {
		return fmt.Errorf("%s: server not started", op)
	}
	defer s.Close()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-s.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w (%s)", ErrTimeout, s.timeout)
	}
}

// Close shuts the server down.
func (s *CallbackServer) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// writeCallbackPage writes a minimal HTML response to the browser tab.
func writeCallbackPage(w http.ResponseWriter, success bool, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if success {
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Authorization Successful</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem">
  <h1 style="color:#2ea44f">&#10003; Authorization Successful</h1>
  <p>You have been successfully authorized.</p>
  <p>You can close this tab and return to your terminal.</p>
</body>
</html>`)
		return
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorization Failed</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem">
  <h1 style="color:#cb2431">&#10007; Authorization Failed</h1>
  <p>%s</p>
  <p>You can close this tab and check your terminal for details.</p>
</body>
</html>`, html.EscapeString(msg))
}
