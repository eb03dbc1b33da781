package loopback

import (
	"errors"
	"net/url"
	"testing"
)

func TestBrowserLocation_Replace(t *testing.T) {
	var opened, notified string
	loc := NewBrowserLocation("http://localhost:9999",
		WithOpener(func(u string) error { opened = u; return nil }),
		WithNotify(func(u string) { notified = u }),
	)

	if err := loc.Replace("https://as.example.com/authorize?x=1"); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	if opened != "https://as.example.com/authorize?x=1" || notified != opened {
		t.Errorf("opened=%q notified=%q", opened, notified)
	}
	if loc.Origin() != "http://localhost:9999" {
		t.Errorf("Origin() = %q", loc.Origin())
	}
}

func TestBrowserLocation_ReplaceError(t *testing.T) {
	boom := errors.New("no browser")
	loc := NewBrowserLocation(DefaultOrigin, WithOpener(func(string) error { return boom }))
	if err := loc.Replace("https://as.example.com"); !errors.Is(err, boom) {
		t.Errorf("expected opener error, got: %v", err)
	}
}

func TestBrowserLocation_Deliver(t *testing.T) {
	loc := NewBrowserLocation(DefaultOrigin)
	if len(loc.Query()) != 0 {
		t.Fatalf("expected empty query, got: %v", loc.Query())
	}

	q := url.Values{"code": {"abc"}}
	loc.Deliver(q)
	q.Set("code", "mutated")

	got := loc.Query()
	if got.Get("code") != "abc" {
		t.Errorf("expected delivered code abc, got: %s", got.Get("code"))
	}
	got.Set("code", "mutated")
	if loc.Query().Get("code") != "abc" {
		t.Error("Query() must return a copy")
	}
}

func TestDefaultOrigin(t *testing.T) {
	if DefaultOrigin != "http://localhost:8888" {
		t.Errorf("DefaultOrigin = %q", DefaultOrigin)
	}
}
