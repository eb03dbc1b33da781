package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateCodeVerifier_Length(t *testing.T) {
	v := GenerateCodeVerifier()

	// RFC 7636 §4.1: verifier must be between 43 and 128 chars.
	if len(v) < 43 || len(v) > 128 {
		t.Errorf("verifier length %d is outside [43, 128]", len(v))
	}
}

func TestGenerateCodeVerifier_Charset(t *testing.T) {
	v := GenerateCodeVerifier()

	// base64url without padding uses A-Z a-z 0-9 - _
	allowed := func(c rune) bool {
		return (c >= 'A' && c <= 'Z') ||
			(c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_'
	}
	for _, c := range v {
		if !allowed(c) {
			t.Errorf("verifier contains disallowed character: %q", c)
		}
	}
}

func TestCodeChallengeS256(t *testing.T) {
	// RFC 7636 Appendix B.
	const (
		verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		want     = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	)
	if got := CodeChallengeS256(verifier); got != want {
		t.Errorf("challenge mismatch\n  got:  %s\n  want: %s", got, want)
	}
}

func TestGeneratePKCE(t *testing.T) {
	p := GeneratePKCE()

	sum := sha256.Sum256([]byte(p.Verifier))
	expected := base64.RawURLEncoding.EncodeToString(sum[:])
	if p.Challenge != expected {
		t.Errorf("challenge mismatch\n  got:  %s\n  want: %s", p.Challenge, expected)
	}
	if strings.ContainsAny(p.Challenge, "=+/") {
		t.Errorf("challenge must be unpadded URL-safe base64, got: %s", p.Challenge)
	}
	if p.Method != "S256" {
		t.Errorf("method = %q, want S256", p.Method)
	}
}

func TestGenerateCodeVerifier_Uniqueness(t *testing.T) {
	const iterations = 100
	seen := make(map[string]bool, iterations)

	for i := 0; i < iterations; i++ {
		v := GenerateCodeVerifier()
		if seen[v] {
			t.Fatalf("duplicate verifier generated on iteration %d: %s", i, v)
		}
		seen[v] = true
	}
}
