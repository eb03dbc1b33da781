package protocol

import (
	"golang.org/x/oauth2"
)

// CodeChallengeMethodS256 is the only challenge method this package emits.
const CodeChallengeMethodS256 = "S256"

// PKCEParams holds the code verifier and challenge for PKCE (RFC 7636).
type PKCEParams struct {
	Verifier  string
	Challenge string
	Method    string
}

// GenerateCodeVerifier returns a fresh high-entropy code_verifier: 32 random
// bytes, base64url-encoded without padding (43 chars).
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// CodeChallengeS256 computes BASE64URL(SHA256(ASCII(verifier))) as defined in
// RFC 7636 §4.2.
func CodeChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GeneratePKCE generates a verifier together with its S256 challenge.
func GeneratePKCE() *PKCEParams {
	v := GenerateCodeVerifier()
	return &PKCEParams{
		Verifier:  v,
		Challenge: CodeChallengeS256(v),
		Method:    CodeChallengeMethodS256,
	}
}
