package protocol

import (
	"net/http"
	"strings"
)

// Challenge is one authentication challenge from a WWW-Authenticate header
// (RFC 7235 §4.1).
type Challenge struct {
	// Scheme is lower-cased, e.g. "bearer" or "dpop".
	Scheme string
	// Params holds auth-params keyed by lower-cased name.
	Params map[string]string
	// Token68 holds the token68 form, when used instead of params.
	Token68 string
}

// ParseWWWAuthenticateChallenges returns every challenge in resp's
// WWW-Authenticate headers, or nil when there are none.
func ParseWWWAuthenticateChallenges(resp *http.Response) []Challenge {
	if resp == nil {
		return nil
	}
	var out []Challenge
	for _, h := range resp.Header.Values("WWW-Authenticate") {
		out = append(out, parseChallenges(h)...)
	}
	return out
}

func parseChallenges(header string) []Challenge {
	var out []Challenge
	p := &headerScanner{s: header}
	for {
		p.skip(" \t,")
		if p.eof() {
			return out
		}
		scheme := p.token()
		if scheme == "" {
			// malformed
			return out
		}
		c := Challenge{Scheme: strings.ToLower(scheme), Params: map[string]string{}}
		p.skip(" \t")

		save := p.i
		if t := p.token68(); t != "" {
			p.skip(" \t")
			if p.eof() || p.peek() == ',' {
				c.Token68 = t
				out = append(out, c)
				continue
			}
			p.i = save
		}

		for {
			p.skip(" \t")
			save := p.i
			name := p.token()
			p.skip(" \t")
			if name == "" || p.peek() != '=' {
				// start of the next challenge
				p.i = save
				break
			}
			p.i++
			p.skip(" \t")
			var value string
			if p.peek() == '"' {
				value = p.quoted()
			} else {
				value = p.token()
			}
			c.Params[strings.ToLower(name)] = value
			p.skip(" \t")
			if p.peek() != ',' {
				break
			}
			p.i++
		}
		out = append(out, c)
	}
}

type headerScanner struct {
	s string
	i int
}

func (p *headerScanner) eof() bool { return p.i >= len(p.s) }

func (p *headerScanner) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.i]
}

func (p *headerScanner) skip(chars string) {
	for !p.eof() && strings.IndexByte(chars, p.s[p.i]) >= 0 {
		p.i++
	}
}

func (p *headerScanner) token() string {
	start := p.i
	for !p.eof() && isTokenChar(p.s[p.i]) {
		p.i++
	}
	return p.s[start:p.i]
}

func (p *headerScanner) token68() string {
	start := p.i
	for !p.eof() && isToken68Char(p.s[p.i]) {
		p.i++
	}
	if p.i == start {
		return ""
	}
	for !p.eof() && p.s[p.i] == '=' {
		p.i++
	}
	return p.s[start:p.i]
}

func (p *headerScanner) quoted() string {
	p.i++ // opening quote
	var b strings.Builder
	for !p.eof() {
		ch := p.s[p.i]
		p.i++
		switch {
		case ch == '\\' && !p.eof():
			b.WriteByte(p.s[p.i])
			p.i++
		case ch == '"':
			return b.String()
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

func isToken68Char(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-._~+/", c) >= 0
}
