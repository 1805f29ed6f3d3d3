// Package uri builds the canonical metadata locator of an identity.
//
// Every identity, whether looked up by id, name or holder, resolves to
// <base>/identity/<id>. The output is already percent-encoded: running it
// through Encode again returns it unchanged.
package uri

import (
	"net/url"
	"strings"

	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
)

// Segment is the path segment every identity URI contains.
const Segment = "/identity/"

// Resolver composes identity URIs under a fixed base.
type Resolver struct {
	base string
}

// New validates base and returns a Resolver. base must be an absolute http
// or https URL without query, fragment or credentials. Characters outside
// the URI character set are percent-encoded and a trailing slash is dropped.
func New(base string) (*Resolver, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URI is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "base URI is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URI must use http or https")
	}
	if u.Host == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URI must have a host")
	}
	if u.User != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URI must not carry credentials")
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URI must not have a query or fragment")
	}
	encoded := u.Scheme + "://" + Encode(u.Host) + Encode(u.EscapedPath())
	return &Resolver{base: strings.TrimRight(encoded, "/")}, nil
}

// Base returns the normalized base.
func (r *Resolver) Base() string {
	return r.base
}

// ForID returns the URI of identityID. The caller is responsible for having
// resolved the id against live state.
func (r *Resolver) ForID(identityID id.IdentityID) string {
	return r.base + Segment + identityID.String()
}

// unreserved reports whether c passes through Encode untouched: the
// characters ECMAScript encodeURI keeps plus '[' and ']', which RFC 3986
// reserves for IPv6 hosts.
func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$#[]-_.!~*'()", c) >= 0
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Encode percent-encodes every byte of s outside the URI character set.
// Existing %XX escapes are kept, so Encode(Encode(s)) == Encode(s).
func Encode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case unreserved(c):
			b.WriteByte(c)
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteString(s[i : i+3])
			i += 2
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
