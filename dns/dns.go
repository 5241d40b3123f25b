// Package dns helps parse internationalized domain names (IDNA), canonicalize
// names and provides a resolver interface with strict and mock
// implementations for the DNS lookups the configuration checks need.
package dns

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"

	"github.com/mjl-/adns"
)

var errEmptyName = errors.New("dns name is empty")
var errTrailingDot = errors.New("dns name has trailing dot")
var errUnderscore = errors.New("dns name with underscore")
var errIDNA = errors.New("dns name not in idna form")

// Domain is a domain name, with one or more labels, with at least an ASCII
// representation, and for IDNA non-ASCII domains a unicode representation.
// The ASCII string must be used for DNS lookups.
type Domain struct {
	// A non-unicode domain, e.g. with A-labels (xn--...) or NR-LDH (non-reserved
	// letters/digits/hyphens) labels. Always in lower case.
	ASCII string

	// Name as U-labels. Empty if this is an ASCII-only domain.
	Unicode string
}

// Name returns the unicode name if set, otherwise the ASCII name.
func (d Domain) Name() string {
	if d.Unicode != "" {
		return d.Unicode
	}
	return d.ASCII
}

// String returns a human-readable string.
// For IDNA names, the string contains both the unicode and ASCII name.
func (d Domain) String() string {
	return d.LogString()
}

// LogString returns a domain for logging.
// For IDNA names, the string contains both the unicode and ASCII name.
func (d Domain) LogString() string {
	if d.Unicode == "" {
		return d.ASCII
	}
	return d.Unicode + "/" + d.ASCII
}

// IsZero returns if this is an empty Domain.
func (d Domain) IsZero() bool {
	return d == Domain{}
}

// ParseDomain parses a domain name that can consist of ASCII-only labels or U
// labels (unicode).
// Names are IDN-canonicalized and lower-cased.
// Characters in unicode can be replaced by equivalents. E.g. "ⓡ" to "r". This
// means you should only compare parsed domain names, never strings directly.
func ParseDomain(s string) (Domain, error) {
	// The idna Lookup profile does not verify lengths, so an empty name would
	// pass through as the zero Domain.
	if s == "" {
		return Domain{}, errEmptyName
	}
	if strings.HasSuffix(s, ".") {
		return Domain{}, errTrailingDot
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return Domain{}, fmt.Errorf("%w: to ascii: %v", errIDNA, err)
	}
	unicode, err := idna.Lookup.ToUnicode(s)
	if err != nil {
		return Domain{}, fmt.Errorf("%w: to unicode: %v", errIDNA, err)
	}
	if ascii == unicode {
		return Domain{ascii, ""}, nil
	}
	return Domain{ascii, unicode}, nil
}

// ParseDomainLax parses a domain like ParseDomain, but also allows underscores
// in an otherwise ASCII-only name. Underscores are invalid in host names but
// occur in the wild, e.g. in MX targets and DKIM selectors.
func ParseDomainLax(s string) (Domain, error) {
	if !strings.Contains(s, "_") {
		return ParseDomain(s)
	}

	// With underscores, only basic ASCII names, leaving the underscores in place.
	if strings.HasSuffix(s, ".") {
		return Domain{}, errTrailingDot
	}
	s = strings.ToLower(s)
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.':
		default:
			return Domain{}, fmt.Errorf("%w: invalid character %q in domain with underscore", errUnderscore, c)
		}
	}
	return Domain{ASCII: s}, nil
}

// IsNotFound returns whether an error is an adns.DNSError or net.DNSError
// with IsNotFound set. IsNotFound means the requested type does not exist for
// the given domain (a nodata or nxdomain response). It does not necessarily
// mean no other types for that name exist.
//
// A DNS server can respond to a lookup with an error "nxdomain" to indicate a
// name does not exist (at all), or with a success status with an empty list.
// The Go resolver returns an IsNotFound error for both cases, there is no need
// to explicitly check for zero entries.
func IsNotFound(err error) bool {
	var adnsErr *adns.DNSError
	if err != nil && errors.As(err, &adnsErr) && adnsErr.IsNotFound {
		return true
	}
	var dnsErr *net.DNSError
	return err != nil && errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// IsTemporary returns whether this is a potentially temporary DNS error, e.g.
// a timeout or servfail, for which a later retry may succeed.
func IsTemporary(err error) bool {
	var adnsErr *adns.DNSError
	if err != nil && errors.As(err, &adnsErr) && (adnsErr.IsTemporary || adnsErr.IsTimeout) {
		return true
	}
	var dnsErr *net.DNSError
	return err != nil && errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}
