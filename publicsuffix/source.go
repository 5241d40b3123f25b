package publicsuffix

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
)

// ListURL is the canonical location of the public suffix list.
const ListURL = "https://publicsuffix.org/list/public_suffix_list.dat"

// DefaultTTL is how long resolved organizational domains are cached when
// Source.TTL is not set.
const DefaultTTL = 24 * time.Hour

// Cache stores resolved organizational domains between fetches of the public
// suffix list. Implementations must treat entries written longer than their
// TTL ago as absent.
type Cache interface {
	// Get returns the cached organizational domain for domain, in ASCII form.
	Get(ctx context.Context, domain string) (orgDomain string, ok bool, err error)

	// Set stores the resolved organizational domain for domain for ttl.
	Set(ctx context.Context, domain, orgDomain string, ttl time.Duration) error
}

// Source resolves organizational domains, fetching the public suffix list
// over HTTP and caching resolved domains through an optional Cache. The zero
// value is usable and fetches ListURL on every call.
type Source struct {
	URL    string        // List location. ListURL if empty.
	Client *http.Client  // HTTP client for fetching. http.DefaultClient if nil.
	Cache  Cache         // Optional store for resolved domains.
	TTL    time.Duration // Cache lifetime for resolved domains. DefaultTTL if zero.
	Log    *slog.Logger
}

// OrgDomain returns the organizational domain of domain, or a zero Domain
// when domain already is its own organizational domain and no fallback should
// be attempted.
//
// When the public suffix list cannot be fetched or processed, the returned
// warning describes the failure and the result is a best-effort fallback
// using an empty list (last two labels). A warning is never fatal, callers
// pass it along. Results are only cached when there was no warning.
func (s *Source) OrgDomain(ctx context.Context, domain dns.Domain) (org dns.Domain, warning string) {
	log := mlog.New("publicsuffix", s.Log).WithContext(ctx)

	if s.Cache != nil {
		ascii, ok, err := s.Cache.Get(ctx, domain.ASCII)
		if err != nil {
			log.Debugx("get cached organizational domain", err, slog.Any("domain", domain))
		} else if ok {
			MetricFetch.IncLabels("cached")
			return orgFromASCII(domain, ascii), ""
		}
	}

	text, warning := s.fetch(ctx)
	list, err := ParseList(s.Log, strings.NewReader(text))
	if err != nil {
		list = List{}
		warning = "Could not process public suffix list.\n" + err.Error()
		MetricFetch.IncLabels("parseerror")
	} else if warning != "" {
		MetricFetch.IncLabels("fetcherror")
	} else {
		MetricFetch.IncLabels("ok")
	}

	orgDomain := list.Lookup(ctx, s.Log, domain)
	if warning == "" && s.Cache != nil {
		ttl := s.TTL
		if ttl == 0 {
			ttl = DefaultTTL
		}
		if err := s.Cache.Set(ctx, domain.ASCII, orgDomain.ASCII, ttl); err != nil {
			log.Debugx("caching organizational domain", err, slog.Any("domain", domain))
		}
	}
	if orgDomain == domain {
		return dns.Domain{}, warning
	}
	return orgDomain, warning
}

func (s *Source) fetch(ctx context.Context) (text, warning string) {
	url := s.URL
	if url == "" {
		url = ListURL
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "Failed to get public suffix list.\n" + err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "Failed to get public suffix list.\n" + err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Sprintf("Failed to get public suffix list.\nHTTP code: %d", resp.StatusCode)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "Failed to get public suffix list.\n" + err.Error()
	}
	return string(buf), ""
}

// orgFromASCII rebuilds a Domain from a cached ASCII organizational domain.
// A cached value equal to the domain itself means the domain is its own
// organizational domain.
func orgFromASCII(domain dns.Domain, ascii string) dns.Domain {
	if ascii == "" || ascii == domain.ASCII {
		return dns.Domain{}
	}
	d, err := dns.ParseDomain(ascii)
	if err != nil {
		return dns.Domain{}
	}
	return d
}
