package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/mjl-/adns"
)

// DirectConfig configures a DirectResolver.
type DirectConfig struct {
	// Nameservers to query, e.g. "8.8.8.8:53". If empty, the servers from
	// /etc/resolv.conf are used, falling back to well-known public resolvers.
	Nameservers []string

	// DNSSEC sets the DO bit on queries. The AD bit in responses then sets
	// Authentic in results. Requires validating upstream resolvers.
	DNSSEC bool

	Timeout time.Duration // Per query. Default 5s.
	Retries int           // For failed queries. Default 2.
}

// DirectResolver is a Resolver that queries configured nameservers itself
// instead of going through the system stub resolver. Useful when checking
// records against a specific (e.g. authoritative) server, or for fresh answers
// bypassing local caches.
type DirectResolver struct {
	config DirectConfig
	client *mdns.Client
}

var _ Resolver = DirectResolver{}

// NewDirectResolver returns a resolver for the given configuration, filling in
// defaults for zero values.
func NewDirectResolver(config DirectConfig) DirectResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers()
	}
	return DirectResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

func systemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s += ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// Config returns the resolver configuration, with defaults filled in.
func (r DirectResolver) Config() DirectConfig {
	return r.config
}

func (r DirectResolver) nxdomain(name, server string) error {
	return &adns.DNSError{Err: "no record", Name: name, Server: server, IsNotFound: true}
}

func (r DirectResolver) servfail(name, server string, err error) error {
	msg := "temporary failure"
	if err != nil {
		msg = err.Error()
	}
	return &adns.DNSError{Err: msg, Name: name, Server: server, IsTemporary: true}
}

func (r DirectResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, adns.Result, string, error) {
	var result adns.Result

	if !strings.HasSuffix(name, ".") {
		return nil, result, "", ErrRelativeDNSName
	}

	m := new(mdns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true
	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	var lastErr error
	var lastServer string
	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, result, server, err
			}
			lastServer = server

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("exchange: %w", err)
				continue
			}

			if r.config.DNSSEC && resp.AuthenticatedData {
				result.Authentic = true
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, result, server, nil
			case mdns.RcodeNameError:
				return nil, result, server, r.nxdomain(name, server)
			default:
				lastErr = fmt.Errorf("response rcode %s", mdns.RcodeToString[resp.Rcode])
			}
		}
	}
	return nil, result, lastServer, r.servfail(name, lastServer, lastErr)
}

func (r DirectResolver) LookupTXT(ctx context.Context, name string) ([]string, adns.Result, error) {
	resp, result, server, err := r.query(ctx, name, mdns.TypeTXT)
	if err != nil {
		return nil, result, err
	}
	var l []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			// Character strings of a record are concatenated without separator, RFC 7208
			// section 3.3.
			l = append(l, strings.Join(txt.Txt, ""))
		}
	}
	if len(l) == 0 {
		return nil, result, r.nxdomain(name, server)
	}
	return l, result, nil
}

func (r DirectResolver) LookupCNAME(ctx context.Context, host string) (string, adns.Result, error) {
	resp, result, server, err := r.query(ctx, host, mdns.TypeCNAME)
	if err != nil {
		return "", result, err
	}
	for _, rr := range resp.Answer {
		if cname, ok := rr.(*mdns.CNAME); ok {
			return cname.Target, result, nil
		}
	}
	return "", result, r.nxdomain(host, server)
}

func (r DirectResolver) LookupHost(ctx context.Context, host string) ([]string, adns.Result, error) {
	ips, result, err := r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, result, err
	}
	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = ip.String()
	}
	return addrs, result, nil
}

func (r DirectResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, adns.Result, error) {
	var qtypes []uint16
	switch network {
	case "ip":
		qtypes = []uint16{mdns.TypeA, mdns.TypeAAAA}
	case "ip4":
		qtypes = []uint16{mdns.TypeA}
	case "ip6":
		qtypes = []uint16{mdns.TypeAAAA}
	default:
		return nil, adns.Result{}, fmt.Errorf("unknown network %q", network)
	}

	var ips []net.IP
	result := adns.Result{Authentic: true}
	var lastErr error
	var server string
	for _, qtype := range qtypes {
		resp, res, srv, err := r.query(ctx, host, qtype)
		server = srv
		if err != nil {
			if !IsNotFound(err) {
				lastErr = err
			}
			result.Authentic = result.Authentic && res.Authentic
			continue
		}
		result.Authentic = result.Authentic && res.Authentic
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *mdns.A:
				ips = append(ips, a.A)
			case *mdns.AAAA:
				ips = append(ips, a.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		result.Authentic = false
		if lastErr != nil {
			return nil, result, lastErr
		}
		return nil, result, r.nxdomain(host, server)
	}
	return ips, result, nil
}

func (r DirectResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, adns.Result, error) {
	resp, result, server, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return nil, result, err
	}
	var l []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			l = append(l, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	if len(l) == 0 {
		return nil, result, r.nxdomain(name, server)
	}
	return l, result, nil
}

func (r DirectResolver) LookupAddr(ctx context.Context, addr string) ([]string, adns.Result, error) {
	arpa, err := mdns.ReverseAddr(addr)
	if err != nil {
		return nil, adns.Result{}, fmt.Errorf("reverse address for %q: %v", addr, err)
	}
	resp, result, server, err := r.query(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return nil, result, err
	}
	var l []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			l = append(l, ptr.Ptr)
		}
	}
	if len(l) == 0 {
		return nil, result, r.nxdomain(arpa, server)
	}
	return l, result, nil
}
