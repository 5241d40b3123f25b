// Package publicsuffix resolves the organizational domain for a host name
// with a public suffix list. Organizational domains can be registered, one
// level below a public suffix.
//
// Example.com has a public suffix ".com", and example.co.uk has a public
// suffix ".co.uk". The organizational domain of sub.example.com is
// example.com, and the organizational domain of sub.example.co.uk is
// example.co.uk.
package publicsuffix

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/idna"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
	"github.com/emailauth/emailauth/stub"
)

// MetricFetch counts fetches of the public suffix list, per result.
var MetricFetch stub.CounterVec = stub.CounterVecIgnore{}

// Labels map from utf8 labels to labels for subdomains.
// The end of a rule is marked with an empty string as label.
type labels map[string]labels

// List is a parsed public suffix list.
// The zero value has no rules, lookups fall back to the last two labels.
type List struct {
	includes, excludes labels
}

// ParseList parses a public suffix list.
// Only the "ICANN DOMAINS" are used. Invalid rules are logged and skipped.
func ParseList(elog *slog.Logger, r io.Reader) (List, error) {
	log := mlog.New("publicsuffix", elog)

	list := List{labels{}, labels{}}

	var icannDomains bool
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "// ===BEGIN ICANN DOMAINS==="):
			icannDomains = true
			continue
		case strings.HasPrefix(line, "// ===END ICANN DOMAINS==="):
			icannDomains = false
			continue
		case line == "" || strings.HasPrefix(line, "//") || !icannDomains:
			continue
		}

		l := list.includes
		rule := line
		if strings.HasPrefix(rule, "!") {
			rule = rule[1:]
			l = list.excludes
			if !strings.Contains(rule, ".") {
				log.Print("exclude rule with single label, skipping", slog.String("line", line))
				continue
			}
		}
		t := strings.Split(rule, ".")
		ok := true
		for i := len(t) - 1; i >= 0; i-- {
			w := t[i]
			if w == "" {
				log.Print("empty label in rule, skipping", slog.String("line", line))
				ok = false
				break
			}
			if w != "*" {
				var err error
				w, err = idna.Lookup.ToUnicode(w)
				if err != nil {
					log.Printx("invalid label in rule, skipping", err, slog.String("line", line))
					ok = false
					break
				}
			}
			m, mok := l[w]
			if !mok {
				m = labels{}
				l[w] = m
			}
			l = m
		}
		if ok {
			l[""] = nil // Mark end of rule.
		}
	}
	if err := scanner.Err(); err != nil {
		return List{}, fmt.Errorf("reading public suffix list: %w", err)
	}
	return list, nil
}

// Lookup returns the organizational domain. If domain is an organizational
// domain, or higher-level, the same domain is returned.
func (l List) Lookup(ctx context.Context, elog *slog.Logger, domain dns.Domain) (orgDomain dns.Domain) {
	log := mlog.New("publicsuffix", elog).WithContext(ctx)
	defer func() {
		log.Debug("publicsuffix lookup result", slog.Any("reqdom", domain), slog.Any("orgdom", orgDomain))
	}()

	t := strings.Split(domain.Name(), ".")

	var n int
	if nexcl, ok := match(l.excludes, t); ok {
		n = nexcl
	} else if nincl, ok := match(l.includes, t); ok {
		n = nincl + 1
	} else {
		n = 2
	}
	if len(t) < n {
		return domain
	}
	name := strings.Join(t[len(t)-n:], ".")
	if isASCII(name) {
		return dns.Domain{ASCII: name}
	}
	t = strings.Split(domain.ASCII, ".")
	ascii := strings.Join(t[len(t)-n:], ".")
	return dns.Domain{ASCII: ascii, Unicode: name}
}

func isASCII(s string) bool {
	for _, c := range s {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// match returns how many labels of t, from the right, a rule covers. Wildcard
// rules match any label, exclude rules are handled by the caller through a
// separate trie.
func match(l labels, t []string) (int, bool) {
	if len(t) == 0 {
		_, ok := l[""]
		return 0, ok
	}
	s := t[len(t)-1]
	t = t[:len(t)-1]
	n := 0
	if m, mok := l[s]; mok {
		if nn, sok := match(m, t); sok {
			n = 1 + nn
		}
	}
	if m, mok := l["*"]; mok {
		if nn, sok := match(m, t); sok && nn >= n {
			n = 1 + nn
		}
	}
	_, mok := l[""]
	return n, n > 0 || mok
}
