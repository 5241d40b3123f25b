package dmarc

import (
	"context"
	"testing"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/verdict"
)

func TestAlignment(t *testing.T) {
	orgResolver := orgFunc(func(d dns.Domain) (dns.Domain, string) {
		switch d.ASCII {
		case "mail.example.com", "bounce.example.com":
			return dns.Domain{ASCII: "example.com"}, ""
		case "mail.other.com":
			return dns.Domain{ASCII: "other.com"}, ""
		case "broken.example.com":
			return dns.Domain{ASCII: "example.com"}, "Failed to get public suffix list.\nno route to host"
		}
		return dns.Domain{}, ""
	})

	domain := func(s string) dns.Domain {
		t.Helper()
		if s == "" {
			return dns.Domain{}
		}
		d, err := dns.ParseDomain(s)
		if err != nil {
			t.Fatalf("parsing domain %s: %s", s, err)
		}
		return d
	}

	test := func(result *verdict.Verdict, validateDomain, fromDomain string, relaxed bool, exp AlignmentResult) {
		t.Helper()
		r := Alignment(context.Background(), nil, "DKIM", result, domain(validateDomain), domain(fromDomain), relaxed, orgResolver)
		if r != exp {
			t.Fatalf("alignment %q vs %q:\ngot      %#v\nexpected %#v", validateDomain, fromDomain, r, exp)
		}
	}

	pass := verdict.Pass
	partial := verdict.Partial
	fail := verdict.Fail

	test(&fail, "example.com", "example.com", true, AlignmentResult{AlignmentError, "DKIM check failed."})
	test(&pass, "", "example.com", true, AlignmentResult{AlignmentUnknown, "DKIM alignment unknown."})

	test(&pass, "example.com", "example.com", false, AlignmentResult{Level: AlignmentPass})
	test(&partial, "example.com", "example.com", true, AlignmentResult{Level: AlignmentPass})

	// Relaxed mode compares organizational domains.
	test(&pass, "mail.example.com", "example.com", true, AlignmentResult{Level: AlignmentPass})
	test(&pass, "mail.example.com", "bounce.example.com", true, AlignmentResult{Level: AlignmentPass})
	test(&pass, "mail.example.com", "example.com", false, AlignmentResult{AlignmentError, "DKIM alignment failed: mail.example.com does not match from domain example.com."})
	test(&pass, "mail.other.com", "example.com", true, AlignmentResult{AlignmentError, "DKIM alignment failed: mail.other.com does not match from domain example.com."})

	// An unconfirmed organizational domain cannot be compared.
	test(&pass, "broken.example.com", "example.com", true, AlignmentResult{AlignmentUnknown, "Failed to get public suffix list.\nno route to host"})

	// Matching domains without a verdict are inconclusive.
	test(nil, "example.com", "example.com", true, AlignmentResult{AlignmentUnknown, "DKIM check has not completed."})
}

func TestAggregateAlignment(t *testing.T) {
	pass := AlignmentResult{Level: AlignmentPass}
	unknown := AlignmentResult{AlignmentUnknown, "DKIM alignment unknown."}
	errored := AlignmentResult{AlignmentError, "DKIM check failed."}

	test := func(dkim, spf, exp AlignmentResult) {
		t.Helper()
		if r := AggregateAlignment(dkim, spf); r != exp {
			t.Fatalf("aggregate of %v and %v: got %v, expected %v", dkim, spf, r, exp)
		}
	}

	test(pass, errored, AlignmentResult{Level: AlignmentPass})
	test(errored, pass, AlignmentResult{Level: AlignmentPass})
	test(unknown, pass, AlignmentResult{Level: AlignmentPass})
	test(errored, unknown, AlignmentResult{Level: AlignmentUnknown})
	test(unknown, unknown, AlignmentResult{Level: AlignmentUnknown})
	test(errored, errored, AlignmentResult{AlignmentError, "Alignment checks failed."})
}
