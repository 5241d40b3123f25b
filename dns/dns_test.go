package dns

import (
	"errors"
	"net"
	"testing"

	"github.com/mjl-/adns"
)

func TestParseDomain(t *testing.T) {
	test := func(s string, exp Domain, expErr bool) {
		t.Helper()
		d, err := ParseDomain(s)
		if (err != nil) != expErr {
			t.Fatalf("parse domain %q: err %v, expected error %v", s, err, expErr)
		}
		if err == nil && d != exp {
			t.Fatalf("parse domain %q: got %#v, expected %#v", s, d, exp)
		}
	}

	test("example.com", Domain{"example.com", ""}, false)
	test("Example.Com", Domain{"example.com", ""}, false)
	test("xn--74h.example", Domain{"xn--74h.example", "☺.example"}, false)
	test("☺.example", Domain{"xn--74h.example", "☺.example"}, false)
	test("example.com.", Domain{}, true)
	test("_dmarc.example.com", Domain{}, true)
	test("", Domain{}, true)
}

func TestParseDomainLax(t *testing.T) {
	test := func(s string, exp Domain, expErr bool) {
		t.Helper()
		d, err := ParseDomainLax(s)
		if (err != nil) != expErr {
			t.Fatalf("parse domain lax %q: err %v, expected error %v", s, err, expErr)
		}
		if err == nil && d != exp {
			t.Fatalf("parse domain lax %q: got %#v, expected %#v", s, d, exp)
		}
	}

	test("example.com", Domain{"example.com", ""}, false)
	test("_dmarc.example.com", Domain{ASCII: "_dmarc.example.com"}, false)
	test("S1._domainkey.Example.com", Domain{ASCII: "s1._domainkey.example.com"}, false)
	test("_dmarc.example.com.", Domain{}, true)
	test("_bogus!.example.com", Domain{}, true)
}

func TestNotFound(t *testing.T) {
	if IsNotFound(nil) {
		t.Fatalf("nil error seen as not found")
	}
	if !IsNotFound(&adns.DNSError{IsNotFound: true}) {
		t.Fatalf("adns not found error not seen as not found")
	}
	if !IsNotFound(&net.DNSError{IsNotFound: true}) {
		t.Fatalf("net not found error not seen as not found")
	}
	if IsNotFound(&adns.DNSError{IsTemporary: true}) {
		t.Fatalf("temporary error seen as not found")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatalf("plain error seen as not found")
	}
}

func TestTemporary(t *testing.T) {
	if !IsTemporary(&adns.DNSError{IsTemporary: true}) {
		t.Fatalf("temporary error not seen as temporary")
	}
	if !IsTemporary(&net.DNSError{IsTimeout: true}) {
		t.Fatalf("timeout error not seen as temporary")
	}
	if IsTemporary(&adns.DNSError{IsNotFound: true}) {
		t.Fatalf("not found error seen as temporary")
	}
}
