package spf

import (
	"net"
	"reflect"
	"testing"
)

func TestParseRecord(t *testing.T) {
	intptr := func(v int) *int {
		return &v
	}

	valid := func(txt string, exp Record) {
		t.Helper()
		r, isspf, err := ParseRecord(txt)
		if err != nil {
			t.Fatalf("parsing %q: %v", txt, err)
		}
		if !isspf {
			t.Fatalf("parsing %q: not an spf record", txt)
		}
		if !reflect.DeepEqual(r, &exp) {
			t.Fatalf("parsing %q: got %#v, expected %#v", txt, *r, exp)
		}
	}

	invalid := func(txt string) {
		t.Helper()
		_, _, err := ParseRecord(txt)
		if err == nil {
			t.Fatalf("parsing %q: got nil, expected error", txt)
		}
	}

	valid("v=spf1", Record{Version: "spf1"})
	valid("v=spf1 ", Record{Version: "spf1"})
	valid("v=spf1 -all", Record{
		Version: "spf1",
		Directives: []Directive{
			{Qualifier: "-", Mechanism: "all"},
		},
	})
	valid("v=spf1 a mx ~all", Record{
		Version: "spf1",
		Directives: []Directive{
			{Mechanism: "a"},
			{Mechanism: "mx"},
			{Qualifier: "~", Mechanism: "all"},
		},
	})
	valid("v=spf1 a:mail.example.com/24 -all", Record{
		Version: "spf1",
		Directives: []Directive{
			{Mechanism: "a", DomainSpec: "mail.example.com", IP4CIDRLen: intptr(24)},
			{Qualifier: "-", Mechanism: "all"},
		},
	})
	valid("v=spf1 ip4:192.0.2.0/24 ip6:2001:db8::/32 -all", Record{
		Version: "spf1",
		Directives: []Directive{
			{Mechanism: "ip4", IP: net.IPv4(192, 0, 2, 0), IPstr: "192.0.2.0/24", IP4CIDRLen: intptr(24)},
			{Mechanism: "ip6", IP: net.ParseIP("2001:db8::"), IPstr: "2001:db8::/32", IP6CIDRLen: intptr(32)},
			{Qualifier: "-", Mechanism: "all"},
		},
	})
	valid("v=spf1 include:_spf.example.com ?exists:%{ir}.%{l1r+-}._spf.%{d} redirect=example.org", Record{
		Version: "spf1",
		Directives: []Directive{
			{Mechanism: "include", DomainSpec: "_spf.example.com"},
			{Qualifier: "?", Mechanism: "exists", DomainSpec: "%{ir}.%{l1r+-}._spf.%{d}"},
		},
		Redirect: "example.org",
	})
	valid("v=spf1 exp=explain.example.com unknown=jansen -all", Record{
		Version: "spf1",
		Directives: []Directive{
			{Qualifier: "-", Mechanism: "all"},
		},
		Explanation: "explain.example.com",
		Other:       []Modifier{{"unknown", "jansen"}},
	})

	invalid("v=spf1 waaaaa -all")
	invalid("v=spf1 all:")
	invalid("v=spf1 ip4:192.0.2.500")
	invalid("v=spf1 ip4:192.0.2.0/33")
	invalid("v=spf1 ip6:2001:zz8::")
	invalid("v=spf1 include:")
	invalid("v=spf1 + -all")
	invalid("v=spf1 redirect=example.com redirect=example.org")
	invalid("v=spf1 a:example.com/148")

	// Not an spf record at all.
	_, isspf, _ := ParseRecord("v=spf10")
	if isspf {
		t.Fatalf("v=spf10 seen as spf record")
	}
	_, isspf, _ = ParseRecord("google-site-verification=abcdef")
	if isspf {
		t.Fatalf("unrelated txt record seen as spf record")
	}
}

func TestRecordString(t *testing.T) {
	test := func(txt string) {
		t.Helper()
		r, _, err := ParseRecord(txt)
		if err != nil {
			t.Fatalf("parsing %q: %v", txt, err)
		}
		s := r.Record()
		if s != txt {
			t.Fatalf("round trip %q: got %q", txt, s)
		}
	}

	test("v=spf1")
	test("v=spf1 -all")
	test("v=spf1 ip4:192.0.2.0 ~all")
	test("v=spf1 a:mail.example.com mx include:_spf.example.com -all")
	test("v=spf1 redirect=_spf.example.com")
	test("v=spf1 -all exp=explain.example.com")
}
