package spf

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/verdict"
)

func TestCheck(t *testing.T) {
	resolver := dns.MockResolver{
		TXT: map[string][]string{
			"empty.test.":     {"v=spf1"},
			"softfail.test.":  {"v=spf1 ~all"},
			"hardfail.test.":  {"v=spf1 -all"},
			"pass.test.":      {"v=spf1 ip4:192.0.2.0 -all"},
			"invalid.test.":   {"v=spf1 waaaaa -all"},
			"misplaced.test.": {"v=spf1 ip4:192.0.2.0 -all ip4:127.0.0.1"},
			"noall.test.":     {"v=spf1 ip4:192.0.2.0"},
			"unsafe.test.":    {"v=spf1 ip4:192.0.2.0 all"},
			"onlyall.test.":   {"v=spf1 all"},
			"include.test.":   {"v=spf1 include:pass.test -all"},
			"multiple.test.":  {"v=spf1 -all", "v=spf1 ~all"},
		},
	}

	check := func(domain, ip string) Result {
		t.Helper()
		d, err := dns.ParseDomain(domain)
		if err != nil {
			t.Fatalf("parse domain %s: %v", domain, err)
		}
		return Check(context.Background(), nil, resolver, d, ip, "server.domain")
	}

	test := func(domain, ip string, exp Result) {
		t.Helper()
		r := check(domain, ip)
		if !reflect.DeepEqual(r, exp) {
			t.Fatalf("check %s %s:\ngot      %#v\nexpected %#v", domain, ip, r, exp)
		}
	}

	notIncluded := Issue{LevelError, "Server (server.domain or 192.0.2.0) is not included in a pass case of the SPF record."}
	recommendAll := Issue{LevelWarning, "An `~all` or `-all` term is recommended to (soft) fail all other servers."}
	unsafeAll := Issue{LevelWarning, "An 'all' mechanism with a 'pass' qualifier authorizes every server to send for the domain"}

	test("empty.test", "192.0.2.0", Result{
		Pass:        verdict.Fail,
		Reason:      "SPF check did not pass.",
		Code:        "neutral",
		CodeReasons: []Issue{{LevelError, "No mechanism matched and no redirect modifier found."}},
		Record:      "v=spf1",
		Validity:    Validity{Known: true},
		RecDNS:      "v=spf1 ip4:192.0.2.0 ~all",
		RecReasons:  []Issue{notIncluded, recommendAll},
		ServerIP:    "192.0.2.0",
	})

	test("softfail.test", "192.0.2.0", Result{
		Pass:        verdict.Fail,
		Reason:      "SPF check did not pass.",
		Code:        "softfail",
		CodeReasons: []Issue{{LevelInfo, "Non-pass caused by: `~all`"}},
		Record:      "v=spf1 ~all",
		Validity:    Validity{Known: true},
		RecDNS:      "v=spf1 ip4:192.0.2.0 ~all",
		RecReasons:  []Issue{notIncluded},
		ServerIP:    "192.0.2.0",
	})

	test("hardfail.test", "192.0.2.0", Result{
		Pass:        verdict.Fail,
		Reason:      "SPF check did not pass.",
		Code:        "fail",
		CodeReasons: []Issue{{LevelInfo, "Non-pass caused by: `-all`"}},
		Record:      "v=spf1 -all",
		Validity:    Validity{Known: true},
		RecDNS:      "v=spf1 ip4:192.0.2.0 -all",
		RecReasons:  []Issue{notIncluded},
		ServerIP:    "192.0.2.0",
	})

	test("pass.test", "192.0.2.0", Result{
		Pass:        verdict.Pass,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 ip4:192.0.2.0 -all",
		Validity:    Validity{Known: true},
		RecReasons:  []Issue{},
		ServerIP:    "192.0.2.0",
	})

	test("include.test", "192.0.2.0", Result{
		Pass:        verdict.Pass,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 include:pass.test -all",
		Validity:    Validity{Known: true},
		RecReasons:  []Issue{},
		ServerIP:    "192.0.2.0",
	})

	test("misplaced.test", "192.0.2.0", Result{
		Pass:        verdict.Partial,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 ip4:192.0.2.0 -all ip4:127.0.0.1",
		Validity:    Validity{Known: true, Issues: []Issue{{LevelWarning, "'all' should be the last mechanism (any other mechanism will be ignored)"}}},
		RecReasons:  []Issue{},
		ServerIP:    "192.0.2.0",
	})

	test("noall.test", "192.0.2.0", Result{
		Pass:        verdict.Partial,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 ip4:192.0.2.0",
		Validity:    Validity{Known: true},
		RecDNS:      "v=spf1 ip4:192.0.2.0 ~all",
		RecReasons:  []Issue{recommendAll},
		ServerIP:    "192.0.2.0",
	})

	test("unsafe.test", "192.0.2.0", Result{
		Pass:        verdict.Partial,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 ip4:192.0.2.0 all",
		Validity:    Validity{Known: true, Issues: []Issue{unsafeAll}},
		RecDNS:      "v=spf1 ip4:192.0.2.0 ~all",
		RecReasons:  []Issue{recommendAll},
		ServerIP:    "192.0.2.0",
	})

	test("onlyall.test", "192.0.2.0", Result{
		Pass:        verdict.Partial,
		Code:        "pass",
		CodeReasons: []Issue{},
		Record:      "v=spf1 all",
		Validity:    Validity{Known: true, Issues: []Issue{unsafeAll}},
		RecDNS:      "v=spf1 ip4:192.0.2.0 ~all",
		RecReasons: []Issue{
			{LevelWarning, "Server (server.domain or 192.0.2.0) is only matched by an `all` term, which does not specifically authorize it."},
			recommendAll,
		},
		ServerIP: "192.0.2.0",
	})

	// Undecodable and absent records report no validity and no repair.
	r := check("invalid.test", "192.0.2.0")
	if r.Pass != verdict.Fail || r.Reason != "Could not decode SPF record." || r.Code != "permerror" || r.Validity.Known || r.RecDNS != "" {
		t.Fatalf("check invalid record: got %#v", r)
	}
	if len(r.CodeReasons) != 1 || r.CodeReasons[0].Level != LevelError {
		t.Fatalf("check invalid record: got code reasons %v", r.CodeReasons)
	}

	r = check("multiple.test", "192.0.2.0")
	if r.Pass != verdict.Fail || r.Reason != "Could not decode SPF record." || r.Code != "permerror" || r.Validity.Known {
		t.Fatalf("check multiple records: got %#v", r)
	}

	r = check("absent.test", "192.0.2.0")
	if r.Pass != verdict.Fail || r.Reason != "SPF check did not pass." || r.Code != "none" || r.Validity.Known || r.RecDNS != "" {
		t.Fatalf("check absent record: got %#v", r)
	}

	// A bogus sending IP is replaced by 0.0.0.0 with a warning, evaluation continues.
	d, _ := dns.ParseDomain("pass.test")
	r = Check(context.Background(), nil, resolver, d, "bogus", "server.domain")
	if r.ServerIP != "0.0.0.0" || r.Code != "fail" {
		t.Fatalf("check bogus ip: got %#v", r)
	}
	if len(r.CodeReasons) == 0 || r.CodeReasons[0].Level != LevelWarning || !strings.Contains(r.CodeReasons[0].Desc, "0.0.0.0") {
		t.Fatalf("check bogus ip: got code reasons %v", r.CodeReasons)
	}
}

func TestValidityJSON(t *testing.T) {
	buf, err := json.Marshal(Validity{})
	if err != nil || string(buf) != "false" {
		t.Fatalf("got %s %v, expected false", buf, err)
	}
	buf, err = json.Marshal(Validity{Known: true})
	if err != nil || string(buf) != "[]" {
		t.Fatalf("got %s %v, expected empty list", buf, err)
	}
	buf, err = json.Marshal(Validity{Known: true, Issues: []Issue{{LevelWarning, "test"}}})
	if err != nil || string(buf) != `[{"level":"warning","desc":"test"}]` {
		t.Fatalf("got %s %v", buf, err)
	}

	var v Validity
	if err := json.Unmarshal([]byte("false"), &v); err != nil || v.Known {
		t.Fatalf("unmarshal false: %#v %v", v, err)
	}
	if err := json.Unmarshal([]byte(`[{"desc":"test"}]`), &v); err != nil || !v.Known || len(v.Issues) != 1 {
		t.Fatalf("unmarshal issues: %#v %v", v, err)
	}
}
