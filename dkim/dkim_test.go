package dkim

import (
	"context"
	"reflect"
	"testing"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/verdict"
)

const testKey = "MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDtzvSQKV      "

func TestCheck(t *testing.T) {
	key := NormalizeKey(testKey)

	resolver := dns.MockResolver{
		TXT: map[string][]string{
			"ok._domainkey.example.com.":              {"v=DKIM1; p=" + key},
			"nov._domainkey.example.com.":             {"p=" + key},
			"wrongkey._domainkey.example.com.":        {"v=DKIM1; p=AAAA"},
			"nokey._domainkey.example.com.":           {"v=DKIM1; p="},
			"notfirst._domainkey.example.com.":        {"p=" + key + "; v=DKIM1"},
			"badv._domainkey.example.com.":            {"v=DKIM2; p=" + key},
			"badsvc._domainkey.example.com.":          {"v=DKIM1; p=" + key + "; s=tlsrpt"},
			"svclist._domainkey.example.com.":         {"v=DKIM1; p=" + key + "; s=tlsrpt:email"},
			"svcstar._domainkey.example.com.":         {"v=DKIM1; p=" + key + "; s=*"},
			"testmode._domainkey.example.com.":        {"v=DKIM1; p=" + key + "; t=s:y"},
			"te_st._domainkey.example.com.":           {"v=DKIM1; p=" + key},
			"selector2024-01._domainkey.example.com.": {"v=DKIM1; p=" + key},
			"s1.dkim-key._domainkey.example.com.":     {"v=DKIM1; p=" + key},
			"trailing-._domainkey.example.com.":       {"v=DKIM1; p=" + key},
			"multiple._domainkey.example.com.":        {"v=DKIM1; p=" + key, "v=DKIM1; p=AAAA"},
			"malformed._domainkey.example.com.":       {"v=DKIM1; p"},
		},
	}

	domain, err := dns.ParseDomain("example.com")
	if err != nil {
		t.Fatalf("parse domain: %v", err)
	}

	test := func(selector, pubKey string, expPass verdict.Verdict, expReason string, expWarnings []string) {
		t.Helper()
		r := Check(context.Background(), nil, resolver, selector, domain, pubKey)
		if r.Pass != expPass || r.Reason != expReason || !reflect.DeepEqual(r.Warnings, expWarnings) {
			t.Fatalf("check %s: got %v %q %v, expected %v %q %v", selector, r.Pass, r.Reason, r.Warnings, expPass, expReason, expWarnings)
		}
	}

	test("ok", testKey, verdict.Pass, "", []string{})
	test("nov", testKey, verdict.Pass, "", []string{})
	test("svclist", testKey, verdict.Pass, "", []string{})
	test("svcstar", testKey, verdict.Pass, "", []string{})

	test("wrongkey", testKey, verdict.Fail, "Public key is incorrect.", []string{})
	test("nokey", testKey, verdict.Fail, "Public key is missing.", []string{})
	test("notfirst", testKey, verdict.Fail, "Version identifier must be the first tag if present.", []string{})
	test("badv", testKey, verdict.Fail, "Version identifier must be v=DKIM1 if present.", []string{})
	test("badsvc", testKey, verdict.Fail, "Record service type must include email (or *).", []string{})

	test("testmode", testKey, verdict.Partial, "", []string{"Test mode is enabled, DKIM policy might be ignored."})
	test("te_st", testKey, verdict.Partial, "", []string{"Selector name is non-standard."})
	test("selector2024-01", testKey, verdict.Pass, "", []string{})
	test("s1.dkim-key", testKey, verdict.Pass, "", []string{})
	test("trailing-", testKey, verdict.Partial, "", []string{"Selector name is non-standard."})

	test("absent", testKey, verdict.Fail, "No TXT record found.", []string{})
	test("multiple", testKey, verdict.Fail, "Multiple TXT records found, only one should be present.", []string{})
	test("malformed", testKey, verdict.Fail, "Malformed tag-value pair.", []string{})

	// PEM armor and whitespace in the expected key are ignored.
	pem := "-----BEGIN PUBLIC KEY-----\n" + key + "\n-----END PUBLIC KEY-----\n"
	test("ok", pem, verdict.Pass, "", []string{})

	// Host and record echo back for display.
	r := Check(context.Background(), nil, resolver, "ok", domain, testKey)
	if r.Host != "ok._domainkey.example.com" {
		t.Fatalf("got host %q", r.Host)
	}
	if r.Record != "v=DKIM1; p="+key {
		t.Fatalf("got record %q", r.Record)
	}
	if r.DNS != "v=DKIM1; p="+key {
		t.Fatalf("got dns suggestion %q", r.DNS)
	}
}
