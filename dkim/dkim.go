// Package dkim checks the published DKIM key record (RFC 6376) for a
// selector and domain: it verifies that the TXT record at
// "<selector>._domainkey.<domain>" carries the expected public key and
// well-formed version, service type and flags, and reports a verdict with
// human-readable diagnostics.
package dkim

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
	"github.com/emailauth/emailauth/stub"
	"github.com/emailauth/emailauth/tagvalue"
	"github.com/emailauth/emailauth/verdict"
)

var (
	MetricCheck stub.HistogramVec = stub.HistogramVecIgnore{}
)

// Result is the outcome of checking a DKIM key record. Field names are a
// stable contract with callers rendering the result.
type Result struct {
	Pass     verdict.Verdict `json:"pass"`
	Reason   string          `json:"reason,omitempty"`  // Set on failure.
	Warnings []string        `json:"warnings"`          // Non-fatal notes, empty on failure.
	Host     string          `json:"host"`              // Name the record was looked up at.
	DNS      string          `json:"dns,omitempty"`     // Suggested record to publish.
	Record   string          `json:"record,omitempty"`  // Raw text of the record found.
}

// Selector names are domain labels, RFC 6376 section 3.1 with the LDH rule of
// RFC 5321. Providers accept more in practice, so a mismatch is only a warning.
var selectorRegexp = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// NormalizeKey strips PEM armor and all whitespace from a public key, leaving
// the bare base64 text as it appears in a key record's "p" tag.
func NormalizeKey(s string) string {
	s = strings.ReplaceAll(s, "-----BEGIN PUBLIC KEY-----", "")
	s = strings.ReplaceAll(s, "-----END PUBLIC KEY-----", "")
	return strings.Join(strings.Fields(s), "")
}

// Check looks up the DKIM key record for selector and domain and verifies it
// publishes publicKey (base64 or PEM).
//
// Check never returns an error: lookup and parse failures become a failed
// Result with a human-readable Reason.
func Check(ctx context.Context, elog *slog.Logger, resolver dns.Resolver, selector string, domain dns.Domain, publicKey string) (result Result) {
	log := mlog.New("dkim", elog).WithContext(ctx)
	start := time.Now()
	defer func() {
		MetricCheck.ObserveLabels(float64(time.Since(start))/float64(time.Second), result.Pass.String())
		log.Debug("dkim check result",
			slog.String("selector", selector),
			slog.Any("domain", domain),
			slog.String("verdict", result.Pass.String()),
			slog.String("reason", result.Reason),
			slog.Duration("duration", time.Since(start)))
	}()

	expKey := NormalizeKey(publicKey)
	result = Result{
		Pass:     verdict.Fail,
		Warnings: []string{},
		Host:     selector + "._domainkey." + domain.ASCII,
		DNS:      "v=DKIM1; p=" + expKey,
	}

	fail := func(reason string) Result {
		result.Reason = reason
		result.Warnings = []string{}
		return result
	}

	var warnings []string
	if !selectorRegexp.MatchString(selector) {
		warnings = append(warnings, "Selector name is non-standard.")
	}

	// Any single TXT record at the selector host is the key record, there is no
	// content marker to filter on.
	record, _, err := tagvalue.Lookup(ctx, elog, dns.WithPackage(resolver, "dkim"), result.Host, nil)
	if err != nil {
		var xerr *tagvalue.Error
		if errors.As(err, &xerr) {
			return fail(xerr.Reason)
		}
		return fail(err.Error())
	}
	result.Record = record.Text

	if p, ok := record.Get("p"); !ok || p == "" {
		return fail("Public key is missing.")
	} else if p != expKey {
		return fail("Public key is incorrect.")
	}
	if v, ok := record.Get("v"); ok {
		if record.FirstTag() != "v" {
			return fail("Version identifier must be the first tag if present.")
		}
		if v != "DKIM1" {
			return fail("Version identifier must be v=DKIM1 if present.")
		}
	}
	if s, ok := record.Get("s"); ok {
		match := false
		for _, svc := range strings.Split(s, ":") {
			if svc == "*" || svc == "email" {
				match = true
				break
			}
		}
		if !match {
			return fail("Record service type must include email (or *).")
		}
	}

	if t, ok := record.Get("t"); ok {
		for _, flag := range strings.Split(t, ":") {
			if flag == "y" {
				warnings = append(warnings, "Test mode is enabled, DKIM policy might be ignored.")
				break
			}
		}
	}

	result.Warnings = append(result.Warnings, warnings...)
	if len(result.Warnings) > 0 {
		result.Pass = verdict.Partial
	} else {
		result.Pass = verdict.Pass
	}
	return result
}
