// Package dmarc checks a domain's DMARC configuration.
//
// DMARC, RFC 7489, lets a domain declare a policy for mail that fails both
// DKIM and SPF alignment, through a TXT record at _dmarc.<domain>. Policy for
// a subdomain without its own record falls back to the record at the
// organizational domain.
package dmarc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
	"github.com/emailauth/emailauth/stub"
	"github.com/emailauth/emailauth/tagvalue"
	"github.com/emailauth/emailauth/verdict"
)

// MetricCheck tracks DMARC checks, with verdict and whether the record was
// found on the organizational domain.
var MetricCheck stub.HistogramVec = stub.HistogramVecIgnore{}

// OrgDomainResolver resolves the organizational domain that DMARC policy for
// a subdomain falls back to, e.g. a publicsuffix.Source.
type OrgDomainResolver interface {
	// OrgDomain returns the organizational domain of domain, or a zero Domain
	// when domain is its own organizational domain. A non-empty warning means
	// the public suffix data could not be obtained and org is a best-effort
	// fallback. Warnings are never fatal.
	OrgDomain(ctx context.Context, domain dns.Domain) (org dns.Domain, warning string)
}

// Relaxed indicates per mechanism whether alignment with the From domain is
// relaxed (sharing the organizational domain suffices) or strict (identical).
type Relaxed struct {
	DKIM bool `json:"dkim"`
	SPF  bool `json:"spf"`
}

// Result is the outcome of checking a domain's DMARC configuration. Field
// names are a stable contract with callers rendering the result.
type Result struct {
	Pass     verdict.Verdict `json:"pass"`
	Reason   string          `json:"reason,omitempty"` // Set on failure.
	Record   string          `json:"record,omitempty"` // Raw text of the found record.
	Warnings []string        `json:"warnings"`
	Infos    []string        `json:"infos"`
	Org      string          `json:"org,omitempty"`     // Organizational domain, if different from the checked domain.
	OrgFail  string          `json:"orgFail,omitempty"` // Why the organizational domain could be wrong, if applicable.
	Relaxed  Relaxed         `json:"relaxed"`
}

// dmarcRecord rejects tag-value records that are not DMARC records, so
// unrelated TXT records at the same name are skipped with a note.
func dmarcRecord(r *tagvalue.Record) string {
	v, ok := r.Get("v")
	switch {
	case !ok:
		return "Version identifier (v=DMARC1) is missing."
	case r.FirstTag() != "v":
		return "First tag must be the version identifier (v)."
	case v != "DMARC1":
		return "Version identifier must be v=DMARC1."
	}
	return ""
}

// Check fetches and evaluates the DMARC record for domain. A missing record
// is looked up once more at the organizational domain, per RFC 7489 6.6.3.
//
// Check never returns an error: lookup and record failures become a failed
// Result with the underlying reason.
func Check(ctx context.Context, elog *slog.Logger, resolver dns.Resolver, orgResolver OrgDomainResolver, domain dns.Domain) (result Result) {
	log := mlog.New("dmarc", elog).WithContext(ctx)
	start := time.Now()
	onOrg := false
	defer func() {
		org := "no"
		if onOrg {
			org = "yes"
		}
		MetricCheck.ObserveLabels(float64(time.Since(start))/float64(time.Second), result.Pass.String(), org)
		log.Debug("dmarc check result",
			slog.Any("domain", domain),
			slog.String("verdict", result.Pass.String()),
			slog.Bool("orgdomain", onOrg),
			slog.Duration("duration", time.Since(start)))
	}()

	result = Result{
		Pass:     verdict.Fail,
		Warnings: []string{},
		Infos:    []string{},
		Relaxed:  Relaxed{DKIM: true, SPF: true},
	}

	d := domain
	var orgDomain dns.Domain
	var rec *tagvalue.Record
	for {
		if !onOrg && orgResolver != nil {
			var warning string
			orgDomain, warning = orgResolver.OrgDomain(ctx, d)
			if !orgDomain.IsZero() {
				result.Org = orgDomain.Name()
			}
			result.OrgFail = warning
		}

		var rejections []string
		var err error
		rec, rejections, err = tagvalue.Lookup(ctx, elog, resolver, "_dmarc."+d.ASCII, dmarcRecord)
		result.Warnings = append(result.Warnings, rejections...)
		if err == nil {
			break
		}
		if errors.Is(err, tagvalue.ErrMissingRecord) && !onOrg && !orgDomain.IsZero() && orgDomain != d {
			onOrg = true
			d = orgDomain
			continue
		}
		var tvErr *tagvalue.Error
		if errors.As(err, &tvErr) {
			result.Reason = tvErr.Reason
		} else {
			result.Reason = err.Error()
		}
		return result
	}
	result.Record = rec.Text

	// On the organizational domain the subdomain policy applies if present.
	policy := "none"
	consulted := "p"
	if onOrg {
		if sp, ok := rec.Get("sp"); ok {
			policy, consulted = sp, "sp"
		} else if p, ok := rec.Get("p"); ok {
			policy = p
		}
	} else if p, ok := rec.Get("p"); ok {
		policy = p
	}
	switch policy {
	case "none":
		result.Warnings = append(result.Warnings, fmt.Sprintf("DMARC will pass regardless of DKIM and SPF alignment. Add a `%s=quarantine` or `%s=reject` term.", consulted, consulted))
	case "quarantine":
		result.Infos = append(result.Infos, "Failures will be treated as suspicious, but will not be outright rejected.")
	}

	pct := 100
	if s, ok := rec.Get("pct"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			pct = n
		}
	}
	if pct < 100 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("DMARC will only fail for %d%% of failures.", pct))
	}

	alignmentMode := func(tag, name string) bool {
		mode := "r"
		if v, ok := rec.Get(tag); ok {
			mode = strings.TrimSpace(v)
		}
		if mode == "r" {
			result.Infos = append(result.Infos, fmt.Sprintf("DMARC will still pass if the %s and \"From\" domain share a common registered domain.", name))
			return true
		}
		result.Infos = append(result.Infos, fmt.Sprintf("DMARC will only pass if the %s and \"From\" domain are identical.", name))
		return false
	}
	result.Relaxed.DKIM = alignmentMode("adkim", "DKIM domain")
	result.Relaxed.SPF = alignmentMode("aspf", "bounce domain")

	if len(result.Warnings) > 0 {
		result.Pass = verdict.Partial
	} else {
		result.Pass = verdict.Pass
	}
	return result
}
