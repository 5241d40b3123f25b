package dmarc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/verdict"
)

// AlignmentLevel is the outcome of an alignment check for one mechanism.
type AlignmentLevel string

const (
	AlignmentError   AlignmentLevel = "error"
	AlignmentUnknown AlignmentLevel = "unknown"
	AlignmentPass    AlignmentLevel = "pass"
)

// AlignmentResult is the alignment outcome for one mechanism, or the
// aggregate over both.
type AlignmentResult struct {
	Level AlignmentLevel `json:"level"`
	Desc  string         `json:"desc,omitempty"`
}

// Alignment determines whether the domain a mechanism (DKIM or SPF)
// authenticated aligns with the From domain. name is the mechanism name for
// messages, e.g. "DKIM". result is that mechanism's check verdict, nil when
// the check has not completed. validateDomain is the domain the mechanism
// authenticated, zero when not configured or not yet determined.
//
// In relaxed mode differing domains are replaced by their organizational
// domains before comparing. A warning from the resolver makes the outcome
// unknown, the comparison cannot be trusted without a confirmed
// organizational domain.
//
// Alignment is a pure function of its inputs. Callers re-invoke it whenever
// an underlying verdict or domain changes.
func Alignment(ctx context.Context, elog *slog.Logger, name string, result *verdict.Verdict, validateDomain, fromDomain dns.Domain, relaxed bool, orgResolver OrgDomainResolver) AlignmentResult {
	if result != nil && *result == verdict.Fail {
		return AlignmentResult{AlignmentError, name + " check failed."}
	}
	if validateDomain.IsZero() {
		return AlignmentResult{AlignmentUnknown, name + " alignment unknown."}
	}

	a, b := validateDomain, fromDomain
	if relaxed && a != b {
		org, warning := orgResolver.OrgDomain(ctx, a)
		if warning != "" {
			return AlignmentResult{AlignmentUnknown, warning}
		}
		if !org.IsZero() {
			a = org
		}
		org, warning = orgResolver.OrgDomain(ctx, b)
		if warning != "" {
			return AlignmentResult{AlignmentUnknown, warning}
		}
		if !org.IsZero() {
			b = org
		}
	}
	if a != b {
		return AlignmentResult{AlignmentError, fmt.Sprintf("%s alignment failed: %s does not match from domain %s.", name, validateDomain.Name(), fromDomain.Name())}
	}
	if result == nil {
		return AlignmentResult{AlignmentUnknown, name + " check has not completed."}
	}
	return AlignmentResult{Level: AlignmentPass}
}

// AggregateAlignment combines the DKIM and SPF alignment outcomes into the
// overall DMARC alignment: DMARC passes when at least one mechanism aligns.
func AggregateAlignment(dkim, spf AlignmentResult) AlignmentResult {
	switch {
	case dkim.Level == AlignmentPass || spf.Level == AlignmentPass:
		return AlignmentResult{Level: AlignmentPass}
	case dkim.Level == AlignmentUnknown || spf.Level == AlignmentUnknown:
		return AlignmentResult{Level: AlignmentUnknown}
	}
	return AlignmentResult{AlignmentError, "Alignment checks failed."}
}
