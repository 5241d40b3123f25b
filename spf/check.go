package spf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
	"github.com/emailauth/emailauth/verdict"
)

// Validity is the semantic validation outcome for a record. It JSON-encodes
// as the list of issues, or as false when no record could be decoded and
// validity could not be determined.
type Validity struct {
	Known  bool
	Issues []Issue
}

func (v Validity) MarshalJSON() ([]byte, error) {
	if !v.Known {
		return []byte("false"), nil
	}
	if v.Issues == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Issues)
}

func (v *Validity) UnmarshalJSON(buf []byte) error {
	if string(buf) == "false" {
		*v = Validity{}
		return nil
	}
	v.Known = true
	return json.Unmarshal(buf, &v.Issues)
}

// Result is the outcome of checking a domain's SPF configuration for a
// sending server. Field names are a stable contract with callers rendering
// the result.
type Result struct {
	Pass        verdict.Verdict `json:"pass"`
	Reason      string          `json:"reason,omitempty"` // Set on failure.
	Code        string          `json:"code"`             // Evaluation status, e.g. "pass", "neutral", "permerror".
	CodeReasons []Issue         `json:"code_reasons"`     // Diagnostics explaining Code.
	Record      string          `json:"record,omitempty"` // Raw text of the current record.
	Validity    Validity        `json:"validity"`         // Semantic issues, or false if the record could not be decoded.
	RecDNS      string          `json:"rec_dns,omitempty"` // Suggested corrected record to publish. Only set if repairs were needed.
	RecReasons  []Issue         `json:"rec_reasons"`      // Why the suggested record differs from the current one.
	ServerIP    string          `json:"server_ip"`        // The IP the record was evaluated for.
}

// Check evaluates the SPF record of domain for a server sending from
// sendingIP, and synthesizes a corrected record when the current one does not
// safely authorize it. serverDomain is the sending server's name, used in
// diagnostics.
//
// An unparseable sendingIP is replaced by 0.0.0.0 with a warning, so the
// record itself is still decoded and validated.
//
// Check never returns an error: lookup, decode and evaluation failures become
// a failed Result with diagnostics.
func Check(ctx context.Context, elog *slog.Logger, resolver dns.Resolver, domain dns.Domain, sendingIP, serverDomain string) (result Result) {
	log := mlog.New("spf", elog).WithContext(ctx)
	start := time.Now()
	defer func() {
		MetricCheck.ObserveLabels(float64(time.Since(start))/float64(time.Second), result.Pass.String(), result.Code)
		log.Debug("spf check result",
			slog.Any("domain", domain),
			slog.String("ip", result.ServerIP),
			slog.String("code", result.Code),
			slog.String("verdict", result.Pass.String()),
			slog.Duration("duration", time.Since(start)))
	}()

	result = Result{
		Pass:        verdict.Fail,
		CodeReasons: []Issue{},
		RecReasons:  []Issue{},
	}

	ip := net.ParseIP(sendingIP)
	if ip == nil {
		ip = net.IPv4zero
		result.CodeReasons = append(result.CodeReasons, Issue{LevelWarning, fmt.Sprintf("Sending server IP address %q is not valid, using 0.0.0.0 instead.", sendingIP)})
	}
	result.ServerIP = ip.String()

	status, text, record, _, err := Lookup(ctx, elog, resolver, domain)
	mechanism := ""
	if record != nil {
		status, mechanism, _, _, err = Evaluate(ctx, elog, record, resolver, Args{
			RemoteIP:          ip,
			MailFromLocalpart: "test",
			MailFromDomain:    domain,
		})
	}
	result.Code = string(status)
	if err != nil {
		result.CodeReasons = append(result.CodeReasons, Issue{LevelError, err.Error()})
	}
	if status == StatusNeutral && mechanism == "default" {
		result.CodeReasons = append(result.CodeReasons, Issue{LevelError, "No mechanism matched and no redirect modifier found."})
	}

	fullNonPass := status == StatusFail || status == StatusSoftfail || status == StatusNeutral
	if fullNonPass && mechanism != "" && mechanism != "default" {
		result.CodeReasons = append(result.CodeReasons, Issue{LevelInfo, "Non-pass caused by: `" + mechanism + "`"})
	}

	if record == nil {
		// Without a decoded record there is no validity to report and no repair to
		// generate.
		if errors.Is(err, ErrRecordSyntax) || errors.Is(err, ErrMultipleRecords) {
			result.Reason = "Could not decode SPF record."
		} else {
			result.Reason = "SPF check did not pass."
		}
		return result
	}
	result.Record = text

	issues := Validate(record)
	result.Validity = Validity{Known: true, Issues: issues}
	invalid := false
	for _, issue := range issues {
		if issue.Level == LevelError || issue.Level == LevelWarning {
			invalid = true
		}
	}

	// A match on "all" in a record where every directive is "all" authorizes (or
	// denies) everyone without saying anything about this server specifically.
	onlyMatchedByAll := stripQualifier(mechanism) == "all"
	for _, d := range record.Directives {
		if d.Mechanism != "all" {
			onlyMatchedByAll = false
			break
		}
	}

	// Repair synthesis. The decoded record is never modified: repairs build a new
	// directive list, so rec_dns gating on repair reasons stays trivially correct.
	dirs := append([]Directive{}, record.Directives...)

	if fullNonPass || onlyMatchedByAll {
		mech := "ip4"
		if ip.To4() == nil {
			mech = "ip6"
		}
		ins := Directive{Mechanism: mech, IP: ip}
		inserted := false
		ndirs := make([]Directive, 0, len(dirs)+1)
		for _, d := range dirs {
			if !inserted && d.Mechanism == "all" {
				ndirs = append(ndirs, ins)
				inserted = true
			}
			ndirs = append(ndirs, d)
		}
		if !inserted {
			ndirs = append(ndirs, ins)
		}
		dirs = ndirs
		if fullNonPass {
			result.RecReasons = append(result.RecReasons, Issue{LevelError, fmt.Sprintf("Server (%s or %s) is not included in a pass case of the SPF record.", serverDomain, ip)})
		} else {
			result.RecReasons = append(result.RecReasons, Issue{LevelWarning, fmt.Sprintf("Server (%s or %s) is only matched by an `all` term, which does not specifically authorize it.", serverDomain, ip)})
		}
	}

	safeAll := false
	for _, d := range dirs {
		if d.Mechanism == "all" && (d.Qualifier == "~" || d.Qualifier == "-") {
			safeAll = true
			break
		}
	}
	if !safeAll {
		ndirs := make([]Directive, 0, len(dirs)+1)
		for _, d := range dirs {
			if d.Mechanism != "all" {
				ndirs = append(ndirs, d)
			}
		}
		ndirs = append(ndirs, Directive{Qualifier: "~", Mechanism: "all"})
		dirs = ndirs
		result.RecReasons = append(result.RecReasons, Issue{LevelWarning, "An `~all` or `-all` term is recommended to (soft) fail all other servers."})
	}

	if len(result.RecReasons) > 0 {
		repaired := *record
		repaired.Directives = dirs
		result.RecDNS = repaired.Record()
	}

	if status == StatusPass {
		if invalid || len(result.RecReasons) > 0 {
			result.Pass = verdict.Partial
		} else {
			result.Pass = verdict.Pass
		}
	} else {
		result.Pass = verdict.Fail
		result.Reason = "SPF check did not pass."
	}
	return result
}

func stripQualifier(mechanism string) string {
	for _, q := range []string{"+", "-", "~", "?"} {
		if len(mechanism) > 0 && mechanism[:1] == q {
			return mechanism[1:]
		}
	}
	return mechanism
}
