// Package tagvalue parses DNS TXT records consisting of semicolon-separated
// "tag=value" pairs, the wire format shared by DKIM (RFC 6376) and DMARC
// (RFC 7489) records.
//
// Lookup fetches the TXT records for a host, parses each into a tag-value
// Record and selects exactly one. An optional accept filter lets callers skip
// unrelated TXT records living at the same name, accumulating human-readable
// rejection notes instead of failing the whole lookup.
package tagvalue

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/mlog"
)

// Error classes for lookup failures, for use with errors.Is.
var (
	ErrMissingRecord = errors.New("tagvalue: no record")
	ErrInvalidRecord = errors.New("tagvalue: invalid record")
)

// Error is a lookup or parse failure. Reason is the human-readable message
// surfaced in check results. Unwraps to ErrMissingRecord or ErrInvalidRecord.
type Error struct {
	Err    error // ErrMissingRecord or ErrInvalidRecord.
	Reason string
}

func (e *Error) Error() string { return e.Reason }
func (e *Error) Unwrap() error { return e.Err }

func missing(reason string) *Error { return &Error{ErrMissingRecord, reason} }
func invalid(reason string) *Error { return &Error{ErrInvalidRecord, reason} }

type pair struct {
	tag   string
	value string
}

// Record is a single parsed TXT record, preserving tag insertion order.
type Record struct {
	pairs []pair

	// Raw record text the pairs were parsed from.
	Text string
}

// Get returns the value for tag, and whether the tag is present.
func (r *Record) Get(tag string) (string, bool) {
	for _, p := range r.pairs {
		if p.tag == tag {
			return p.value, true
		}
	}
	return "", false
}

// Has returns whether tag is present in the record.
func (r *Record) Has(tag string) bool {
	_, ok := r.Get(tag)
	return ok
}

// FirstTag returns the name of the first tag, or the empty string for a
// record without tags.
func (r *Record) FirstTag() string {
	if len(r.pairs) == 0 {
		return ""
	}
	return r.pairs[0].tag
}

// Tags returns the tag names in insertion order.
func (r *Record) Tags() []string {
	l := make([]string, len(r.pairs))
	for i, p := range r.pairs {
		l[i] = p.tag
	}
	return l
}

// Parse parses a single TXT record text into a Record. The text is split on
// ";", empty segments are skipped, each remaining segment must have the form
// "tag=value" with tag and value trimmed of surrounding whitespace. A
// duplicate tag makes the record invalid.
func Parse(txt string) (*Record, error) {
	r := &Record{Text: txt}
	for _, seg := range strings.Split(txt, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		t := strings.SplitN(seg, "=", 2)
		if len(t) != 2 {
			return nil, invalid("Malformed tag-value pair.")
		}
		tag := strings.TrimSpace(t[0])
		value := strings.TrimSpace(t[1])
		if r.Has(tag) {
			return nil, invalid("Multiple tag-values pairs with the same key.")
		}
		r.pairs = append(r.pairs, pair{tag, value})
	}
	return r, nil
}

// Accept decides whether a parsed candidate record is of the type the caller
// is looking for. It returns the empty string to accept the record, or a
// human-readable reason to reject it and continue with other candidates.
type Accept func(r *Record) (rejectReason string)

// Lookup fetches the TXT records at host, following CNAME indirection, and
// returns the single record accepted by accept.
//
// With a nil accept, every TXT record at the name is a candidate and a
// malformed candidate fails the whole lookup. With an accept filter,
// malformed and rejected candidates are skipped, each adding a
// "Potential record ignored: ..." note to rejections.
//
// Zero accepted candidates result in an Error wrapping ErrMissingRecord, more
// than one in an Error wrapping ErrInvalidRecord: only one record of a given
// type may live at a name (RFC 6376 section 3.6.2.2, RFC 7489 section 6.6.3).
func Lookup(ctx context.Context, elog *slog.Logger, resolver dns.Resolver, host string, accept Accept) (rrecord *Record, rejections []string, rerr error) {
	log := mlog.New("tagvalue", elog).WithContext(ctx)
	defer func() {
		log.Debugx("tagvalue lookup result", rerr,
			slog.String("host", host),
			slog.Int("rejections", len(rejections)))
	}()

	name := host
	if !strings.HasSuffix(name, ".") {
		name += "."
	}

	// Chase CNAMEs ourselves so we also find records behind indirection when the
	// resolver does not follow them. Bounded to keep loops from recursing.
	for i := 0; i < 8; i++ {
		cname, _, err := resolver.LookupCNAME(ctx, name)
		if err != nil {
			break
		}
		if !strings.HasSuffix(cname, ".") {
			cname += "."
		}
		name = cname
	}

	txts, _, err := resolver.LookupTXT(ctx, name)
	if err != nil && !dns.IsNotFound(err) {
		log.Debugx("looking up txt records", err, slog.String("name", name))
		return nil, nil, missing("Could not retrieve DNS record. " + err.Error())
	}

	var accepted []*Record
	for _, txt := range txts {
		r, err := Parse(txt)
		if err != nil {
			if accept == nil {
				return nil, nil, err
			}
			var xerr *Error
			errors.As(err, &xerr)
			rejections = append(rejections, "Potential record ignored: "+xerr.Reason)
			continue
		}
		if accept != nil {
			if reason := accept(r); reason != "" {
				rejections = append(rejections, "Potential record ignored: "+reason)
				continue
			}
		}
		accepted = append(accepted, r)
	}

	switch len(accepted) {
	case 0:
		return nil, rejections, missing("No TXT record found.")
	case 1:
		return accepted[0], rejections, nil
	default:
		return nil, rejections, invalid("Multiple TXT records found, only one should be present.")
	}
}
