package tagvalue

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/emailauth/emailauth/dns"
)

func TestParse(t *testing.T) {
	test := func(txt string, expTags []string, expErr error) {
		t.Helper()
		r, err := Parse(txt)
		if (err == nil) != (expErr == nil) || err != nil && !errors.Is(err, expErr) {
			t.Fatalf("parse %q: got err %v, expected %v", txt, err, expErr)
		}
		if err != nil {
			return
		}
		if !reflect.DeepEqual(r.Tags(), expTags) {
			t.Fatalf("parse %q: got tags %v, expected %v", txt, r.Tags(), expTags)
		}
	}

	test("v=DKIM1; p=abc", []string{"v", "p"}, nil)
	test("v=DKIM1; p=abc;", []string{"v", "p"}, nil)
	test(" v = DKIM1 ;; p = abc ", []string{"v", "p"}, nil)
	test("v=DKIM1; p", nil, ErrInvalidRecord)
	test("v=DKIM1; v=DKIM1", nil, ErrInvalidRecord)

	r, err := Parse("a=1; b=2; c=")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, ok := r.Get("b"); !ok || v != "2" {
		t.Fatalf("got %q %v for tag b, expected 2 true", v, ok)
	}
	if v, ok := r.Get("c"); !ok || v != "" {
		t.Fatalf("got %q %v for tag c, expected empty true", v, ok)
	}
	if r.Has("d") {
		t.Fatalf("unexpected tag d")
	}
	if r.FirstTag() != "a" {
		t.Fatalf("got first tag %q, expected a", r.FirstTag())
	}
}

func TestLookup(t *testing.T) {
	resolver := dns.MockResolver{
		TXT: map[string][]string{
			"single.example.com.":    {"v=TEST1; p=abc"},
			"multiple.example.com.":  {"v=TEST1; p=abc", "v=TEST1; p=def"},
			"mixed.example.com.":     {"v=TEST1; p=abc", "v=OTHER1; p=def", "malformed"},
			"malformed.example.com.": {"malformed"},
		},
		CNAME: map[string]string{
			"alias.example.com.": "single.example.com.",
		},
		Fail: []string{
			"txt temperror.example.com.",
		},
	}

	test := func(host string, accept Accept, expTags []string, expRejections int, expErr error) {
		t.Helper()
		r, rejections, err := Lookup(context.Background(), nil, resolver, host, accept)
		if (err == nil) != (expErr == nil) || err != nil && !errors.Is(err, expErr) {
			t.Fatalf("lookup %s: got err %v, expected %v", host, err, expErr)
		}
		if len(rejections) != expRejections {
			t.Fatalf("lookup %s: got %d rejections %v, expected %d", host, len(rejections), rejections, expRejections)
		}
		if err != nil {
			return
		}
		if !reflect.DeepEqual(r.Tags(), expTags) {
			t.Fatalf("lookup %s: got tags %v, expected %v", host, r.Tags(), expTags)
		}
	}

	acceptTest := func(r *Record) string {
		if v, _ := r.Get("v"); v != "TEST1" {
			return "Not a TEST1 record."
		}
		return ""
	}

	test("single.example.com", nil, []string{"v", "p"}, 0, nil)
	test("alias.example.com", nil, []string{"v", "p"}, 0, nil)
	test("absent.example.com", nil, nil, 0, ErrMissingRecord)
	test("multiple.example.com", nil, nil, 0, ErrInvalidRecord)
	test("malformed.example.com", nil, nil, 0, ErrInvalidRecord)
	test("temperror.example.com", nil, nil, 0, ErrMissingRecord)

	// With a filter, foreign and malformed records are skipped with a note.
	test("mixed.example.com", acceptTest, []string{"v", "p"}, 2, nil)
	test("malformed.example.com", acceptTest, nil, 1, ErrMissingRecord)
	test("multiple.example.com", acceptTest, nil, 0, ErrInvalidRecord)

	// Lookup error reasons are the messages surfaced to users.
	_, _, err := Lookup(context.Background(), nil, resolver, "absent.example.com", nil)
	var xerr *Error
	if !errors.As(err, &xerr) || xerr.Reason != "No TXT record found." {
		t.Fatalf("got %v, expected missing record reason", err)
	}
	_, _, err = Lookup(context.Background(), nil, resolver, "multiple.example.com", nil)
	if !errors.As(err, &xerr) || xerr.Reason != "Multiple TXT records found, only one should be present." {
		t.Fatalf("got %v, expected multiple records reason", err)
	}
	// The resolver error detail is appended after the fixed message.
	_, _, err = Lookup(context.Background(), nil, resolver, "temperror.example.com", nil)
	if !errors.As(err, &xerr) || !strings.HasPrefix(xerr.Reason, "Could not retrieve DNS record. ") || !strings.Contains(xerr.Reason, "temp error") {
		t.Fatalf("got %v, expected dns failure reason with detail", err)
	}
	_, rejections, err := Lookup(context.Background(), nil, resolver, "mixed.example.com", acceptTest)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	exp := []string{"Potential record ignored: Not a TEST1 record.", "Potential record ignored: Malformed tag-value pair."}
	if !reflect.DeepEqual(rejections, exp) {
		t.Fatalf("got rejections %v, expected %v", rejections, exp)
	}
}
