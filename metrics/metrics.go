// Package metrics provides prometheus implementations for the metrics
// variables in the checking packages. Importing this package and calling Init
// makes DNS lookups and record checks observable; without it the packages use
// no-op implementations.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/emailauth/emailauth/dkim"
	"github.com/emailauth/emailauth/dmarc"
	"github.com/emailauth/emailauth/dns"
	"github.com/emailauth/emailauth/publicsuffix"
	"github.com/emailauth/emailauth/spf"
)

var initOnce sync.Once

// Init registers prometheus metrics with the default registry and installs
// them in the checking packages. Safe to call multiple times.
func Init() {
	initOnce.Do(register)
}

func register() {
	dns.MetricLookup = histogramVec{promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailauth_dns_lookup_duration_seconds",
			Help:    "DNS lookups.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30},
		},
		[]string{
			"pkg",
			"type",   // Lower-case Resolver method name without leading Lookup.
			"result", // ok, nxdomain, temporary, timeout, canceled, error
		},
	)}

	dkim.MetricCheck = histogramVec{promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailauth_dkim_check_duration_seconds",
			Help:    "DKIM record check, including lookup, duration and verdict.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{
			"verdict", // pass, partial, fail
		},
	)}

	spf.MetricCheck = histogramVec{promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailauth_spf_check_duration_seconds",
			Help:    "SPF record check, including lookups and evaluation, duration and verdict.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{
			"verdict",
			"status", // SPF evaluation result, e.g. pass, fail, softfail, permerror.
		},
	)}

	dmarc.MetricCheck = histogramVec{promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailauth_dmarc_check_duration_seconds",
			Help:    "DMARC record check, including lookup, duration and verdict.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{
			"verdict",
			"org", // yes/no, whether the record was found on the organizational domain.
		},
	)}

	publicsuffix.MetricFetch = counterVec{promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailauth_publicsuffix_fetch_total",
			Help: "Fetches of the public suffix list, with result.",
		},
		[]string{
			"result", // ok, cached, fetcherror, parseerror
		},
	)}
}

type counterVec struct {
	*prometheus.CounterVec
}

func (m counterVec) IncLabels(labels ...string) {
	m.CounterVec.WithLabelValues(labels...).Inc()
}

type histogramVec struct {
	*prometheus.HistogramVec
}

func (m histogramVec) ObserveLabels(v float64, labels ...string) {
	m.HistogramVec.WithLabelValues(labels...).Observe(v)
}
