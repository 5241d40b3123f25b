// Package stub provides interfaces and no-op implementations for metrics.
//
// The dns, dkim, spf and dmarc packages count/time their work through these
// interfaces so importers of the library do not have to take on a prometheus
// dependency. The metrics package provides prometheus-backed implementations
// for hosts that want them.
package stub

type Counter interface {
	Inc()
}

type CounterIgnore struct{}

func (CounterIgnore) Inc() {}

type CounterVec interface {
	IncLabels(labels ...string)
}

type CounterVecIgnore struct{}

func (CounterVecIgnore) IncLabels(labels ...string) {}

type Histogram interface {
	Observe(float64)
}

type HistogramIgnore struct{}

func (HistogramIgnore) Observe(float64) {}

type HistogramVec interface {
	ObserveLabels(v float64, labels ...string)
}

type HistogramVecIgnore struct{}

func (HistogramVecIgnore) ObserveLabels(v float64, labels ...string) {}
