// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
)

// IterStats contains statistics about the work performed by a merging
// iterator.
type IterStats struct {
	// ChildSeeks counts seeks issued to runs, including First and Last.
	ChildSeeks int64
	// RangeDelReseeks counts run seeks whose target was moved forward (or
	// backward) by a covering range tombstone of a newer run.
	RangeDelReseeks int64
	// AsyncSeeks counts seeks that were re-issued because a run reported
	// ErrTryAgain.
	AsyncSeeks int64
	// HeapComparisons counts comparisons made by the merging heap.
	HeapComparisons int64
	// ForwardSeekDuration is the time spent in SeekGE and First, including
	// visibility resolution.
	ForwardSeekDuration time.Duration
	// ReverseSeekDuration is the time spent in SeekLE and Last, including
	// visibility resolution.
	ReverseSeekDuration time.Duration
}

// Merge adds the statistics in from to s.
func (s *IterStats) Merge(from IterStats) {
	s.ChildSeeks += from.ChildSeeks
	s.RangeDelReseeks += from.RangeDelReseeks
	s.AsyncSeeks += from.AsyncSeeks
	s.HeapComparisons += from.HeapComparisons
	s.ForwardSeekDuration += from.ForwardSeekDuration
	s.ReverseSeekDuration += from.ReverseSeekDuration
}

// String implements fmt.Stringer.
func (s IterStats) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s IterStats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("seeks: %d child, %d range-del reseek, %d async; heap comparisons: %d; seek time: fwd %s, rev %s",
		redact.Safe(s.ChildSeeks), redact.Safe(s.RangeDelReseeks), redact.Safe(s.AsyncSeeks),
		redact.Safe(s.HeapComparisons),
		redact.Safe(s.ForwardSeekDuration), redact.Safe(s.ReverseSeekDuration))
}

// Metrics aggregates the statistics of closed merging iterators into
// Prometheus collectors.
type Metrics struct {
	Iterators       prometheus.Counter
	ChildSeeks      prometheus.Counter
	RangeDelReseeks prometheus.Counter
	AsyncSeeks      prometheus.Counter
	HeapComparisons prometheus.Counter
	// SeekDuration observes, per closed iterator, the total time spent seeking
	// in each direction.
	SeekDuration *prometheus.HistogramVec
}

// NewMetrics constructs the merging iterator metrics and registers them with
// reg, if it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mergeiter",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		Iterators:       counter("iterators_total", "Number of closed merging iterators."),
		ChildSeeks:      counter("child_seeks_total", "Seeks issued to sorted runs."),
		RangeDelReseeks: counter("range_del_reseeks_total", "Run seeks redirected by a covering range tombstone."),
		AsyncSeeks:      counter("async_seeks_total", "Seeks re-issued after a run reported try-again."),
		HeapComparisons: counter("heap_comparisons_total", "Comparisons made by merging heaps."),
		SeekDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mergeiter",
			Name:      "seek_duration_seconds",
			Help:      "Time spent seeking per iterator, by direction.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.Iterators, m.ChildSeeks, m.RangeDelReseeks,
			m.AsyncSeeks, m.HeapComparisons, m.SeekDuration)
	}
	return m
}

func (m *Metrics) record(s *IterStats) {
	m.Iterators.Inc()
	m.ChildSeeks.Add(float64(s.ChildSeeks))
	m.RangeDelReseeks.Add(float64(s.RangeDelReseeks))
	m.AsyncSeeks.Add(float64(s.AsyncSeeks))
	m.HeapComparisons.Add(float64(s.HeapComparisons))
	if s.ForwardSeekDuration > 0 {
		m.SeekDuration.WithLabelValues("forward").Observe(s.ForwardSeekDuration.Seconds())
	}
	if s.ReverseSeekDuration > 0 {
		m.SeekDuration.WithLabelValues("reverse").Observe(s.ReverseSeekDuration.Seconds())
	}
}
