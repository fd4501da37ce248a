// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package metrics counts ingestion outcomes on a private Prometheus registry.
//
// A run is a batch job, so there is no scrape endpoint: WriteTextfile exports
// the registry for the node exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "civicrag"

// Metrics holds the ingestion collectors. A nil *Metrics discards observations.
type Metrics struct {
	registry    *prometheus.Registry
	sources     *prometheus.CounterVec
	chunkTags   *prometheus.CounterVec
	chunkEmbeds *prometheus.CounterVec
	retries     *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_total",
			Help:      "Sources handled, by outcome.",
		}, []string{"outcome"}),
		chunkTags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_tagged_total",
			Help:      "Chunks persisted, by tagging status.",
		}, []string{"status"}),
		chunkEmbeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_embedded_total",
			Help:      "Chunks persisted, by embedding status.",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried calls to external services, by operation.",
		}, []string{"operation"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion and backfill runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.registry.MustRegister(m.sources, m.chunkTags, m.chunkEmbeds, m.retries, m.runDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSource counts a source reaching a terminal outcome.
func (m *Metrics) ObserveSource(outcome core.IngestOutcome) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(string(outcome)).Inc()
}

// ObserveChunk counts a persisted chunk.
func (m *Metrics) ObserveChunk(tag core.TagStatus, embed core.EmbedStatus) {
	if m == nil {
		return
	}
	m.chunkTags.WithLabelValues(string(tag)).Inc()
	m.chunkEmbeds.WithLabelValues(string(embed)).Inc()
}

// ObserveRetry counts one retry of operation.
func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// ObserveRun records the duration of a run.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes every collector to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
