// Copyright (c) 2026 John Earle
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

// Package metrics declares the service's Prometheus instruments and serves
// them over the standard /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_messages_received_total",
			Help: "Total number of messages accepted by the webhook.",
		},
	)
	MessagesDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_messages_deduplicated_total",
			Help: "Total number of duplicate messages dropped.",
		},
	)
	GroupsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_groups_finalized_total",
			Help: "Total number of message groups finalized, labeled by reason.",
		},
		[]string{"reason"},
	)
	OpenGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_open_groups",
			Help: "Number of conversation groups currently buffering.",
		},
	)
	FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_fetch_attempts_total",
			Help: "Total number of document fetch attempts, labeled by link type and result.",
		},
		[]string{"link_type", "result"},
	)
	GroupProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intake_group_processing_duration_seconds",
			Help:    "Duration of full group processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	GroupsNeedingReview = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_groups_needing_review_total",
			Help: "Total number of groups flagged for manual review.",
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesDeduplicated)
	prometheus.MustRegister(GroupsFinalized)
	prometheus.MustRegister(OpenGroups)
	prometheus.MustRegister(FetchAttempts)
	prometheus.MustRegister(GroupProcessingDuration)
	prometheus.MustRegister(GroupsNeedingReview)
}

// Handler returns the Prometheus scrape handler for mounting on the main
// HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
