package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "social_agent_cycle_duration_sec",
	Help:    "Duration of a full run cycle",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})

var cycleCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_agent_cycles",
	Help: "Number of run cycles by result",
}, []string{"result"})

var itemsSeenCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "social_agent_items_seen",
	Help: "Number of content items fetched from the source",
})

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_agent_decisions",
	Help: "Number of kernel decisions by kind",
}, []string{"kind", "degraded"})

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_agent_actions",
	Help: "Number of dispatch outcomes by kind",
}, []string{"kind", "outcome"})

var rankingFallbackCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "social_agent_ranking_fallbacks",
	Help: "Number of cycles that processed an unranked batch",
})

var threadFetchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_agent_thread_fetches",
	Help: "Number of conversation fetches by result",
}, []string{"result"})

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
