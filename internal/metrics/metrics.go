package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnqueuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_enqueues_total",
		Help: "Matchmaking start requests that entered the queue, by stake tier.",
	}, []string{"stake"})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_matches_total",
		Help: "Matches created, by stake tier.",
	}, []string{"stake"})

	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_cancels_total",
		Help: "Cancel requests by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchmaking_queue_depth",
		Help: "Users currently waiting in the queue, by stake tier.",
	}, []string{"stake"})

	ExpiredEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_expired_entries_total",
		Help: "Queue entries expired and refunded by the sweeper.",
	})
)

// StakeLabel formats a stake tier for use as a metric label
func StakeLabel(stake int64) string {
	return strconv.FormatInt(stake, 10)
}
