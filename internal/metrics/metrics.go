// Package metrics exposes Prometheus collectors for quiz sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quizzer",
		Name:      "sessions_started_total",
		Help:      "Quiz sessions announced.",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizzer",
		Name:      "sessions_finished_total",
		Help:      "Quiz sessions that left the channel, by outcome.",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quizzer",
		Name:      "active_sessions",
		Help:      "Sessions currently owning a channel.",
	})

	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizzer",
		Name:      "answers_total",
		Help:      "Answer submissions by result.",
	}, []string{"result"})

	ScoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizzer",
		Name:      "score_writes_total",
		Help:      "Leaderboard writes at session end, by status.",
	}, []string{"status"})
)
