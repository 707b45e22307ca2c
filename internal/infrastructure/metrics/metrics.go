// Package metrics exposes Prometheus metrics for the progression engine,
// the HTTP layer, the event bus and background jobs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyberguard"

// Metrics holds every collector of one process. Each instance owns its
// registry, so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	// Progression
	Completions          *prometheus.CounterVec
	XPGranted            *prometheus.CounterVec
	LevelUps             prometheus.Counter
	AchievementsUnlocked *prometheus.CounterVec
	StreakTransitions    *prometheus.CounterVec

	// HTTP
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Event bus
	EventsPublished *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	// Scheduler
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Storage
	DBPool *prometheus.GaugeVec
}

// New creates and registers all collectors, plus Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "completions_total",
			Help:      "Recorded completions by activity kind and outcome",
		}, []string{"kind", "outcome"}),
		XPGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "xp_granted_total",
			Help:      "XP granted by activity kind",
		}, []string{"kind"}),
		LevelUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "level_ups_total",
			Help:      "Level promotions",
		}),
		AchievementsUnlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "achievements_unlocked_total",
			Help:      "Unlocked rewards by key",
		}, []string{"reward"}),
		StreakTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "streak_transitions_total",
			Help:      "Streak transitions that changed the counter",
		}, []string{"transition"}),

		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of requests currently being processed",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Published domain events by type",
		}, []string{"type"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Event handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "result"}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Job executions by name and result",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Job duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),

		DBPool: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connection_pool",
			Help:      "Database connection pool statistics",
		}, []string{"stat"}),
	}
}

// Registry returns the registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// ObserveCompletion counts a recorded completion. Completions that earned
// nothing (wrong quiz answers) get outcome "no_xp".
func (m *Metrics) ObserveCompletion(kind string, xp int) {
	outcome := "rewarded"
	if xp <= 0 {
		outcome = "no_xp"
	}
	m.Completions.WithLabelValues(kind, outcome).Inc()
}

// ObserveXP adds granted XP.
func (m *Metrics) ObserveXP(kind string, amount int) {
	if amount > 0 {
		m.XPGranted.WithLabelValues(kind).Add(float64(amount))
	}
}

// ObserveLevelUp counts promotions. A jump over several levels counts each.
func (m *Metrics) ObserveLevelUp(levels int) {
	if levels > 0 {
		m.LevelUps.Add(float64(levels))
	}
}

// ObserveAchievement counts an unlock.
func (m *Metrics) ObserveAchievement(rewardKey string) {
	m.AchievementsUnlocked.WithLabelValues(rewardKey).Inc()
}

// ObserveStreak counts a streak transition.
func (m *Metrics) ObserveStreak(transition string) {
	m.StreakTransitions.WithLabelValues(transition).Inc()
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObservePublish counts a published event.
func (m *Metrics) ObservePublish(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveHandler records one event handler execution.
func (m *Metrics) ObserveHandler(eventType string, d time.Duration, ok bool) {
	m.HandlerDuration.WithLabelValues(eventType, result(ok)).Observe(d.Seconds())
}

// ObserveJob records one job run.
func (m *Metrics) ObserveJob(job string, d time.Duration, ok bool) {
	m.JobRuns.WithLabelValues(job, result(ok)).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordDBPoolStats records database connection pool statistics.
func (m *Metrics) RecordDBPoolStats(total, acquired, idle int32, emptyAcquire int64) {
	m.DBPool.WithLabelValues("total").Set(float64(total))
	m.DBPool.WithLabelValues("acquired").Set(float64(acquired))
	m.DBPool.WithLabelValues("idle").Set(float64(idle))
	m.DBPool.WithLabelValues("empty_acquire").Set(float64(emptyAcquire))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
