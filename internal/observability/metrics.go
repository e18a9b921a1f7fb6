package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "harvester"

var (
	metricLoginRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "login_runs_total",
		Help:      "Login runs by outcome (success or the failure kind).",
	}, []string{"outcome"})
	metricLoginDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "login_run_duration_seconds",
		Help:      "Wall time of login runs, including queue wait.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	})
	metricBrowserLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "browser_launches_total",
		Help:      "Browser launch attempts by result.",
	}, []string{"result"})
	metricBrowserLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "browser_live",
		Help:      "1 while a browser session is cached, 0 otherwise.",
	})
	metricQueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_active_tasks",
		Help:      "Browser tasks currently running.",
	})
	metricQueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_waiting_tasks",
		Help:      "Browser tasks waiting for a slot.",
	})
	metricVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cookie_verifications_total",
		Help:      "Cookie verification outcomes.",
	}, []string{"result"})
	metricCookiesHarvested = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cookies_harvested",
		Help:      "Number of normalized cookies returned per successful run.",
		Buckets:   prometheus.LinearBuckets(0, 5, 10),
	})
)

// ObserveLoginRun records a finished login run.
func ObserveLoginRun(outcome string, elapsed time.Duration, cookies int) {
	metricLoginRuns.WithLabelValues(outcome).Inc()
	metricLoginDuration.Observe(elapsed.Seconds())
	if outcome == "success" {
		metricCookiesHarvested.Observe(float64(cookies))
	}
}

// ObserveBrowserLaunch records a launch attempt ("success", "crash", "error").
func ObserveBrowserLaunch(result string) {
	metricBrowserLaunches.WithLabelValues(result).Inc()
}

// SetBrowserLive flips the live-session gauge.
func SetBrowserLive(live bool) {
	if live {
		metricBrowserLive.Set(1)
		return
	}
	metricBrowserLive.Set(0)
}

// SetQueueDepth publishes the queue occupancy.
func SetQueueDepth(active, waiting int) {
	metricQueueActive.Set(float64(active))
	metricQueueWaiting.Set(float64(waiting))
}

// ObserveVerification records a verification outcome.
func ObserveVerification(ok bool) {
	if ok {
		metricVerifications.WithLabelValues("authenticated").Inc()
		return
	}
	metricVerifications.WithLabelValues("unauthenticated").Inc()
}
