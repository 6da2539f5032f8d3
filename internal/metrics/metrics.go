package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PostsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_posts_created_total",
		Help: "Total posts created, by content category",
	}, []string{"category"})
	RepliesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_replies_sent_total",
		Help: "Total replies posted",
	})
	FollowsPerformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_follows_total",
		Help: "Total accounts followed",
	})
	QuotaDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_quota_denials_total",
		Help: "Actions skipped because a local quota was exhausted",
	}, []string{"capability"})
	RateLimitSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_rate_limit_skips_total",
		Help: "Post attempts skipped on an upstream rate-limit signal",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	TickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "magpie_tick_duration_seconds",
		Help:    "Scheduled tick duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	TickErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_tick_errors_total",
		Help: "Errors swallowed at the tick boundary",
	}, []string{"job"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		PostsCreated, RepliesSent, FollowsPerformed, QuotaDenials,
		RateLimitSkips, APIRetries, TickDuration, TickErrors,
		CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveTick records a job tick duration.
func ObserveTick(job string, start time.Time) {
	TickDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
