package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_tasks",
			Help: "Number of tasks by project and status",
		},
		[]string{"project", "status"},
	)

	TasksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_created_total",
			Help: "Total number of tasks created by project",
		},
		[]string{"project"},
	)

	TasksAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_assigned_total",
			Help: "Total number of task assignments by project",
		},
		[]string{"project"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_completed_total",
			Help: "Total number of tasks completed by project",
		},
		[]string{"project"},
	)

	TasksFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_failed_total",
			Help: "Total number of terminal task failures by project",
		},
		[]string{"project"},
	)

	// Lease metrics
	LeasesReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_leases_reclaimed_total",
			Help: "Total number of expired leases reclaimed by project",
		},
		[]string{"project"},
	)

	LeasesExtended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_leases_extended_total",
			Help: "Total number of lease extensions by project",
		},
		[]string{"project"},
	)

	// Command metrics
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_command_duration_seconds",
			Help:    "Command dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_commands_total",
			Help: "Total number of commands dispatched by name and outcome",
		},
		[]string{"command", "outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reaper metrics
	ReaperSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reaper_sweeps_total",
			Help: "Total number of reaper sweeps by project",
		},
		[]string{"project"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksByStatus)
	prometheus.MustRegister(TasksCreated)
	prometheus.MustRegister(TasksAssigned)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(LeasesReclaimed)
	prometheus.MustRegister(LeasesExtended)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReaperSweeps)
}

// SetTaskGauges records the current per-status task counts for a project
func SetTaskGauges(project string, queued, running, completed, failed int) {
	TasksByStatus.WithLabelValues(project, "queued").Set(float64(queued))
	TasksByStatus.WithLabelValues(project, "running").Set(float64(running))
	TasksByStatus.WithLabelValues(project, "completed").Set(float64(completed))
	TasksByStatus.WithLabelValues(project, "failed").Set(float64(failed))
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
