package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonExternalUnavailable  = "external_unavailable"
	JobReasonExternalRejected     = "external_rejected"
	JobReasonNotFound             = "not_found"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonPanic                = "panic"
	JobReasonUnknown              = "unknown"
)

const (
	ItemOutcomeProcessed = "processed"
	ItemOutcomeSkipped   = "skipped"
	ItemOutcomeFailed    = "failed"
)

const (
	CycleOutcomeRan     = "ran"
	CycleOutcomeLocked  = "locked"
	CycleOutcomeLockErr = "lock_error"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

// SyncMetrics captures reconciliation loop and external API health signals.
type SyncMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	items             *prometheus.CounterVec
	cycles            *prometheus.CounterVec
	runLoopLag        prometheus.Observer
	externalRequests  *prometheus.CounterVec
	externalDuration  *prometheus.HistogramVec
	failedSubmissions prometheus.Counter
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

// NewForTest registers a fresh metrics set on registerer.
func NewForTest(registerer prometheus.Registerer) *SyncMetrics {
	return newSyncMetrics(registerer, Config{ServiceName: "allocsync", Environment: "test"})
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "allocsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_job_runs_total",
		Help:        "Sync job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "allocsync_job_duration_seconds",
		Help:        "Sync job latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_job_timeouts_total",
		Help:        "Sync jobs that hit their timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_job_errors_total",
		Help:        "Sync job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_items_total",
		Help:        "Items handled by sync jobs, by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_cycles_total",
		Help:        "Scheduler cycles by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "allocsync_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	externalRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "allocsync_external_requests_total",
		Help:        "Allocation service calls by operation and status class.",
		ConstLabels: constLabels,
	}, []string{"operation", "status"})
	externalDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "allocsync_external_request_duration_seconds",
		Help:        "Allocation service call latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"operation"})
	failedSubmissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "allocsync_failed_submissions_total",
		Help:        "Usage reports persisted for manual remediation.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		items,
		cycles,
		runLoopLag,
		externalRequests,
		externalDuration,
		failedSubmissions,
	)

	return &SyncMetrics{
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
		jobTimeouts:       jobTimeouts,
		jobErrors:         jobErrors,
		items:             items,
		cycles:            cycles,
		runLoopLag:        runLoopLag,
		externalRequests:  externalRequests,
		externalDuration:  externalDuration,
		failedSubmissions: failedSubmissions,
	}
}

// IncJobRun increments the run counter for a job.
func (m *SyncMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records job latency in seconds.
func (m *SyncMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SyncMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *SyncMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// IncJobPanic counts a recovered panic.
func (m *SyncMetrics) IncJobPanic(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, JobReasonPanic).Inc()
}

// AddItems adds count items with the given outcome for a job.
func (m *SyncMetrics) AddItems(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(count))
}

func (m *SyncMetrics) IncCycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SyncMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ObserveExternalCall records one allocation service call. A zero status
// means the request never produced a response.
func (m *SyncMetrics) ObserveExternalCall(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.externalRequests.WithLabelValues(operation, statusClass(status)).Inc()
	m.externalDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *SyncMetrics) IncFailedSubmission() {
	if m == nil {
		return
	}
	m.failedSubmissions.Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		switch {
		case status == 404:
			return JobReasonNotFound
		case status == 429 || status >= 500:
			return JobReasonExternalUnavailable
		default:
			return JobReasonExternalRejected
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JobReasonNotFound
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if isDBError(err) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
