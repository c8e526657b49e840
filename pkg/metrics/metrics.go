package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 阶段流转计数
	PhaseTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_phase_transition_count",
			Help: "Total number of committed phase transitions",
		},
		[]string{"from_phase", "to_phase", "transition_type"},
	)

	// 阶段流转被拒绝计数
	PhaseTransitionRejectedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_phase_transition_rejected_count",
			Help: "Total number of phase transitions rejected by validation",
		},
		[]string{"reason"},
	)

	// 阶段钩子失败计数
	PhaseHookFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_phase_hook_failure_count",
			Help: "Total number of failed phase hooks",
		},
		[]string{"timing", "hook"},
	)

	// 质检结果计数
	InspectionFinalizedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quality_inspection_finalized_count",
			Help: "Total number of finalized quality gate inspections",
		},
		[]string{"gate_type", "result"}, // result: passed, failed
	)

	// 缺陷（NCR）事件计数
	DefectEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quality_defect_event_count",
			Help: "Total number of defect lifecycle events",
		},
		[]string{"event", "severity"}, // event: reported, rework_started, resolved, rejected, closed
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox events publish attempts",
		},
		[]string{"routing_key", "status"}, // status: sent, failed
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	RecordDBQueryDuration("slow", "unknown", duration)
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementPhaseTransition 记录一次成功的阶段流转
func IncrementPhaseTransition(from, to int, transitionType string) {
	PhaseTransitionCount.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to), transitionType).Inc()
}

// IncrementPhaseTransitionRejected 记录一次被拒绝的阶段流转
func IncrementPhaseTransitionRejected(reason string) {
	PhaseTransitionRejectedCount.WithLabelValues(reason).Inc()
}

// IncrementPhaseHookFailure 记录钩子失败
func IncrementPhaseHookFailure(timing, hook string) {
	PhaseHookFailureCount.WithLabelValues(timing, hook).Inc()
}

// IncrementInspectionFinalized 记录质检结论
func IncrementInspectionFinalized(gateType string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	InspectionFinalizedCount.WithLabelValues(gateType, result).Inc()
}

// IncrementDefectEvent 记录缺陷生命周期事件
func IncrementDefectEvent(event, severity string) {
	DefectEventCount.WithLabelValues(event, severity).Inc()
}

// IncrementOutboxPublish 记录 outbox 发布结果
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}
