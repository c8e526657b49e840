package mq

// Routing keys published on the "events" topic exchange.
const (
	RoutingKeyPhaseChanged     = "workflow.phase.changed"
	RoutingKeyInspectionPassed = "quality.inspection.passed"
	RoutingKeyInspectionFailed = "quality.inspection.failed"
	RoutingKeyNCRCreated       = "ncr.created"
	RoutingKeyNCRResolved      = "ncr.resolved"
	RoutingKeyNCRReworkStarted = "ncr.rework_started"
	RoutingKeyNCRRejected      = "ncr.rejected"
	RoutingKeyNCRClosed        = "ncr.closed"
)

// Aggregate types stored with outbox events.
const (
	AggregateProject     = "project"
	AggregateQualityGate = "quality_gate"
	AggregateDefect      = "defect"
)
