// Package audit implements the audit log pipeline: enrich, filter, redact,
// fan out to configured sinks.
package audit

import (
	"context"
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
)

// Severity orders audit events from least to most serious.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// cefSeverity maps Severity onto the CEF 0-10 scale per the file sink's
// format.
func (s Severity) cefSeverity() int {
	switch s {
	case SeverityDebug:
		return 1
	case SeverityInfo:
		return 3
	case SeverityNotice:
		return 4
	case SeverityWarning:
		return 6
	case SeverityError:
		return 8
	case SeverityCritical:
		return 10
	default:
		return 0
	}
}

// Resource names the entity an audit event acted on.
type Resource struct {
	Type string
	ID   string
}

// AuditLogEntry is the input to the pipeline, assembled with NewEntry and
// its With* builder methods.
type AuditLogEntry struct {
	EventType   string
	Severity    Severity
	ActorUserID *ids.UserID
	Resource    *Resource
	Action      string
	Details     map[string]interface{}
	IPAddress   *string
	TraceID     *string
	UserAgent   *string
	OccurredAt  time.Time
}

// NewEntry starts a builder for an audit log entry of the given event type
// and severity.
func NewEntry(eventType string, severity Severity) AuditLogEntry {
	return AuditLogEntry{
		EventType:  eventType,
		Severity:   severity,
		Action:     eventType,
		OccurredAt: time.Now().UTC(),
	}
}

func (e AuditLogEntry) WithActor(userID ids.UserID) AuditLogEntry {
	e.ActorUserID = &userID
	return e
}

func (e AuditLogEntry) WithResource(resourceType, resourceID string) AuditLogEntry {
	e.Resource = &Resource{Type: resourceType, ID: resourceID}
	return e
}

func (e AuditLogEntry) WithAction(action string) AuditLogEntry {
	e.Action = action
	return e
}

func (e AuditLogEntry) WithDetails(details map[string]interface{}) AuditLogEntry {
	e.Details = details
	return e
}

func (e AuditLogEntry) WithIPAddress(ip string) AuditLogEntry {
	e.IPAddress = &ip
	return e
}

func (e AuditLogEntry) WithTraceID(traceID string) AuditLogEntry {
	e.TraceID = &traceID
	return e
}

func (e AuditLogEntry) WithUserAgent(userAgent string) AuditLogEntry {
	e.UserAgent = &userAgent
	return e
}

// SessionAttributes is the session context an Enricher may attach.
type SessionAttributes struct {
	SessionID   string
	DeviceLabel string
}

// OrgAttributes is the org context an Enricher may attach.
type OrgAttributes struct {
	OrgID ids.OrgID
	Name  string
}

// EnrichedAuditEvent wraps an AuditLogEntry with the attributes an Enricher
// attached, flowing through filter, redact, and fan-out unchanged in shape.
type EnrichedAuditEvent struct {
	Base    AuditLogEntry
	Session *SessionAttributes
	Org     *OrgAttributes
}

// Enricher attaches session and org attributes to an audit entry before it
// is filtered and redacted.
type Enricher interface {
	Enrich(ctx context.Context, entry AuditLogEntry) EnrichedAuditEvent
}

// NoopEnricher passes the entry through with no session or org attached. It
// is the pipeline's default Enricher.
type NoopEnricher struct{}

func (NoopEnricher) Enrich(ctx context.Context, entry AuditLogEntry) EnrichedAuditEvent {
	return EnrichedAuditEvent{Base: entry}
}

// Sink receives enriched, filtered, redacted audit events.
type Sink interface {
	Name() string
	// Filter reports whether this sink wants the event, evaluated after the
	// pipeline's global filter has already passed it.
	Filter(event EnrichedAuditEvent) bool
	Publish(ctx context.Context, event EnrichedAuditEvent) error
	HealthCheck(ctx context.Context) error
}
