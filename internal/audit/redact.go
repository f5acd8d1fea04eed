package audit

import "github.com/loom-platform/loom/infrastructure/redaction"

// redact walks every string field of an enriched event, including every
// string leaf inside Details, and replaces secret-shaped matches. Nothing is
// exempt: action, resource id, user agent, and session fields are all
// subject to it.
func redact(r *redaction.Redactor, event EnrichedAuditEvent) EnrichedAuditEvent {
	event.Base.EventType = r.RedactString(event.Base.EventType)
	event.Base.Action = r.RedactString(event.Base.Action)
	if event.Base.Resource != nil {
		resource := *event.Base.Resource
		resource.Type = r.RedactString(resource.Type)
		resource.ID = r.RedactString(resource.ID)
		event.Base.Resource = &resource
	}
	if event.Base.TraceID != nil {
		redacted := r.RedactString(*event.Base.TraceID)
		event.Base.TraceID = &redacted
	}
	if event.Base.UserAgent != nil {
		redacted := r.RedactString(*event.Base.UserAgent)
		event.Base.UserAgent = &redacted
	}
	if event.Base.IPAddress != nil {
		redacted := r.RedactString(*event.Base.IPAddress)
		event.Base.IPAddress = &redacted
	}
	if event.Base.Details != nil {
		event.Base.Details = r.RedactMap(event.Base.Details)
	}
	if event.Session != nil {
		session := *event.Session
		session.SessionID = r.RedactString(session.SessionID)
		session.DeviceLabel = r.RedactString(session.DeviceLabel)
		event.Session = &session
	}
	if event.Org != nil {
		org := *event.Org
		org.Name = r.RedactString(org.Name)
		event.Org = &org
	}
	return event
}
