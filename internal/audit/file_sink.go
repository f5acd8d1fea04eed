package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/errors"
)

// FileFormat selects a FileSink's per-line encoding.
type FileFormat int

const (
	FormatJSONLines FileFormat = iota
	FormatCEF
)

// FileSink appends one line per event to a file whose path may contain
// strftime-style tokens; the underlying handle is reopened whenever the
// expanded path changes.
type FileSink struct {
	name       string
	pathFormat string
	format     FileFormat
	filterFn   func(EnrichedAuditEvent) bool

	mu          sync.Mutex
	currentPath string
	file        *os.File
}

// NewFileSink constructs a FileSink. pathFormat may contain %Y %m %d %H %M %S
// tokens, expanded against the current time on every write.
func NewFileSink(name, pathFormat string, format FileFormat, filterFn func(EnrichedAuditEvent) bool) *FileSink {
	if filterFn == nil {
		filterFn = func(EnrichedAuditEvent) bool { return true }
	}
	return &FileSink{name: name, pathFormat: pathFormat, format: format, filterFn: filterFn}
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Filter(event EnrichedAuditEvent) bool { return s.filterFn(event) }

func expandPathTokens(pathFormat string, t time.Time) string {
	replacer := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
	)
	return replacer.Replace(pathFormat)
}

func (s *FileSink) Publish(ctx context.Context, event EnrichedAuditEvent) error {
	line, err := s.encode(event)
	if err != nil {
		return errors.Internal("encode audit event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := expandPathTokens(s.pathFormat, time.Now())
	if path != s.currentPath || s.file == nil {
		if err := s.reopen(path); err != nil {
			return err
		}
	}

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return errors.WrapRetryable(errors.ErrCodeInternal, "write audit log line", 500, err)
	}
	return s.file.Sync()
}

func (s *FileSink) reopen(path string) error {
	if s.file != nil {
		_ = s.file.Close()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return errors.Internal("open audit log file", err)
	}
	s.file = f
	s.currentPath = path
	return nil
}

func (s *FileSink) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	_, err := s.file.Stat()
	return err
}

func (s *FileSink) encode(event EnrichedAuditEvent) ([]byte, error) {
	switch s.format {
	case FormatCEF:
		return []byte(encodeCEF(event)), nil
	default:
		return json.Marshal(jsonLine(event))
	}
}

func jsonLine(event EnrichedAuditEvent) map[string]interface{} {
	out := map[string]interface{}{
		"event_type":  event.Base.EventType,
		"severity":    event.Base.Severity.String(),
		"action":      event.Base.Action,
		"occurred_at": event.Base.OccurredAt.Format(time.RFC3339Nano),
	}
	if event.Base.ActorUserID != nil {
		out["actor_user_id"] = event.Base.ActorUserID.String()
	}
	if event.Base.Resource != nil {
		out["resource_type"] = event.Base.Resource.Type
		out["resource_id"] = event.Base.Resource.ID
	}
	if event.Base.Details != nil {
		out["details"] = event.Base.Details
	}
	if event.Base.IPAddress != nil {
		out["ip_address"] = *event.Base.IPAddress
	}
	if event.Base.TraceID != nil {
		out["trace_id"] = *event.Base.TraceID
	}
	if event.Base.UserAgent != nil {
		out["user_agent"] = *event.Base.UserAgent
	}
	if event.Session != nil {
		out["session_id"] = event.Session.SessionID
		out["device_label"] = event.Session.DeviceLabel
	}
	if event.Org != nil {
		out["org_id"] = event.Org.OrgID.String()
		out["org_name"] = event.Org.Name
	}
	return out
}

// cefEscape escapes '\', '|', '=', newline, and carriage return per the CEF
// spec's extension-field rules.
func cefEscape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`|`, `\|`,
		"\n", `\n`,
		"\r", `\r`,
		`=`, `\=`,
	)
	return r.Replace(s)
}

func encodeCEF(event EnrichedAuditEvent) string {
	extensions := []string{
		fmt.Sprintf("rt=%s", cefEscape(event.Base.OccurredAt.Format(time.RFC3339Nano))),
		fmt.Sprintf("eventId=%s", cefEscape(event.Base.EventType)),
	}
	if event.Base.ActorUserID != nil {
		extensions = append(extensions, fmt.Sprintf("suser=%s", cefEscape(event.Base.ActorUserID.String())))
	}
	if event.Base.IPAddress != nil {
		extensions = append(extensions, fmt.Sprintf("src=%s", cefEscape(*event.Base.IPAddress)))
	}
	slot := 0
	addCustom := func(label, value string) {
		slot++
		extensions = append(extensions,
			fmt.Sprintf("cs%dLabel=%s", slot, cefEscape(label)),
			fmt.Sprintf("cs%d=%s", slot, cefEscape(value)),
		)
	}
	addCustom("action", event.Base.Action)
	if event.Base.Resource != nil {
		addCustom("resourceType", event.Base.Resource.Type)
		addCustom("resourceId", event.Base.Resource.ID)
	}
	if event.Base.TraceID != nil {
		addCustom("traceId", *event.Base.TraceID)
	}
	if event.Session != nil {
		addCustom("sessionId", event.Session.SessionID)
	}

	return fmt.Sprintf(
		"CEF:0|Loom|audit|1.0|%s|%s|%d|%s",
		cefEscape(event.Base.EventType),
		cefEscape(event.Base.EventType),
		event.Base.Severity.cefSeverity(),
		strings.Join(extensions, " "),
	)
}
