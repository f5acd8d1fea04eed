package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpandPathTokens(t *testing.T) {
	ts := time.Date(2026, 3, 5, 14, 30, 45, 0, time.UTC)
	got := expandPathTokens("/var/log/audit-%Y-%m-%d-%H%M%S.log", ts)
	want := "/var/log/audit-2026-03-05-143045.log"
	if got != want {
		t.Fatalf("expandPathTokens() = %q, want %q", got, want)
	}
}

func TestFileSink_JSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink := NewFileSink("file", path, FormatJSONLines, nil)

	event := EnrichedAuditEvent{Base: AuditLogEntry{
		EventType:  "user.login",
		Severity:   SeverityInfo,
		Action:     "login",
		OccurredAt: time.Now().UTC(),
	}}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(contents, &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded["event_type"] != "user.login" {
		t.Errorf("event_type = %v, want user.login", decoded["event_type"])
	}
}

func TestFileSink_CEF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.cef")
	sink := NewFileSink("file", path, FormatCEF, nil)

	event := EnrichedAuditEvent{Base: AuditLogEntry{
		EventType:  "user.login",
		Severity:   SeverityCritical,
		Action:     "login",
		OccurredAt: time.Now().UTC(),
	}}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	line := strings.TrimSpace(string(contents))
	if !strings.HasPrefix(line, "CEF:0|Loom|audit|1.0|") {
		t.Fatalf("unexpected CEF header: %q", line)
	}
	if !strings.Contains(line, "|10|") {
		t.Errorf("expected CEF severity 10 for Critical, got %q", line)
	}
}

func TestFileSink_ReopensOnPathChange(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink("file", filepath.Join(dir, "%S.log"), FormatJSONLines, nil)

	event := EnrichedAuditEvent{Base: AuditLogEntry{EventType: "x", OccurredAt: time.Now()}}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}
	firstPath := sink.currentPath

	time.Sleep(time.Second)
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("second Publish() error: %v", err)
	}
	if sink.currentPath == firstPath {
		t.Skip("clock did not advance a whole second between writes")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 rotated files, got %d", len(entries))
	}
}

func TestFileSink_CEFEscaping(t *testing.T) {
	escaped := cefEscape("a=b|c\\d\ne\rf")
	for _, special := range []string{`\=`, `\|`, `\\`, `\n`, `\r`} {
		if !strings.Contains(escaped, special) {
			t.Errorf("expected escaped output to contain %q, got %q", special, escaped)
		}
	}
}
