package release

import (
	"context"
	"testing"

	"github.com/loom-platform/loom/infrastructure/ids"
)

type fakeTransport struct {
	startCalls      int
	endCalls        int
	lastEnd         EndEvent
	authoritativeID string
}

func (f *fakeTransport) Start(ctx context.Context, ev StartEvent) (string, error) {
	f.startCalls++
	return f.authoritativeID, nil
}

func (f *fakeTransport) End(ctx context.Context, ev EndEvent) error {
	f.endCalls++
	f.lastEnd = ev
	return nil
}

func TestSession_SampledReportsStartAndEnd(t *testing.T) {
	transport := &fakeTransport{authoritativeID: "srv-assigned-id"}
	s, err := Start(context.Background(), transport, Config{ProjectID: ids.NewProjectID(), SampleRate: 1})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if transport.startCalls != 1 {
		t.Fatalf("expected a start event for a sampled session")
	}
	if s.ID() != "srv-assigned-id" {
		t.Fatalf("expected session to adopt the backend's authoritative id, got %s", s.ID())
	}

	if err := s.End(context.Background()); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if transport.endCalls != 1 {
		t.Fatalf("expected one end event")
	}
	if transport.lastEnd.Status != StatusExited {
		t.Fatalf("expected exited status, got %v", transport.lastEnd.Status)
	}
}

func TestSession_UnsampledNonCrashedSkipsEnd(t *testing.T) {
	transport := &fakeTransport{}
	s, err := Start(context.Background(), transport, Config{ProjectID: ids.NewProjectID(), SampleRate: 0})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if transport.startCalls != 0 {
		t.Fatalf("expected no start event for an unsampled session")
	}

	s.RecordError()
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if transport.endCalls != 0 {
		t.Fatalf("expected no end event for an unsampled, non-crashed session")
	}
}

func TestSession_UnsampledCrashStillReportsEnd(t *testing.T) {
	transport := &fakeTransport{}
	s, err := Start(context.Background(), transport, Config{ProjectID: ids.NewProjectID(), SampleRate: 0})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s.RecordCrash()
	if err := s.End(context.Background()); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if transport.endCalls != 1 {
		t.Fatalf("expected a crashed session to report end even though unsampled")
	}
	if transport.lastEnd.Status != StatusCrashed {
		t.Fatalf("expected crashed status, got %v", transport.lastEnd.Status)
	}
}

func TestSession_ErrorThenCrashYieldsCrashedStatus(t *testing.T) {
	transport := &fakeTransport{}
	s, err := Start(context.Background(), transport, Config{ProjectID: ids.NewProjectID(), SampleRate: 1})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s.RecordError()
	s.RecordError()
	s.RecordCrash()

	if err := s.End(context.Background()); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if transport.lastEnd.Status != StatusCrashed {
		t.Fatalf("expected crashed status to take priority over errored, got %v", transport.lastEnd.Status)
	}
	if transport.lastEnd.ErrorCount != 2 {
		t.Fatalf("expected error count 2, got %d", transport.lastEnd.ErrorCount)
	}
	if transport.lastEnd.CrashCount != 1 {
		t.Fatalf("expected crash count 1, got %d", transport.lastEnd.CrashCount)
	}
}

func TestSession_EndIsOneShot(t *testing.T) {
	transport := &fakeTransport{}
	s, err := Start(context.Background(), transport, Config{ProjectID: ids.NewProjectID(), SampleRate: 1})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	_ = s.End(context.Background())
	_ = s.End(context.Background())

	if transport.endCalls != 1 {
		t.Fatalf("expected End to be a no-op after the first call, got %d calls", transport.endCalls)
	}
}
