package symbolicate

import (
	"context"
	"testing"

	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/internal/analytics/store"
	"github.com/loom-platform/loom/internal/analytics/store/memory"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

// vlqSingleMapping is "AAAA", the base64-VLQ encoding of the segment
// [0,0,0,0]: generated column 0 maps to source 0, original line 0, column 0.
const vlqSingleMapping = "AAAA"

func newTestSymbolicator(t *testing.T) (*Symbolicator, *memory.Store) {
	t.Helper()
	st := memory.New()
	s, err := New(Config{Artifacts: st})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, st
}

func TestSymbolicate_JS_RewritesFrameFromSourceMap(t *testing.T) {
	s, st := newTestSymbolicator(t)
	ctx := context.Background()
	projectID := ids.NewProjectID()

	mapJSON := []byte(`{
		"version": 3,
		"file": "bundle.js",
		"sources": ["src/app.ts"],
		"sourcesContent": ["line one\nline two\nline three"],
		"names": [],
		"mappings": "` + vlqSingleMapping + `"
	}`)
	if err := st.PutArtifact(ctx, store.Artifact{
		ID:           ids.NewArtifactID(),
		ProjectID:    projectID,
		Release:      "1.0.0",
		ArtifactType: store.ArtifactSourceMap,
		Filename:     "bundle.js.map",
		Data:         mapJSON,
	}); err != nil {
		t.Fatalf("PutArtifact() error: %v", err)
	}

	trace := Stacktrace{Frames: []Frame{
		{Filename: strPtr("bundle.js"), Lineno: intPtr(1), Colno: intPtr(0)},
	}}

	rewritten := s.Symbolicate(ctx, projectID, PlatformJavaScript, "1.0.0", nil, trace)

	frame := rewritten.Frames[0]
	if frame.Filename == nil || *frame.Filename != "src/app.ts" {
		t.Fatalf("expected filename src/app.ts, got %v", frame.Filename)
	}
	if frame.Lineno == nil || *frame.Lineno != 1 {
		t.Fatalf("expected lineno 1, got %v", frame.Lineno)
	}
	if frame.ContextLine == nil || *frame.ContextLine != "line one" {
		t.Fatalf("expected context line %q, got %v", "line one", frame.ContextLine)
	}
	if len(frame.PostContext) != 2 {
		t.Fatalf("expected 2 lines of post-context, got %v", frame.PostContext)
	}
}

func TestSymbolicate_JS_TriesFilenameWithoutMapSuffix(t *testing.T) {
	s, st := newTestSymbolicator(t)
	ctx := context.Background()
	projectID := ids.NewProjectID()

	mapJSON := []byte(`{"version":3,"sources":["src/app.ts"],"sourcesContent":["only line"],"names":[],"mappings":"` + vlqSingleMapping + `"}`)
	if err := st.PutArtifact(ctx, store.Artifact{
		ID: ids.NewArtifactID(), ProjectID: projectID, Release: "1.0.0",
		Filename: "bundle.js", Data: mapJSON,
	}); err != nil {
		t.Fatalf("PutArtifact() error: %v", err)
	}

	trace := Stacktrace{Frames: []Frame{{Filename: strPtr("bundle.js"), Lineno: intPtr(1), Colno: intPtr(0)}}}
	rewritten := s.Symbolicate(ctx, projectID, PlatformJavaScript, "1.0.0", nil, trace)

	if rewritten.Frames[0].Filename == nil || *rewritten.Frames[0].Filename != "src/app.ts" {
		t.Fatalf("expected fallback lookup to succeed, got %v", rewritten.Frames[0].Filename)
	}
}

func TestSymbolicate_JS_NoReleaseReturnsUnchanged(t *testing.T) {
	s, _ := newTestSymbolicator(t)
	trace := Stacktrace{Frames: []Frame{{Filename: strPtr("bundle.js"), Lineno: intPtr(1), Colno: intPtr(0)}}}

	rewritten := s.Symbolicate(context.Background(), ids.NewProjectID(), PlatformJavaScript, "", nil, trace)
	if rewritten.Frames[0].Filename == nil || *rewritten.Frames[0].Filename != "bundle.js" {
		t.Fatalf("expected frame unchanged without release, got %v", rewritten.Frames[0].Filename)
	}
}

func TestSymbolicate_JS_MissingArtifactLeavesFrameUnchanged(t *testing.T) {
	s, _ := newTestSymbolicator(t)
	trace := Stacktrace{Frames: []Frame{{Filename: strPtr("missing.js"), Lineno: intPtr(1), Colno: intPtr(0)}}}

	rewritten := s.Symbolicate(context.Background(), ids.NewProjectID(), PlatformJavaScript, "1.0.0", nil, trace)
	if rewritten.Frames[0].Filename == nil || *rewritten.Frames[0].Filename != "missing.js" {
		t.Fatalf("expected frame unchanged when no artifact is found, got %v", rewritten.Frames[0].Filename)
	}
}

func TestSymbolicate_JS_MalformedMapLeavesFrameUnchanged(t *testing.T) {
	s, st := newTestSymbolicator(t)
	ctx := context.Background()
	projectID := ids.NewProjectID()

	if err := st.PutArtifact(ctx, store.Artifact{
		ID: ids.NewArtifactID(), ProjectID: projectID, Release: "1.0.0",
		Filename: "bundle.js.map", Data: []byte("not json"),
	}); err != nil {
		t.Fatalf("PutArtifact() error: %v", err)
	}

	trace := Stacktrace{Frames: []Frame{{Filename: strPtr("bundle.js"), Lineno: intPtr(1), Colno: intPtr(0)}}}
	rewritten := s.Symbolicate(ctx, projectID, PlatformJavaScript, "1.0.0", nil, trace)

	if rewritten.Frames[0].Filename == nil || *rewritten.Frames[0].Filename != "bundle.js" {
		t.Fatalf("expected frame unchanged for a malformed map, got %v", rewritten.Frames[0].Filename)
	}
}

func TestSymbolicate_JS_CachesParsedMapAcrossCalls(t *testing.T) {
	s, st := newTestSymbolicator(t)
	ctx := context.Background()
	projectID := ids.NewProjectID()

	mapJSON := []byte(`{"version":3,"sources":["src/app.ts"],"sourcesContent":["x"],"names":[],"mappings":"` + vlqSingleMapping + `"}`)
	if err := st.PutArtifact(ctx, store.Artifact{
		ID: ids.NewArtifactID(), ProjectID: projectID, Release: "1.0.0",
		Filename: "bundle.js.map", Data: mapJSON,
	}); err != nil {
		t.Fatalf("PutArtifact() error: %v", err)
	}

	trace := Stacktrace{Frames: []Frame{{Filename: strPtr("bundle.js"), Lineno: intPtr(1), Colno: intPtr(0)}}}
	s.Symbolicate(ctx, projectID, PlatformJavaScript, "1.0.0", nil, trace)

	// Remove the artifact entirely; a second call must still resolve from
	// the Symbolicator's own cache without touching the store again.
	st.Reset()

	rewritten := s.Symbolicate(ctx, projectID, PlatformJavaScript, "1.0.0", nil, trace)
	if rewritten.Frames[0].Filename == nil || *rewritten.Frames[0].Filename != "src/app.ts" {
		t.Fatalf("expected cached map to still resolve, got %v", rewritten.Frames[0].Filename)
	}
}

func TestSymbolicate_UnknownPlatformReturnsUnchanged(t *testing.T) {
	s, _ := newTestSymbolicator(t)
	trace := Stacktrace{Frames: []Frame{{Function: strPtr("foo")}}}
	rewritten := s.Symbolicate(context.Background(), ids.NewProjectID(), Platform("cobol"), "1.0.0", nil, trace)
	if *rewritten.Frames[0].Function != "foo" {
		t.Fatalf("expected frame unchanged for unknown platform")
	}
}

