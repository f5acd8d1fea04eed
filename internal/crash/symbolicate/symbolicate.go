package symbolicate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/sourcemap"
	"github.com/loom-platform/loom/internal/analytics/store"
)

// contextLines is the number of source lines attached before and after the
// resolved line, per spec.md §4.I.
const contextLines = 5

// Config holds the dependencies for a Symbolicator.
type Config struct {
	Artifacts store.ArtifactStore
	Logger    *logging.Logger
}

// Symbolicator rewrites crash frames against release artifacts. A single
// Symbolicator caches parsed source maps across calls and is safe for
// concurrent use.
type Symbolicator struct {
	artifacts store.ArtifactStore
	logger    *logging.Logger

	mu    sync.Mutex
	cache map[string]cachedMap // key: release+":"+filename
}

type cachedMap struct {
	sm         *sourcemap.SourceMap
	artifactID ids.ArtifactID
}

// New constructs a Symbolicator from cfg.
func New(cfg Config) (*Symbolicator, error) {
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("symbolicate: artifact store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("symbolicate", "info", "json")
	}
	return &Symbolicator{
		artifacts: cfg.Artifacts,
		logger:    logger,
		cache:     make(map[string]cachedMap),
	}, nil
}

// Symbolicate rewrites every frame of trace in place according to platform,
// returning the rewritten stacktrace. release and dist are ignored by the
// Rust path.
func (s *Symbolicator) Symbolicate(ctx context.Context, projectID ids.ProjectID, platform Platform, release string, dist *string, trace Stacktrace) Stacktrace {
	switch platform {
	case PlatformJavaScript, PlatformNode:
		return s.symbolicateJS(ctx, projectID, release, dist, trace)
	case PlatformRust:
		return s.symbolicateRust(trace)
	default:
		return trace
	}
}

func (s *Symbolicator) cacheKey(release, filename string) string {
	return release + ":" + filename
}

// resolveMap looks up and parses the source map for filename under
// (projectID, release, dist), trying filename+".map" first and then
// filename, caching the parsed result under release:filename. Returns
// ok=false if no map could be resolved; callers treat that as leaving the
// frame unchanged.
func (s *Symbolicator) resolveMap(ctx context.Context, projectID ids.ProjectID, release, dist, filename string) (cachedMap, bool) {
	key := s.cacheKey(release, filename)

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, true
	}
	s.mu.Unlock()

	for _, candidate := range []string{filename + ".map", filename} {
		artifact, err := s.artifacts.LookupArtifact(ctx, store.ArtifactKey{
			ProjectID: projectID,
			Release:   release,
			Dist:      dist,
			Filename:  candidate,
		})
		if err != nil {
			if errors.IsServiceError(err) && errors.GetServiceError(err).Code == errors.ErrCodeNotFound {
				continue
			}
			s.logger.Debug(ctx, "symbolicate: artifact lookup failed", map[string]interface{}{
				"filename": candidate, "error": err.Error(),
			})
			continue
		}

		sm, err := sourcemap.Parse(artifact.Data)
		if err != nil {
			s.logger.Warn(ctx, "symbolicate: malformed source map", map[string]interface{}{
				"filename": candidate, "error": err.Error(),
			})
			return cachedMap{}, false
		}

		result := cachedMap{sm: sm, artifactID: artifact.ID}
		s.mu.Lock()
		s.cache[key] = result
		s.mu.Unlock()

		go s.touchArtifact(artifact.ID)
		return result, true
	}

	s.logger.Debug(ctx, "symbolicate: no source map found", map[string]interface{}{
		"release": release, "filename": filename,
	})
	return cachedMap{}, false
}

func (s *Symbolicator) touchArtifact(id ids.ArtifactID) {
	_ = s.artifacts.TouchArtifact(context.Background(), id, time.Now().UTC())
}

func (s *Symbolicator) symbolicateJS(ctx context.Context, projectID ids.ProjectID, release string, dist *string, trace Stacktrace) Stacktrace {
	if release == "" {
		return trace
	}
	distStr := ""
	if dist != nil {
		distStr = *dist
	}

	out := Stacktrace{Frames: make([]Frame, len(trace.Frames))}
	for i, frame := range trace.Frames {
		out.Frames[i] = s.symbolicateJSFrame(ctx, projectID, release, distStr, frame)
	}
	return out
}

func (s *Symbolicator) symbolicateJSFrame(ctx context.Context, projectID ids.ProjectID, release, dist string, frame Frame) Frame {
	if frame.Filename == nil || frame.Lineno == nil || frame.Colno == nil {
		return frame
	}

	cached, ok := s.resolveMap(ctx, projectID, release, dist, *frame.Filename)
	if !ok {
		return frame
	}

	generatedLine := *frame.Lineno - 1
	if generatedLine < 0 {
		return frame
	}
	pos, ok := cached.sm.Lookup(uint32(generatedLine), uint32(*frame.Colno))
	if !ok {
		return frame
	}

	rewritten := frame
	if pos.Source != "" {
		source := pos.Source
		rewritten.Filename = &source
	}
	originalLine := int(pos.Line) + 1
	rewritten.Lineno = &originalLine
	column := int(pos.Column)
	rewritten.Colno = &column
	if pos.HasName {
		name := pos.Name
		rewritten.Function = &name
	}

	if pos.HasContent {
		pre, line, post := sourcemap.ExtractContext(pos.SourceContent, originalLine, contextLines)
		rewritten.PreContext = pre
		rewritten.PostContext = post
		if line != "" {
			rewritten.ContextLine = &line
		}
	}

	return rewritten
}
