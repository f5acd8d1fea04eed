package store

import (
	"context"
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
)

// ArtifactType distinguishes the kinds of upload crash symbolication
// consumes.
type ArtifactType int

const (
	ArtifactSourceMap ArtifactType = iota
	ArtifactDebug
)

func (t ArtifactType) String() string {
	if t == ArtifactDebug {
		return "debug"
	}
	return "source_map"
}

// Artifact is a binary upload (source map, debug file) keyed by project,
// release, dist, and filename, used to symbolicate crash frames.
type Artifact struct {
	ID           ids.ArtifactID
	ProjectID    ids.ProjectID
	Release      string
	Dist         *string
	ArtifactType ArtifactType
	Filename     string
	Data         []byte
	LastAccessed time.Time
}

// ArtifactKey identifies an artifact lookup: project, release, optional
// dist, and filename. An empty Dist matches artifacts uploaded with no
// dist.
type ArtifactKey struct {
	ProjectID ids.ProjectID
	Release   string
	Dist      string
	Filename  string
}

// ArtifactStore is the persistence boundary crash symbolication depends on,
// split out from Store the way the teacher splits per-concern repository
// surfaces into their own files.
type ArtifactStore interface {
	// LookupArtifact resolves (project_id, release, dist, filename) to its
	// artifact. Returns NotFound if no upload matches the key.
	LookupArtifact(ctx context.Context, key ArtifactKey) (Artifact, error)

	// PutArtifact persists an uploaded artifact, replacing any existing
	// artifact at the same key.
	PutArtifact(ctx context.Context, artifact Artifact) error

	// TouchArtifact records that an artifact was just consumed by
	// symbolication. Best effort and fire-and-forget: callers must not fail
	// a symbolication pass over this call's error.
	TouchArtifact(ctx context.Context, id ids.ArtifactID, accessedAt time.Time) error
}
