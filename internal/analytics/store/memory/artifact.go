package memory

import (
	"context"
	"time"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/internal/analytics/store"
)

func artifactKey(projectID ids.ProjectID, release, dist, filename string) string {
	return projectID.String() + ":" + release + ":" + dist + ":" + filename
}

// LookupArtifact implements store.ArtifactStore.
func (s *Store) LookupArtifact(ctx context.Context, key store.ArtifactKey) (store.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.Artifact{}, err
	}
	artifact, ok := s.artifacts[artifactKey(key.ProjectID, key.Release, key.Dist, key.Filename)]
	if !ok {
		return store.Artifact{}, errors.NotFound("artifact", key.Filename)
	}
	return artifact, nil
}

// PutArtifact implements store.ArtifactStore.
func (s *Store) PutArtifact(ctx context.Context, artifact store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}

	dist := ""
	if artifact.Dist != nil {
		dist = *artifact.Dist
	}
	s.artifacts[artifactKey(artifact.ProjectID, artifact.Release, dist, artifact.Filename)] = artifact
	return nil
}

// TouchArtifact implements store.ArtifactStore.
func (s *Store) TouchArtifact(ctx context.Context, id ids.ArtifactID, accessedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}
	for key, artifact := range s.artifacts {
		if artifact.ID == id {
			artifact.LastAccessed = accessedAt
			s.artifacts[key] = artifact
			return nil
		}
	}
	return errors.NotFound("artifact", id.String())
}

var _ store.ArtifactStore = (*Store)(nil)
