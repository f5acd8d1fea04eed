package postgres

import (
	"context"
	"database/sql"
	"time"

	infraerrors "github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/internal/analytics/store"
)

type artifactRow struct {
	ID           string       `db:"id"`
	ProjectID    string       `db:"project_id"`
	Release      string       `db:"release"`
	Dist         string       `db:"dist"`
	ArtifactType int          `db:"artifact_type"`
	Filename     string       `db:"filename"`
	Data         []byte       `db:"data"`
	LastAccessed sql.NullTime `db:"last_accessed"`
}

func (r artifactRow) toArtifact() (store.Artifact, error) {
	id, err := ids.ParseArtifactID(r.ID)
	if err != nil {
		return store.Artifact{}, err
	}
	projectID, err := ids.ParseProjectID(r.ProjectID)
	if err != nil {
		return store.Artifact{}, err
	}

	artifact := store.Artifact{
		ID:           id,
		ProjectID:    projectID,
		Release:      r.Release,
		ArtifactType: store.ArtifactType(r.ArtifactType),
		Filename:     r.Filename,
		Data:         r.Data,
	}
	if r.Dist != "" {
		dist := r.Dist
		artifact.Dist = &dist
	}
	if r.LastAccessed.Valid {
		artifact.LastAccessed = r.LastAccessed.Time
	}
	return artifact, nil
}

// LookupArtifact implements store.ArtifactStore.
func (s *Store) LookupArtifact(ctx context.Context, key store.ArtifactKey) (store.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, project_id, release, dist, artifact_type, filename, data, last_accessed
		FROM artifacts WHERE project_id = $1 AND release = $2 AND dist = $3 AND filename = $4
	`, key.ProjectID.String(), key.Release, key.Dist, key.Filename)
	if err == sql.ErrNoRows {
		return store.Artifact{}, infraerrors.NotFound("artifact", key.Filename)
	}
	if err != nil {
		return store.Artifact{}, infraerrors.DatabaseError("lookup artifact", err)
	}
	artifact, err := row.toArtifact()
	if err != nil {
		return store.Artifact{}, infraerrors.Internal("parse artifact row", err)
	}
	return artifact, nil
}

// PutArtifact implements store.ArtifactStore.
func (s *Store) PutArtifact(ctx context.Context, artifact store.Artifact) error {
	dist := ""
	if artifact.Dist != nil {
		dist = *artifact.Dist
	}

	var lastAccessed sql.NullTime
	if !artifact.LastAccessed.IsZero() {
		lastAccessed = sql.NullTime{Time: artifact.LastAccessed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, release, dist, artifact_type, filename, data, last_accessed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (project_id, release, dist, filename) DO UPDATE SET
			id = EXCLUDED.id,
			artifact_type = EXCLUDED.artifact_type,
			data = EXCLUDED.data,
			last_accessed = EXCLUDED.last_accessed
	`, artifact.ID.String(), artifact.ProjectID.String(), artifact.Release, dist,
		int(artifact.ArtifactType), artifact.Filename, artifact.Data, lastAccessed)
	if err != nil {
		return infraerrors.DatabaseError("put artifact", err)
	}
	return nil
}

// TouchArtifact implements store.ArtifactStore.
func (s *Store) TouchArtifact(ctx context.Context, id ids.ArtifactID, accessedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET last_accessed = $2 WHERE id = $1
	`, id.String(), accessedAt)
	if err != nil {
		return infraerrors.DatabaseError("touch artifact", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return infraerrors.NotFound("artifact", id.String())
	}
	return nil
}

var _ store.ArtifactStore = (*Store)(nil)
