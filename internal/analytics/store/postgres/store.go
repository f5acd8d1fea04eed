// Package postgres is the sqlx/lib-pq backed store.Store implementation,
// with schema managed by golang-migrate.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	infraerrors "github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/secret"
	"github.com/loom-platform/loom/internal/analytics/store"
)

// Store is the Postgres-backed analytics store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, verifies connectivity, runs pending migrations, and
// returns a ready Store. The caller owns the returned Store's lifetime and
// must call Close.
func Open(ctx context.Context, dsn, databaseName string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(db.DB, databaseName); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalProperties(properties map[string]interface{}) ([]byte, error) {
	if properties == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(properties)
}

func unmarshalProperties(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var properties map[string]interface{}
	_ = json.Unmarshal(data, &properties)
	return properties
}

// InsertEvent implements store.Store.
func (s *Store) InsertEvent(ctx context.Context, event store.Event) error {
	return s.insertEventsTx(ctx, s.db, []store.Event{event})
}

// InsertEvents implements store.Store: every event commits, or none do.
func (s *Store) InsertEvents(ctx context.Context, events []store.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return infraerrors.DatabaseError("begin insert_events tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertEventsTx(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return infraerrors.DatabaseError("commit insert_events tx", err)
	}
	return nil
}

// execer covers both *sqlx.DB and *sqlx.Tx for the shared insert path.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertEventsTx(ctx context.Context, ex execer, events []store.Event) error {
	for _, event := range events {
		propsJSON, err := marshalProperties(event.Properties)
		if err != nil {
			return infraerrors.InvalidInput("properties", err.Error())
		}

		var personID *string
		if event.PersonID != nil {
			id := event.PersonID.String()
			personID = &id
		}

		var ipAddress *string
		if !event.IPAddress.IsZero() {
			ip := event.IPAddress.Expose()
			ipAddress = &ip
		}

		_, err = ex.ExecContext(ctx, `
			INSERT INTO events
				(id, org_id, person_id, distinct_id, event_name, properties, "timestamp", ip_address, user_agent, lib, lib_version, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, event.ID.String(), event.OrgID.String(), personID, event.DistinctID, event.EventName,
			propsJSON, event.Timestamp, ipAddress, event.UserAgent, event.Lib, event.LibVersion, event.CreatedAt)
		if err != nil {
			return infraerrors.DatabaseError("insert event", err)
		}
	}
	return nil
}

// UpdateAPIKeyLastUsed implements store.Store.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE analytics_api_keys SET last_used_at = $2 WHERE id = $1
	`, keyID, now)
	if err != nil {
		return infraerrors.DatabaseError("update api key last_used", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return infraerrors.NotFound("analytics_api_key", keyID)
	}
	return nil
}

// LoadAPIKeyByHash implements store.Store.
func (s *Store) LoadAPIKeyByHash(ctx context.Context, keyHash []byte) (store.AnalyticsAPIKey, error) {
	var row apiKeyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, org_id, key_hash, salt, key_type, revoked_at, last_used_at, created_at
		FROM analytics_api_keys WHERE key_hash = $1
	`, keyHash)
	if err == sql.ErrNoRows {
		return store.AnalyticsAPIKey{}, infraerrors.NotFound("analytics_api_key", "")
	}
	if err != nil {
		return store.AnalyticsAPIKey{}, infraerrors.DatabaseError("load api key by hash", err)
	}
	return row.toAPIKey()
}

type apiKeyRow struct {
	ID         string       `db:"id"`
	OrgID      string       `db:"org_id"`
	KeyHash    []byte       `db:"key_hash"`
	Salt       []byte       `db:"salt"`
	KeyType    int          `db:"key_type"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

func (r apiKeyRow) toAPIKey() (store.AnalyticsAPIKey, error) {
	org, err := ids.ParseOrgID(r.OrgID)
	if err != nil {
		return store.AnalyticsAPIKey{}, infraerrors.Internal("parse org id", err)
	}
	key := store.AnalyticsAPIKey{
		ID:        r.ID,
		OrgID:     org,
		KeyHash:   r.KeyHash,
		Salt:      r.Salt,
		KeyType:   ids.AnalyticsKeyType(r.KeyType),
		CreatedAt: r.CreatedAt,
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		key.Lifecycle.RevokedAt = &t
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		key.Lifecycle.LastUsedAt = &t
	}
	return key, nil
}

// GetPersonByIdentity implements store.Store.
func (s *Store) GetPersonByIdentity(ctx context.Context, org ids.OrgID, distinctID string) (store.PersonWithIdentities, error) {
	var personIDStr string
	err := s.db.GetContext(ctx, &personIDStr, `
		SELECT person_id FROM person_identities WHERE org_id = $1 AND distinct_id = $2
	`, org.String(), distinctID)
	if err == sql.ErrNoRows {
		return store.PersonWithIdentities{}, infraerrors.NotFound("person_identity", distinctID)
	}
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.DatabaseError("lookup person identity", err)
	}

	personID, err := ids.ParsePersonID(personIDStr)
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.Internal("parse person id", err)
	}

	return s.personWithIdentities(ctx, org, personID)
}

func (s *Store) personWithIdentities(ctx context.Context, org ids.OrgID, personID ids.PersonID) (store.PersonWithIdentities, error) {
	person, err := s.GetPerson(ctx, org, personID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}

	identities, err := s.identitiesForPerson(ctx, org, personID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}

	return store.PersonWithIdentities{Person: person, Identities: identities}, nil
}

type identityRow struct {
	ID         string    `db:"id"`
	OrgID      string    `db:"org_id"`
	DistinctID string    `db:"distinct_id"`
	PersonID   string    `db:"person_id"`
	Kind       int       `db:"kind"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r identityRow) toIdentity() (store.PersonIdentity, error) {
	org, err := ids.ParseOrgID(r.OrgID)
	if err != nil {
		return store.PersonIdentity{}, err
	}
	person, err := ids.ParsePersonID(r.PersonID)
	if err != nil {
		return store.PersonIdentity{}, err
	}
	return store.PersonIdentity{
		ID:         r.ID,
		OrgID:      org,
		DistinctID: r.DistinctID,
		PersonID:   person,
		Kind:       store.IdentityKind(r.Kind),
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (s *Store) identitiesForPerson(ctx context.Context, org ids.OrgID, personID ids.PersonID) ([]store.PersonIdentity, error) {
	var rows []identityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, org_id, distinct_id, person_id, kind, created_at
		FROM person_identities WHERE org_id = $1 AND person_id = $2
		ORDER BY distinct_id
	`, org.String(), personID.String())
	if err != nil {
		return nil, infraerrors.DatabaseError("list person identities", err)
	}

	identities := make([]store.PersonIdentity, 0, len(rows))
	for _, row := range rows {
		identity, err := row.toIdentity()
		if err != nil {
			return nil, infraerrors.Internal("parse person identity", err)
		}
		identities = append(identities, identity)
	}
	return identities, nil
}

// CreatePerson implements store.Store.
func (s *Store) CreatePerson(ctx context.Context, org ids.OrgID, distinctID string, kind store.IdentityKind, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.DatabaseError("begin create_person tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	person := store.Person{
		ID:         ids.NewPersonID(),
		OrgID:      org,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	propsJSON, err := marshalProperties(properties)
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.InvalidInput("properties", err.Error())
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO persons (id, org_id, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, person.ID.String(), org.String(), propsJSON, now, now)
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.DatabaseError("insert person", err)
	}

	identity := store.PersonIdentity{
		ID:         person.ID.String() + ":" + distinctID,
		OrgID:      org,
		DistinctID: distinctID,
		PersonID:   person.ID,
		Kind:       kind,
		CreatedAt:  now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO person_identities (id, org_id, distinct_id, person_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, identity.ID, org.String(), distinctID, person.ID.String(), int(kind), now)
	if err != nil {
		return store.PersonWithIdentities{}, infraerrors.DatabaseError("insert person identity", err)
	}

	if err := tx.Commit(); err != nil {
		return store.PersonWithIdentities{}, infraerrors.DatabaseError("commit create_person tx", err)
	}

	return store.PersonWithIdentities{Person: person, Identities: []store.PersonIdentity{identity}}, nil
}

// LinkIdentity implements store.Store.
func (s *Store) LinkIdentity(ctx context.Context, org ids.OrgID, personID ids.PersonID, distinctID string, kind store.IdentityKind) (store.PersonIdentity, error) {
	now := time.Now().UTC()
	identity := store.PersonIdentity{
		ID:         personID.String() + ":" + distinctID,
		OrgID:      org,
		DistinctID: distinctID,
		PersonID:   personID,
		Kind:       kind,
		CreatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO person_identities (id, org_id, distinct_id, person_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, identity.ID, org.String(), distinctID, personID.String(), int(kind), now)
	if err != nil {
		return store.PersonIdentity{}, infraerrors.DatabaseError("link identity", err)
	}
	return identity, nil
}

// RecordMerge implements store.Store: transfer identities and events,
// mark the loser merged, and write the audit row, all in one transaction.
func (s *Store) RecordMerge(ctx context.Context, org ids.OrgID, merge store.PersonMerge) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return infraerrors.DatabaseError("begin record_merge tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := merge.MergedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE persons SET merged_into_id = $3, merged_at = $4
		WHERE id = $1 AND org_id = $2 AND merged_into_id IS NULL
	`, merge.LoserID.String(), org.String(), merge.WinnerID.String(), now)
	if err != nil {
		return infraerrors.DatabaseError("mark person merged", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return infraerrors.Conflict("person already merged or not found")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE person_identities SET person_id = $3 WHERE org_id = $1 AND person_id = $2
	`, org.String(), merge.LoserID.String(), merge.WinnerID.String())
	if err != nil {
		return infraerrors.DatabaseError("transfer identities", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE events SET person_id = $3 WHERE org_id = $1 AND person_id = $2
	`, org.String(), merge.LoserID.String(), merge.WinnerID.String())
	if err != nil {
		return infraerrors.DatabaseError("transfer events", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE persons SET properties = (
			SELECT properties FROM persons WHERE id = $2
		) || properties, updated_at = $3
		WHERE id = $1
	`, merge.WinnerID.String(), merge.LoserID.String(), now)
	if err != nil {
		return infraerrors.DatabaseError("merge winner properties", err)
	}

	var reasonByUserID *string
	if merge.Reason.ByUserID != nil {
		id := merge.Reason.ByUserID.String()
		reasonByUserID = &id
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO person_merges
			(id, org_id, winner_id, loser_id, reason_kind, reason_distinct_id, reason_user_id, reason_alias, reason_by_user_id, merged_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, merge.ID, org.String(), merge.WinnerID.String(), merge.LoserID.String(), int(merge.Reason.Kind),
		merge.Reason.DistinctID, merge.Reason.UserID, merge.Reason.Alias, reasonByUserID, now)
	if err != nil {
		return infraerrors.DatabaseError("insert person merge audit row", err)
	}

	if err := tx.Commit(); err != nil {
		return infraerrors.DatabaseError("commit record_merge tx", err)
	}
	return nil
}

type personRow struct {
	ID           string         `db:"id"`
	OrgID        string         `db:"org_id"`
	Properties   []byte         `db:"properties"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	MergedIntoID sql.NullString `db:"merged_into_id"`
	MergedAt     sql.NullTime   `db:"merged_at"`
}

func (r personRow) toPerson() (store.Person, error) {
	org, err := ids.ParseOrgID(r.OrgID)
	if err != nil {
		return store.Person{}, err
	}
	id, err := ids.ParsePersonID(r.ID)
	if err != nil {
		return store.Person{}, err
	}
	person := store.Person{
		ID:         id,
		OrgID:      org,
		Properties: unmarshalProperties(r.Properties),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.MergedIntoID.Valid {
		mergedInto, err := ids.ParsePersonID(r.MergedIntoID.String)
		if err != nil {
			return store.Person{}, err
		}
		person.MergedIntoID = &mergedInto
	}
	if r.MergedAt.Valid {
		t := r.MergedAt.Time
		person.MergedAt = &t
	}
	return person, nil
}

// GetPerson implements store.Store.
func (s *Store) GetPerson(ctx context.Context, org ids.OrgID, id ids.PersonID) (store.Person, error) {
	var row personRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, org_id, properties, created_at, updated_at, merged_into_id, merged_at
		FROM persons WHERE id = $1 AND org_id = $2
	`, id.String(), org.String())
	if err == sql.ErrNoRows {
		return store.Person{}, infraerrors.NotFound("person", id.String())
	}
	if err != nil {
		return store.Person{}, infraerrors.DatabaseError("get person", err)
	}
	person, err := row.toPerson()
	if err != nil {
		return store.Person{}, infraerrors.Internal("parse person row", err)
	}
	return person, nil
}

// UpdatePersonProperties implements store.Store.
func (s *Store) UpdatePersonProperties(ctx context.Context, org ids.OrgID, id ids.PersonID, properties map[string]interface{}) error {
	propsJSON, err := marshalProperties(properties)
	if err != nil {
		return infraerrors.InvalidInput("properties", err.Error())
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE persons SET properties = $3, updated_at = $4 WHERE id = $1 AND org_id = $2
	`, id.String(), org.String(), propsJSON, time.Now().UTC())
	if err != nil {
		return infraerrors.DatabaseError("update person properties", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return infraerrors.NotFound("person", id.String())
	}
	return nil
}

type eventRow struct {
	ID         string         `db:"id"`
	OrgID      string         `db:"org_id"`
	PersonID   sql.NullString `db:"person_id"`
	DistinctID string         `db:"distinct_id"`
	EventName  string         `db:"event_name"`
	Properties []byte         `db:"properties"`
	Timestamp  time.Time      `db:"timestamp"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  sql.NullString `db:"user_agent"`
	Lib        sql.NullString `db:"lib"`
	LibVersion sql.NullString `db:"lib_version"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r eventRow) toEvent() (store.Event, error) {
	org, err := ids.ParseOrgID(r.OrgID)
	if err != nil {
		return store.Event{}, err
	}
	id, err := ids.ParseEventID(r.ID)
	if err != nil {
		return store.Event{}, err
	}
	event := store.Event{
		ID:         id,
		OrgID:      org,
		DistinctID: r.DistinctID,
		EventName:  r.EventName,
		Properties: unmarshalProperties(r.Properties),
		Timestamp:  r.Timestamp,
		CreatedAt:  r.CreatedAt,
	}
	if r.PersonID.Valid {
		personID, err := ids.ParsePersonID(r.PersonID.String)
		if err != nil {
			return store.Event{}, err
		}
		event.PersonID = &personID
	}
	if r.IPAddress.Valid {
		event.IPAddress = secret.New(r.IPAddress.String)
	}
	if r.UserAgent.Valid {
		ua := r.UserAgent.String
		event.UserAgent = &ua
	}
	if r.Lib.Valid {
		lib := r.Lib.String
		event.Lib = &lib
	}
	if r.LibVersion.Valid {
		v := r.LibVersion.String
		event.LibVersion = &v
	}
	return event, nil
}

// ListEvents implements store.Store.
func (s *Store) ListEvents(ctx context.Context, org ids.OrgID, filter store.EventFilter, limit int) ([]store.Event, error) {
	query := `
		SELECT id, org_id, person_id, distinct_id, event_name, properties, "timestamp", ip_address, user_agent, lib, lib_version, created_at
		FROM events WHERE org_id = $1
	`
	args := []interface{}{org.String()}

	if filter.DistinctID != "" {
		args = append(args, filter.DistinctID)
		query += fmt.Sprintf(" AND distinct_id = $%d", len(args))
	}
	if filter.EventName != "" {
		args = append(args, filter.EventName)
		query += fmt.Sprintf(" AND event_name = $%d", len(args))
	}
	if filter.PersonID != nil {
		args = append(args, filter.PersonID.String())
		query += fmt.Sprintf(" AND person_id = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(` AND "timestamp" >= $%d`, len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(` AND "timestamp" <= $%d`, len(args))
	}

	query += ` ORDER BY "timestamp" DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, infraerrors.DatabaseError("list events", err)
	}

	events := make([]store.Event, 0, len(rows))
	for _, row := range rows {
		event, err := row.toEvent()
		if err != nil {
			return nil, infraerrors.Internal("parse event row", err)
		}
		events = append(events, event)
	}
	return events, nil
}

var _ store.Store = (*Store)(nil)
