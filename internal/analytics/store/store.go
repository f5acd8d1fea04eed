package store

import (
	"context"

	"github.com/loom-platform/loom/infrastructure/ids"
)

// Store is the persistence boundary the analytics core depends on. Every
// method that reads or writes org-scoped data takes the org id explicitly
// and a mismatched org on an existing row must surface as NotFound, never
// as a different org's data.
type Store interface {
	// InsertEvent persists a single event.
	InsertEvent(ctx context.Context, event Event) error

	// InsertEvents persists a batch of events transactionally: either every
	// event in the batch is committed, or none are.
	InsertEvents(ctx context.Context, events []Event) error

	// UpdateAPIKeyLastUsed records that an API key was just used. Best
	// effort: callers should not fail a request over this call's error.
	UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error

	// LoadAPIKeyByHash looks up an analytics API key by the Argon2 hash of
	// its raw value.
	LoadAPIKeyByHash(ctx context.Context, keyHash []byte) (AnalyticsAPIKey, error)

	// GetPersonByIdentity resolves (org, distinct_id) to its person and all
	// identities linked to that person. Returns NotFound if no identity for
	// distinct_id exists in org.
	GetPersonByIdentity(ctx context.Context, org ids.OrgID, distinctID string) (PersonWithIdentities, error)

	// CreatePerson creates a new person together with its first identity in
	// a single transaction.
	CreatePerson(ctx context.Context, org ids.OrgID, distinctID string, kind IdentityKind, properties map[string]interface{}) (PersonWithIdentities, error)

	// LinkIdentity attaches an additional distinct_id to an existing
	// person.
	LinkIdentity(ctx context.Context, org ids.OrgID, personID ids.PersonID, distinctID string, kind IdentityKind) (PersonIdentity, error)

	// RecordMerge transfers loser's identities and events to winner, marks
	// loser merged, and writes the PersonMerge audit row, all
	// transactionally.
	RecordMerge(ctx context.Context, org ids.OrgID, merge PersonMerge) error

	// GetPerson loads a person by id, scoped to org.
	GetPerson(ctx context.Context, org ids.OrgID, id ids.PersonID) (Person, error)

	// UpdatePersonProperties overwrites a person's properties and bumps
	// updated_at.
	UpdatePersonProperties(ctx context.Context, org ids.OrgID, id ids.PersonID, properties map[string]interface{}) error

	// ListEvents returns up to limit events matching filter, newest first.
	ListEvents(ctx context.Context, org ids.OrgID, filter EventFilter, limit int) ([]Event, error)
}
