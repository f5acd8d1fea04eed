// Package memory is an in-memory store.Store, used as the test double for
// every component that depends on the analytics store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/internal/analytics/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu sync.RWMutex

	persons    map[ids.PersonID]store.Person
	identities map[string]store.PersonIdentity // key: org+distinct_id
	merges     []store.PersonMerge
	events     []store.Event
	apiKeys    map[string]store.AnalyticsAPIKey // key: string(keyHash), the raw hash bytes
	artifacts  map[string]store.Artifact        // key: artifactKey(project, release, dist, filename)

	// ErrorOnNextCall, when set, is returned by the next call and then
	// cleared, letting tests exercise error paths.
	ErrorOnNextCall error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		persons:    make(map[ids.PersonID]store.Person),
		identities: make(map[string]store.PersonIdentity),
		apiKeys:    make(map[string]store.AnalyticsAPIKey),
		artifacts:  make(map[string]store.Artifact),
	}
}

func (s *Store) checkError() error {
	if s.ErrorOnNextCall != nil {
		err := s.ErrorOnNextCall
		s.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func identityKey(org ids.OrgID, distinctID string) string {
	return org.String() + ":" + distinctID
}

func apiKeyKey(keyHash []byte) string {
	return string(keyHash)
}

// InsertEvent implements store.Store.
func (s *Store) InsertEvent(ctx context.Context, event store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}
	s.events = append(s.events, event)
	return nil
}

// InsertEvents implements store.Store. The in-memory store has no
// transaction boundary to violate, so this is just a loop; it exists to
// satisfy the interface and to exercise callers' batch-sized code paths.
func (s *Store) InsertEvents(ctx context.Context, events []store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}
	s.events = append(s.events, events...)
	return nil
}

// UpdateAPIKeyLastUsed implements store.Store.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}
	for k, key := range s.apiKeys {
		if key.ID == keyID {
			now := time.Now().UTC()
			key.Lifecycle.Touch(now)
			s.apiKeys[k] = key
			return nil
		}
	}
	return errors.NotFound("analytics_api_key", keyID)
}

// LoadAPIKeyByHash implements store.Store.
func (s *Store) LoadAPIKeyByHash(ctx context.Context, keyHash []byte) (store.AnalyticsAPIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.AnalyticsAPIKey{}, err
	}
	key, ok := s.apiKeys[apiKeyKey(keyHash)]
	if !ok {
		return store.AnalyticsAPIKey{}, errors.NotFound("analytics_api_key", "")
	}
	return key, nil
}

// PutAPIKey is a test helper for seeding an API key directly.
func (s *Store) PutAPIKey(key store.AnalyticsAPIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[apiKeyKey(key.KeyHash)] = key
}

// GetPersonByIdentity implements store.Store.
func (s *Store) GetPersonByIdentity(ctx context.Context, org ids.OrgID, distinctID string) (store.PersonWithIdentities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.PersonWithIdentities{}, err
	}

	identity, ok := s.identities[identityKey(org, distinctID)]
	if !ok {
		return store.PersonWithIdentities{}, errors.NotFound("person_identity", distinctID)
	}
	person, ok := s.persons[identity.PersonID]
	if !ok || person.OrgID != org {
		return store.PersonWithIdentities{}, errors.NotFound("person", identity.PersonID.String())
	}
	return store.PersonWithIdentities{Person: person, Identities: s.identitiesForLocked(person.ID)}, nil
}

func (s *Store) identitiesForLocked(personID ids.PersonID) []store.PersonIdentity {
	var out []store.PersonIdentity
	for _, id := range s.identities {
		if id.PersonID == personID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistinctID < out[j].DistinctID })
	return out
}

// CreatePerson implements store.Store.
func (s *Store) CreatePerson(ctx context.Context, org ids.OrgID, distinctID string, kind store.IdentityKind, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return store.PersonWithIdentities{}, err
	}

	now := time.Now().UTC()
	person := store.Person{
		ID:         ids.NewPersonID(),
		OrgID:      org,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.persons[person.ID] = person

	identity := store.PersonIdentity{
		ID:         person.ID.String() + ":" + distinctID,
		OrgID:      org,
		DistinctID: distinctID,
		PersonID:   person.ID,
		Kind:       kind,
		CreatedAt:  now,
	}
	s.identities[identityKey(org, distinctID)] = identity

	return store.PersonWithIdentities{Person: person, Identities: []store.PersonIdentity{identity}}, nil
}

// LinkIdentity implements store.Store.
func (s *Store) LinkIdentity(ctx context.Context, org ids.OrgID, personID ids.PersonID, distinctID string, kind store.IdentityKind) (store.PersonIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return store.PersonIdentity{}, err
	}

	identity := store.PersonIdentity{
		ID:         personID.String() + ":" + distinctID,
		OrgID:      org,
		DistinctID: distinctID,
		PersonID:   personID,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}
	s.identities[identityKey(org, distinctID)] = identity
	return identity, nil
}

// RecordMerge implements store.Store.
func (s *Store) RecordMerge(ctx context.Context, org ids.OrgID, merge store.PersonMerge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}

	loser, ok := s.persons[merge.LoserID]
	if !ok || loser.OrgID != org {
		return errors.NotFound("person", merge.LoserID.String())
	}
	winner, ok := s.persons[merge.WinnerID]
	if !ok || winner.OrgID != org {
		return errors.NotFound("person", merge.WinnerID.String())
	}

	for key, identity := range s.identities {
		if identity.PersonID == merge.LoserID {
			identity.PersonID = merge.WinnerID
			s.identities[key] = identity
		}
	}
	for i, event := range s.events {
		if event.PersonID != nil && *event.PersonID == merge.LoserID {
			winnerID := merge.WinnerID
			s.events[i].PersonID = &winnerID
		}
	}

	now := time.Now().UTC()
	loser.MergedIntoID = &merge.WinnerID
	loser.MergedAt = &now
	s.persons[merge.LoserID] = loser

	winner.Properties = mergeProperties(loser.Properties, winner.Properties)
	winner.UpdatedAt = now
	s.persons[merge.WinnerID] = winner

	s.merges = append(s.merges, merge)
	return nil
}

func mergeProperties(loser, winner map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(loser)+len(winner))
	for k, v := range loser {
		merged[k] = v
	}
	for k, v := range winner {
		merged[k] = v
	}
	return merged
}

// GetPerson implements store.Store.
func (s *Store) GetPerson(ctx context.Context, org ids.OrgID, id ids.PersonID) (store.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.Person{}, err
	}
	person, ok := s.persons[id]
	if !ok || person.OrgID != org {
		return store.Person{}, errors.NotFound("person", id.String())
	}
	return person, nil
}

// UpdatePersonProperties implements store.Store.
func (s *Store) UpdatePersonProperties(ctx context.Context, org ids.OrgID, id ids.PersonID, properties map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return err
	}
	person, ok := s.persons[id]
	if !ok || person.OrgID != org {
		return errors.NotFound("person", id.String())
	}
	person.Properties = properties
	person.UpdatedAt = time.Now().UTC()
	s.persons[id] = person
	return nil
}

// ListEvents implements store.Store.
func (s *Store) ListEvents(ctx context.Context, org ids.OrgID, filter store.EventFilter, limit int) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, err
	}

	var matched []store.Event
	for _, event := range s.events {
		if event.OrgID != org {
			continue
		}
		if filter.DistinctID != "" && event.DistinctID != filter.DistinctID {
			continue
		}
		if filter.EventName != "" && event.EventName != filter.EventName {
			continue
		}
		if filter.PersonID != nil && (event.PersonID == nil || *event.PersonID != *filter.PersonID) {
			continue
		}
		if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && event.Timestamp.After(*filter.Until) {
			continue
		}
		matched = append(matched, event)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Reset clears all data, mirroring the teacher's mock-repository Reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons = make(map[ids.PersonID]store.Person)
	s.identities = make(map[string]store.PersonIdentity)
	s.merges = nil
	s.events = nil
	s.apiKeys = make(map[string]store.AnalyticsAPIKey)
	s.artifacts = make(map[string]store.Artifact)
	s.ErrorOnNextCall = nil
}

var _ store.Store = (*Store)(nil)
