package store

import (
	"context"
	"fmt"

	"github.com/loom-platform/loom/infrastructure/cache"
	"github.com/loom-platform/loom/infrastructure/ids"
)

// CachedStore decorates a Store with a Redis cache-aside layer in front of
// the two lookups identity resolution hits on every event: resolving a
// distinct_id to its person, and loading a person by id. Writes go straight
// through to the inner store and evict the affected cache entries rather
// than updating them, so a concurrent reader never observes a half-written
// cache value.
type CachedStore struct {
	Store
	cache *cache.RedisCache
}

// NewCachedStore wraps inner with cache. A nil cache makes every lookup
// fall straight through to inner, so callers can construct a CachedStore
// unconditionally and only skip it when Redis isn't configured.
func NewCachedStore(inner Store, c *cache.RedisCache) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

func personByIdentityKey(org ids.OrgID, distinctID string) string {
	return fmt.Sprintf("person_by_identity:%s:%s", org.String(), distinctID)
}

func personKey(org ids.OrgID, id ids.PersonID) string {
	return fmt.Sprintf("person:%s:%s", org.String(), id.String())
}

// GetPersonByIdentity checks the cache before falling through to the inner
// store, populating the cache on a miss.
func (s *CachedStore) GetPersonByIdentity(ctx context.Context, org ids.OrgID, distinctID string) (PersonWithIdentities, error) {
	key := personByIdentityKey(org, distinctID)
	var cached PersonWithIdentities
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	result, err := s.Store.GetPersonByIdentity(ctx, org, distinctID)
	if err != nil {
		return PersonWithIdentities{}, err
	}
	s.cache.Set(ctx, key, result)
	return result, nil
}

// GetPerson checks the cache before falling through to the inner store.
func (s *CachedStore) GetPerson(ctx context.Context, org ids.OrgID, id ids.PersonID) (Person, error) {
	key := personKey(org, id)
	var cached Person
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	result, err := s.Store.GetPerson(ctx, org, id)
	if err != nil {
		return Person{}, err
	}
	s.cache.Set(ctx, key, result)
	return result, nil
}

// CreatePerson writes through and doesn't need an eviction: the distinct_id
// it creates couldn't have been cached before this call succeeded.
func (s *CachedStore) CreatePerson(ctx context.Context, org ids.OrgID, distinctID string, kind IdentityKind, properties map[string]interface{}) (PersonWithIdentities, error) {
	return s.Store.CreatePerson(ctx, org, distinctID, kind, properties)
}

// LinkIdentity writes through and evicts the new distinct_id's lookup in
// case a prior miss cached a not-found result under it.
func (s *CachedStore) LinkIdentity(ctx context.Context, org ids.OrgID, personID ids.PersonID, distinctID string, kind IdentityKind) (PersonIdentity, error) {
	result, err := s.Store.LinkIdentity(ctx, org, personID, distinctID, kind)
	if err == nil {
		s.cache.Delete(ctx, personByIdentityKey(org, distinctID))
	}
	return result, err
}

// RecordMerge writes through and evicts both persons' cached lookups, since
// the merge changes which person the loser's identities resolve to.
func (s *CachedStore) RecordMerge(ctx context.Context, org ids.OrgID, merge PersonMerge) error {
	err := s.Store.RecordMerge(ctx, org, merge)
	if err == nil {
		s.cache.Delete(ctx, personKey(org, merge.WinnerID))
		s.cache.Delete(ctx, personKey(org, merge.LoserID))
	}
	return err
}

// UpdatePersonProperties writes through and evicts the person's cached
// entry so the next read picks up the new properties instead of a stale
// cached copy.
func (s *CachedStore) UpdatePersonProperties(ctx context.Context, org ids.OrgID, id ids.PersonID, properties map[string]interface{}) error {
	err := s.Store.UpdatePersonProperties(ctx, org, id, properties)
	if err == nil {
		s.cache.Delete(ctx, personKey(org, id))
	}
	return err
}
