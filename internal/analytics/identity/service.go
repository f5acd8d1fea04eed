// Package identity resolves analytics distinct_ids to persons and merges
// persons when identify/alias calls provide evidence that two distinct_ids
// denote the same user.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/internal/analytics/store"
)

// defaultMaxMergeChainDepth bounds merged_into_id chain-following. A chain
// this long can only arise from a storage consistency violation, never from
// normal operation (merges repoint identities to the winner directly).
const defaultMaxMergeChainDepth = 8

// AuditHook receives every committed merge, for the audit pipeline.
type AuditHook func(ctx context.Context, org ids.OrgID, merge store.PersonMerge)

// Config holds the dependencies for a Service.
type Config struct {
	Store              store.Store
	Logger             *logging.Logger
	AuditHook          AuditHook
	MaxMergeChainDepth int // defaults to defaultMaxMergeChainDepth
}

// Service implements identity resolution and person merging.
type Service struct {
	store         store.Store
	logger        *logging.Logger
	auditHook     AuditHook
	maxChainDepth int
}

// New constructs a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	maxChainDepth := cfg.MaxMergeChainDepth
	if maxChainDepth <= 0 {
		maxChainDepth = defaultMaxMergeChainDepth
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("identity", "info", "json")
	}
	return &Service{
		store:         cfg.Store,
		logger:        logger,
		auditHook:     cfg.AuditHook,
		maxChainDepth: maxChainDepth,
	}, nil
}

// ResolvePersonForDistinctID materializes a Person for (org, distinct_id),
// creating a new Anonymous identity and person on first sight.
func (s *Service) ResolvePersonForDistinctID(ctx context.Context, org ids.OrgID, distinctID string) (store.PersonWithIdentities, error) {
	resolved, err := s.store.GetPersonByIdentity(ctx, org, distinctID)
	if err == nil {
		return s.withCanonicalPerson(ctx, org, resolved)
	}
	if !isNotFound(err) {
		return store.PersonWithIdentities{}, err
	}

	return s.store.CreatePerson(ctx, org, distinctID, store.Anonymous, nil)
}

// Identify links distinct_id and user_id to the same person, merging
// existing persons if both already resolve to different ones.
func (s *Service) Identify(ctx context.Context, org ids.OrgID, distinctID, userID string, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	reason := store.MergeReason{Kind: store.MergeReasonIdentify, DistinctID: distinctID, UserID: userID}
	return s.link(ctx, org, distinctID, store.Anonymous, userID, store.Identified, properties, reason)
}

// Alias is the symmetric counterpart to Identify: it merges the persons
// behind two distinct_ids instead of a distinct_id and a user_id.
func (s *Service) Alias(ctx context.Context, org ids.OrgID, distinctID, alias string) (store.PersonWithIdentities, error) {
	reason := store.MergeReason{Kind: store.MergeReasonAlias, DistinctID: distinctID, Alias: alias}
	return s.link(ctx, org, distinctID, store.Anonymous, alias, store.Anonymous, nil, reason)
}

// link is the shared implementation behind Identify and Alias: it resolves
// the person behind each of two ids (creating one side if it's missing),
// decides whether they're already the same person, and merges them if not.
func (s *Service) link(ctx context.Context, org ids.OrgID, idA string, kindA store.IdentityKind, idB string, kindB store.IdentityKind, properties map[string]interface{}, reason store.MergeReason) (store.PersonWithIdentities, error) {
	a, aErr := s.store.GetPersonByIdentity(ctx, org, idA)
	if aErr != nil && !isNotFound(aErr) {
		return store.PersonWithIdentities{}, aErr
	}
	b, bErr := s.store.GetPersonByIdentity(ctx, org, idB)
	if bErr != nil && !isNotFound(bErr) {
		return store.PersonWithIdentities{}, bErr
	}

	switch {
	case aErr != nil && bErr != nil:
		created, err := s.store.CreatePerson(ctx, org, idA, kindA, properties)
		if err != nil {
			return store.PersonWithIdentities{}, err
		}
		if _, err := s.store.LinkIdentity(ctx, org, created.Person.ID, idB, kindB); err != nil {
			return store.PersonWithIdentities{}, err
		}
		return s.store.GetPersonByIdentity(ctx, org, idA)

	case aErr != nil:
		if _, err := s.store.LinkIdentity(ctx, org, b.Person.ID, idA, kindA); err != nil {
			return store.PersonWithIdentities{}, err
		}
		return s.applyProperties(ctx, org, b.Person.ID, properties)

	case bErr != nil:
		if _, err := s.store.LinkIdentity(ctx, org, a.Person.ID, idB, kindB); err != nil {
			return store.PersonWithIdentities{}, err
		}
		return s.applyProperties(ctx, org, a.Person.ID, properties)
	}

	a, err := s.withCanonicalPerson(ctx, org, a)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	b, err = s.withCanonicalPerson(ctx, org, b)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}

	if a.Person.ID == b.Person.ID {
		return s.applyProperties(ctx, org, a.Person.ID, properties)
	}

	winner, loser := selectWinner(a, b)
	if err := s.mergeInto(ctx, org, winner.Person.ID, loser.Person.ID, reason); err != nil {
		return store.PersonWithIdentities{}, err
	}
	return s.applyProperties(ctx, org, winner.Person.ID, properties)
}

// withCanonicalPerson replaces resolved.Person with the fixed point of its
// merged_into_id chain when the store returned an already-merged person: a
// consistency violation that should never arise from normal operation
// (RecordMerge repoints identities to the winner directly) but is handled
// here per the chain-following contract.
func (s *Service) withCanonicalPerson(ctx context.Context, org ids.OrgID, resolved store.PersonWithIdentities) (store.PersonWithIdentities, error) {
	if !resolved.Person.IsMerged() {
		return resolved, nil
	}
	canonical, err := s.followMergeChain(ctx, org, resolved.Person)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	resolved.Person = canonical
	return resolved, nil
}

func (s *Service) followMergeChain(ctx context.Context, org ids.OrgID, person store.Person) (store.Person, error) {
	current := person
	chain := []string{current.ID.String()}
	for i := 0; i < s.maxChainDepth; i++ {
		if !current.IsMerged() {
			return current, nil
		}
		next, err := s.store.GetPerson(ctx, org, *current.MergedIntoID)
		if err != nil {
			return store.Person{}, err
		}
		chain = append(chain, next.ID.String())
		current = next
	}
	return store.Person{}, errors.CycleDetected(chain)
}

// applyProperties merges caller-supplied properties on top of a person's
// existing ones (new values win on key conflict) and returns the refreshed
// person wrapped with no identity list, since callers that need it already
// have one from an earlier lookup.
func (s *Service) applyProperties(ctx context.Context, org ids.OrgID, personID ids.PersonID, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	person, err := s.store.GetPerson(ctx, org, personID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}

	if len(properties) > 0 {
		merged := make(map[string]interface{}, len(person.Properties)+len(properties))
		for k, v := range person.Properties {
			merged[k] = v
		}
		for k, v := range properties {
			merged[k] = v
		}
		if err := s.store.UpdatePersonProperties(ctx, org, personID, merged); err != nil {
			return store.PersonWithIdentities{}, err
		}
		person, err = s.store.GetPerson(ctx, org, personID)
		if err != nil {
			return store.PersonWithIdentities{}, err
		}
	}

	return store.PersonWithIdentities{Person: person}, nil
}

// SetProperties resolves distinct_id to its person and overwrites the given
// properties, new values winning on key conflict. Backs the SDK's `$set`.
func (s *Service) SetProperties(ctx context.Context, org ids.OrgID, distinctID string, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	resolved, err := s.ResolvePersonForDistinctID(ctx, org, distinctID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	return s.applyProperties(ctx, org, resolved.Person.ID, properties)
}

// SetOnceProperties resolves distinct_id to its person and fills in only the
// properties not already set, existing values winning on key conflict.
// Backs the SDK's `$set_once`.
func (s *Service) SetOnceProperties(ctx context.Context, org ids.OrgID, distinctID string, properties map[string]interface{}) (store.PersonWithIdentities, error) {
	resolved, err := s.ResolvePersonForDistinctID(ctx, org, distinctID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	person, err := s.store.GetPerson(ctx, org, resolved.Person.ID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	onlyNew := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		if _, exists := person.Properties[k]; !exists {
			onlyNew[k] = v
		}
	}
	if len(onlyNew) == 0 {
		return store.PersonWithIdentities{Person: person}, nil
	}
	return s.applyProperties(ctx, org, resolved.Person.ID, onlyNew)
}

// UnsetProperties resolves distinct_id to its person and removes the named
// properties. Backs the SDK's `$unset`.
func (s *Service) UnsetProperties(ctx context.Context, org ids.OrgID, distinctID string, keys []string) (store.PersonWithIdentities, error) {
	resolved, err := s.ResolvePersonForDistinctID(ctx, org, distinctID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	person, err := s.store.GetPerson(ctx, org, resolved.Person.ID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	remaining := make(map[string]interface{}, len(person.Properties))
	for k, v := range person.Properties {
		remaining[k] = v
	}
	for _, k := range keys {
		delete(remaining, k)
	}
	if err := s.store.UpdatePersonProperties(ctx, org, resolved.Person.ID, remaining); err != nil {
		return store.PersonWithIdentities{}, err
	}
	person, err = s.store.GetPerson(ctx, org, resolved.Person.ID)
	if err != nil {
		return store.PersonWithIdentities{}, err
	}
	return store.PersonWithIdentities{Person: person}, nil
}

// mergeInto merges loserID into winnerID, idempotently: if they're already
// the same person this is a no-op, satisfying the "applying the same merge
// twice is a no-op" invariant.
func (s *Service) mergeInto(ctx context.Context, org ids.OrgID, winnerID, loserID ids.PersonID, reason store.MergeReason) error {
	if winnerID == loserID {
		return nil
	}

	merge := store.PersonMerge{
		ID:       uuid.NewString(),
		WinnerID: winnerID,
		LoserID:  loserID,
		Reason:   reason,
	}
	if err := s.store.RecordMerge(ctx, org, merge); err != nil {
		return err
	}

	if s.auditHook != nil {
		s.auditHook(ctx, org, merge)
	}
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"winner_id": winnerID.String(),
		"loser_id":  loserID.String(),
	}).Info("identity merge committed")
	return nil
}

// selectWinner applies the deterministic tie-break: prefer the person with
// an existing Identified identity, then the older created_at, then the
// lexicographically smaller id. Swapping argument order must not change the
// result.
func selectWinner(a, b store.PersonWithIdentities) (winner, loser store.PersonWithIdentities) {
	aIdentified := hasIdentifiedIdentity(a)
	bIdentified := hasIdentifiedIdentity(b)
	if aIdentified != bIdentified {
		if aIdentified {
			return a, b
		}
		return b, a
	}

	if !a.Person.CreatedAt.Equal(b.Person.CreatedAt) {
		if a.Person.CreatedAt.Before(b.Person.CreatedAt) {
			return a, b
		}
		return b, a
	}

	if a.Person.ID.Compare(b.Person.ID) <= 0 {
		return a, b
	}
	return b, a
}

func hasIdentifiedIdentity(p store.PersonWithIdentities) bool {
	for _, identity := range p.Identities {
		if identity.Kind == store.Identified {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	svcErr := errors.GetServiceError(err)
	return svcErr != nil && svcErr.Code == errors.ErrCodeNotFound
}
