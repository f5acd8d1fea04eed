// Package store defines the analytics persistence contract shared by the
// identity resolution, ingestion, and query components.
package store

import (
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/secret"
)

// IdentityKind distinguishes an identity created implicitly (first sighting
// of a distinct_id) from one created by an explicit identify/alias call.
type IdentityKind int

const (
	Anonymous IdentityKind = iota
	Identified
)

func (k IdentityKind) String() string {
	if k == Identified {
		return "identified"
	}
	return "anonymous"
}

// Person is a resolved analytics actor within an org.
type Person struct {
	ID           ids.PersonID
	OrgID        ids.OrgID
	Properties   map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedIntoID *ids.PersonID
	MergedAt     *time.Time
}

// IsMerged reports whether this person has been merged into another.
func (p Person) IsMerged() bool {
	return p.MergedIntoID != nil
}

// PersonIdentity links a distinct_id to a person within an org.
type PersonIdentity struct {
	ID         string
	OrgID      ids.OrgID
	DistinctID string
	PersonID   ids.PersonID
	Kind       IdentityKind
	CreatedAt  time.Time
}

// PersonWithIdentities is the result of resolving a distinct_id: the person
// plus every identity currently linked to it.
type PersonWithIdentities struct {
	Person     Person
	Identities []PersonIdentity
}

// MergeReasonKind enumerates why two persons were merged.
type MergeReasonKind int

const (
	MergeReasonIdentify MergeReasonKind = iota
	MergeReasonAlias
	MergeReasonManual
)

// MergeReason records the evidence behind a person merge. Exactly one of
// the field groups is populated depending on Kind.
type MergeReason struct {
	Kind       MergeReasonKind
	DistinctID string // Identify, Alias
	UserID     string // Identify
	Alias      string // Alias
	ByUserID   *ids.UserID
}

// PersonMerge is an immutable audit row for a person merge.
type PersonMerge struct {
	ID       string
	WinnerID ids.PersonID
	LoserID  ids.PersonID
	Reason   MergeReason
	MergedAt time.Time
}

// Event is a single analytics capture.
type Event struct {
	ID         ids.EventID
	OrgID      ids.OrgID
	PersonID   *ids.PersonID
	DistinctID string
	EventName  string
	Properties map[string]interface{}
	Timestamp  time.Time
	IPAddress  secret.Secret[string]
	UserAgent  *string
	Lib        *string
	LibVersion *string
	CreatedAt  time.Time
}

// AnalyticsAPIKey is a persisted analytics API key. The raw key is never
// stored, only its Argon2 hash and the salt used to produce it.
type AnalyticsAPIKey struct {
	ID         string
	OrgID      ids.OrgID
	KeyHash    []byte
	Salt       []byte
	KeyType    ids.AnalyticsKeyType
	Lifecycle  ids.KeyLifecycle
	CreatedAt  time.Time
}

// EventFilter narrows ListEvents. Zero-value fields are unconstrained.
type EventFilter struct {
	PersonID   *ids.PersonID
	DistinctID string
	EventName  string
	Since      *time.Time
	Until      *time.Time
}
