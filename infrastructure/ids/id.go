// Package ids defines Loom's typed entity identifiers and its analytics/SDK
// API key parsing and generation.
package ids

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	gofrsuuid "github.com/gofrs/uuid/v5"
)

// kind distinguishes ID[K] instantiations at the type level so that, for
// example, an OrgID and a PersonID are not interchangeable even though both
// wrap a uuid.UUID.
type kind interface {
	label() string
}

type orgKind struct{}

func (orgKind) label() string { return "org" }

type personKind struct{}

func (personKind) label() string { return "person" }

type eventKind struct{}

func (eventKind) label() string { return "event" }

type projectKind struct{}

func (projectKind) label() string { return "project" }

type monitorKind struct{}

func (monitorKind) label() string { return "monitor" }

type userKind struct{}

func (userKind) label() string { return "user" }

type artifactKind struct{}

func (artifactKind) label() string { return "artifact" }

type sessionKind struct{}

func (sessionKind) label() string { return "session" }

// ID is a UUID newtype parameterized by a marker kind, so the compiler
// rejects passing a PersonID where an OrgID is expected even though both are
// backed by the same representation.
type ID[K kind] struct {
	uuid uuid.UUID
}

// New generates a random (v4) ID of the given kind.
func New[K kind]() ID[K] {
	return ID[K]{uuid: uuid.New()}
}

// Parse parses a canonical hyphenated UUID string into an ID of the given
// kind.
func Parse[K kind](s string) (ID[K], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		var zero K
		return ID[K]{}, fmt.Errorf("parse %s id %q: %w", zero.label(), s, err)
	}
	return ID[K]{uuid: u}, nil
}

// MustParse is Parse but panics on error; reserved for constants and tests.
func MustParse[K kind](s string) ID[K] {
	id, err := Parse[K](s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the id in canonical hyphenated form.
func (id ID[K]) String() string {
	return id.uuid.String()
}

// UUID exposes the underlying uuid.UUID, for code that needs to hand it to a
// generic UUID-typed column or API.
func (id ID[K]) UUID() uuid.UUID {
	return id.uuid
}

// IsNil reports whether the id is the zero UUID (unset).
func (id ID[K]) IsNil() bool {
	return id.uuid == uuid.Nil
}

// Compare provides a total order over IDs of the same kind, used for the
// identity-resolution winner tie-break (smaller id wins).
func (id ID[K]) Compare(other ID[K]) int {
	for i := range id.uuid {
		if id.uuid[i] != other.uuid[i] {
			if id.uuid[i] < other.uuid[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (id ID[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.uuid.String())
}

func (id *ID[K]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	id.uuid = u
	return nil
}

// Value implements driver.Valuer so IDs can be bound directly as query
// parameters against the sqlx-backed analytics store.
func (id ID[K]) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.uuid.String(), nil
}

// Scan implements sql.Scanner for reading UUID columns back into an ID.
func (id *ID[K]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID[K]{}
		return nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.uuid = u
		return nil
	case []byte:
		u, err := uuid.Parse(string(v))
		if err != nil {
			return err
		}
		id.uuid = u
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ids.ID", src)
	}
}

// OrgID identifies a tenant organization, the root of all data isolation.
type OrgID = ID[orgKind]

// PersonID identifies a resolved person within an org.
type PersonID = ID[personKind]

// ProjectID identifies a project (crash/release grouping) within an org.
type ProjectID = ID[projectKind]

// MonitorID identifies a cron monitor within an org.
type MonitorID = ID[monitorKind]

// UserID identifies an authenticated operator user.
type UserID = ID[userKind]

// ArtifactID identifies a crash artifact (source map, debug file) within a
// project.
type ArtifactID = ID[artifactKind]

// EventID identifies an analytics event. Event ids are generated with
// NewEventID, not New, because they use UUIDv7 for time-ordered index
// locality rather than UUIDv4.
type EventID = ID[eventKind]

// SessionID identifies a release-health SDK session. Like EventID, it is
// generated with NewSessionID using UUIDv7 rather than New.
type SessionID = ID[sessionKind]

// New[K] requires K to satisfy the unexported kind interface, so packages
// outside ids cannot instantiate it for any kind directly. The following
// thin wrappers are the actual entry points external code uses.

// NewOrgID generates a random org id.
func NewOrgID() OrgID { return New[orgKind]() }

// NewPersonID generates a random person id.
func NewPersonID() PersonID { return New[personKind]() }

// NewProjectID generates a random project id.
func NewProjectID() ProjectID { return New[projectKind]() }

// NewMonitorID generates a random monitor id.
func NewMonitorID() MonitorID { return New[monitorKind]() }

// NewUserID generates a random user id.
func NewUserID() UserID { return New[userKind]() }

// NewArtifactID generates a random artifact id.
func NewArtifactID() ArtifactID { return New[artifactKind]() }

// ParseOrgID parses a canonical org id string.
func ParseOrgID(s string) (OrgID, error) { return Parse[orgKind](s) }

// ParsePersonID parses a canonical person id string.
func ParsePersonID(s string) (PersonID, error) { return Parse[personKind](s) }

// ParseProjectID parses a canonical project id string.
func ParseProjectID(s string) (ProjectID, error) { return Parse[projectKind](s) }

// ParseMonitorID parses a canonical monitor id string.
func ParseMonitorID(s string) (MonitorID, error) { return Parse[monitorKind](s) }

// ParseUserID parses a canonical user id string.
func ParseUserID(s string) (UserID, error) { return Parse[userKind](s) }

// ParseArtifactID parses a canonical artifact id string.
func ParseArtifactID(s string) (ArtifactID, error) { return Parse[artifactKind](s) }

// NewEventID generates a time-ordered (v7) event id via gofrs/uuid, the
// sibling UUID library the pack reaches for when v7 generation is needed.
func NewEventID() (EventID, error) {
	v7, err := gofrsuuid.NewV7()
	if err != nil {
		return EventID{}, fmt.Errorf("generate event id: %w", err)
	}
	u, err := uuid.FromBytes(v7.Bytes())
	if err != nil {
		return EventID{}, fmt.Errorf("convert event id: %w", err)
	}
	return EventID{uuid: u}, nil
}

// ParseEventID parses a canonical event id string.
func ParseEventID(s string) (EventID, error) {
	return Parse[eventKind](s)
}

// NewSessionID generates a time-ordered (v7) session id, following the
// same gofrs/uuid conversion NewEventID uses.
func NewSessionID() (SessionID, error) {
	v7, err := gofrsuuid.NewV7()
	if err != nil {
		return SessionID{}, fmt.Errorf("generate session id: %w", err)
	}
	u, err := uuid.FromBytes(v7.Bytes())
	if err != nil {
		return SessionID{}, fmt.Errorf("convert session id: %w", err)
	}
	return SessionID{uuid: u}, nil
}

// ParseSessionID parses a canonical session id string.
func ParseSessionID(s string) (SessionID, error) {
	return Parse[sessionKind](s)
}
