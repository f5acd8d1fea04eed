// Package query implements the server-query bridge: a server issues a
// typed request to a connected client and awaits a typed response,
// correlated by id, with observable telemetry and a bounded trace store.
package query

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// QueryType labels a query for metrics and trace filtering.
type QueryType string

// Query is a typed request sent to a connected client.
type Query struct {
	ID          string
	Type        QueryType
	Payload     interface{}
	TimeoutSecs int
}

// Response is a client's reply to a Query, correlated by QueryID.
type Response struct {
	QueryID string
	Payload interface{}
	Err     *string
}

// ErrSessionGone is returned when the target session is not connected, or
// disconnects while a query is in flight.
var ErrSessionGone = errors.New("query: session gone")

// ErrTimeout is returned when a query's deadline elapses with no response.
var ErrTimeout = errors.New("query: timed out")

// NewQueryID generates a query id: "Q-" followed by 32 lowercase hex
// digits, 34 characters total.
func NewQueryID() string {
	id := uuid.New()
	return "Q-" + hex.EncodeToString(id[:])
}

// NewTraceID generates a trace id: "TRACE-" followed by an opaque suffix.
func NewTraceID() string {
	return "TRACE-" + uuid.New().String()
}
