// Package core defines the fundamental types shared by the searchflight
// client and server.
package core

import (
	"context"
	"time"
)

// User is a read-only record served by the search endpoint.
type User struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// FullName returns "First Last".
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// SearchParams is the body of a POST /search request.
type SearchParams struct {
	Query string `json:"query"`
	Delay *int   `json:"delay,omitempty"` // milliseconds
}

// NewSearchParams builds params with an optional delay. A negative delay
// means "no delay".
func NewSearchParams(query string, delayMs int) SearchParams {
	p := SearchParams{Query: query}
	if delayMs >= 0 {
		d := delayMs
		p.Delay = &d
	}
	return p
}

// SearchResult is the body of a successful search response.
// Total always equals len(Data); results are never paginated.
type SearchResult struct {
	Data  []User `json:"data"`
	Total int    `json:"total"`
}

// NewSearchResult wraps users in a result with a consistent total.
func NewSearchResult(users []User) SearchResult {
	if users == nil {
		users = []User{}
	}
	return SearchResult{Data: users, Total: len(users)}
}

// ErrorBody is the body of every non-2xx search response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Event is a single outcome observed by a client session.
type Event struct {
	Session    int
	Revision   Revision
	Timestamp  time.Time
	Query      string
	Kind       Kind
	Duration   time.Duration
	StatusCode int
	Message    string
}

// Reporter receives events from sessions.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

type contextKey string

const sessionIDContextKey contextKey = "sessionID"

func ContextWithSessionID(ctx context.Context, sessionID int) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

func SessionIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(sessionIDContextKey).(int); ok {
		return id
	}
	return 0
}

// HeaderRequestID carries the correlation id between client and server.
const HeaderRequestID = "X-Request-Id"

// Reply is a settled HTTP exchange as seen by the client.
type Reply struct {
	StatusCode int
	Status     string
	Body       []byte
	RequestID  string
	Duration   time.Duration
}

// OK reports whether the status is 2xx.
func (r Reply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
