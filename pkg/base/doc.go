// Package base is the client for Deta Base, the document store.
//
// A Client is bound to one project; Client.Base returns a handle on a named
// Base. Query and FetchAll transparently follow the service's continuation
// cursor and return the complete, ordered result set. Put, Insert, Update,
// Get, Delete and DeleteMany cover single-item operations.
//
// Records are plain map[string]any values; mapping them into application
// types is left to the caller.
package base
