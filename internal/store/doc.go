// Package store persists player opt-out preferences.
//
// A Store wraps one Backend chosen at construction time: an embedded SQLite
// file held over a single connection, a pooled PostgreSQL server, or a
// DynamoDB table. Every backend keeps one record per player id with upsert
// semantics; a missing record reads as "not excluded".
//
// Read and write failures never escape the fail-open methods (IsExcluded,
// SetExcluded, Toggle). They are logged and the call returns false or does
// nothing. Callers that need the error use Lookup and Save instead.
package store
