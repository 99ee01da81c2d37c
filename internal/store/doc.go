// Package store defines the document store client used by the upsert engine,
// the gap detector and the read API. Implementations live in
// internal/storage/postgres and internal/storage/memory; this package must
// not import database drivers or concrete clients.
package store
