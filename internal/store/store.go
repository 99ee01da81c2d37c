package store

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by Insert when the caller-supplied id already exists.
	ErrConflict = errors.New("object id already exists")
	// ErrNotFound is returned by Replace and DeleteByID when the id is absent.
	ErrNotFound = errors.New("object not found")
)

// Object is a stored document.
type Object struct {
	ID         string
	Properties map[string]any
}

// String returns a string property, or "" when missing or not a string.
func (o Object) String(name string) string {
	if v, ok := o.Properties[name].(string); ok {
		return v
	}
	return ""
}

// Order is the sort direction of a range query.
type Order int

// Sort orders.
const (
	Ascending Order = iota
	Descending
)

// Range selects objects whose Field lies in [GTE, LTE]. Empty bounds are open.
// Values are compared as strings, so they must be fixed-width (e.g. RFC 3339 UTC).
type Range struct {
	Field string
	GTE   string
	LTE   string
	Order Order
}

// Client is the document store seen by the pipeline.
type Client interface {
	// EnsureCollection creates backing structures if needed. It also proves the
	// store is reachable, so callers treat its failure as fatal.
	EnsureCollection(ctx context.Context, collection string) error
	QueryByField(ctx context.Context, collection, field, value string, limit int) ([]Object, error)
	QueryByRange(ctx context.Context, collection string, r Range, limit int) ([]Object, error)
	List(ctx context.Context, collection string, limit int) ([]Object, error)
	// Insert stores properties under id, or under a generated id when id is
	// empty. An existing id yields ErrConflict; it is never overwritten.
	Insert(ctx context.Context, collection, id string, properties map[string]any) (string, error)
	Replace(ctx context.Context, collection, id string, properties map[string]any) error
	DeleteByID(ctx context.Context, collection, id string) error
	Close()
}
