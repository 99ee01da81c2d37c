package edition

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore persists downloaded assets and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Publisher pushes ingestion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDDeriver maps a business key to its deterministic store identifier.
type IDDeriver interface {
	Derive(businessKey string) string
}
