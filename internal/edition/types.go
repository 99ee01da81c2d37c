package edition

import (
	"fmt"
	"net/http"
	"time"
)

// Persisted property names. Existing readers query these fields, so they must stay stable.
const (
	PropPublisher       = "testataName"
	PropBusinessKey     = "editionId"
	PropPublicationDate = "editionDateIsoStr"
	PropImageFilename   = "editionImageFnStr"
	PropCaption         = "captionStr"
	PropKicker          = "kickerStr"
	PropAICaption       = "captionAIStr"
	PropAIImageDesc     = "imageAIDeStr"
	PropAIModel         = "modelAIName"
)

// SourceKind identifies which upstream produced an extract.
type SourceKind string

// Supported sources.
const (
	SourceHTML SourceKind = "html"
	SourceCMS  SourceKind = "cms"
)

// ParseSourceKind validates a user supplied source name.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceHTML, SourceCMS:
		return SourceKind(s), nil
	default:
		return "", fmt.Errorf("unknown source %q (want html or cms)", s)
	}
}

// Edition is one calendar day's front-page record.
type Edition struct {
	BusinessKey        string
	StoreID            string
	PublicationDate    time.Time
	ImageFilename      string
	Caption            string
	Kicker             string
	PublisherName      string
	AICaption          string
	AIImageDescription string
	AIModelName        string
}

// Enriched reports whether the AI enrichment step already annotated the record.
func (e Edition) Enriched() bool {
	return e.AICaption != "" || e.AIImageDescription != ""
}

// Properties renders the edition as the document stored under StoreID.
// AI fields are only written when present.
func (e Edition) Properties() map[string]any {
	props := map[string]any{
		PropPublisher:       e.PublisherName,
		PropBusinessKey:     e.BusinessKey,
		PropPublicationDate: e.PublicationDate.UTC().Format(time.RFC3339),
		PropImageFilename:   e.ImageFilename,
		PropCaption:         e.Caption,
		PropKicker:          e.Kicker,
	}
	if e.AICaption != "" {
		props[PropAICaption] = e.AICaption
	}
	if e.AIImageDescription != "" {
		props[PropAIImageDesc] = e.AIImageDescription
	}
	if e.AIModelName != "" {
		props[PropAIModel] = e.AIModelName
	}
	return props
}

// FromProperties rebuilds an Edition from a stored document.
func FromProperties(id string, props map[string]any) (Edition, error) {
	key := stringProp(props, PropBusinessKey)
	if key == "" {
		return Edition{}, fmt.Errorf("document %s has no %s", id, PropBusinessKey)
	}
	ed := Edition{
		BusinessKey:        key,
		StoreID:            id,
		ImageFilename:      stringProp(props, PropImageFilename),
		Caption:            stringProp(props, PropCaption),
		Kicker:             stringProp(props, PropKicker),
		PublisherName:      stringProp(props, PropPublisher),
		AICaption:          stringProp(props, PropAICaption),
		AIImageDescription: stringProp(props, PropAIImageDesc),
		AIModelName:        stringProp(props, PropAIModel),
	}
	if raw := stringProp(props, PropPublicationDate); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Edition{}, fmt.Errorf("parse %s of %s: %w", PropPublicationDate, key, err)
		}
		ed.PublicationDate = ts.UTC()
	} else {
		date, err := ParseBusinessKey(key)
		if err != nil {
			return Edition{}, err
		}
		ed.PublicationDate = date
	}
	return ed, nil
}

func stringProp(props map[string]any, name string) string {
	if v, ok := props[name].(string); ok {
		return v
	}
	return ""
}

// FetchRequest describes a single HTTP fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the result of a fetch. Every HTTP status is
// reported here; only transport failures surface as errors.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// IngestedEvent is published after an edition has been committed.
type IngestedEvent struct {
	BusinessKey   string     `json:"edition_id"`
	StoreID       string     `json:"store_id"`
	ImageFilename string     `json:"image_filename"`
	Source        SourceKind `json:"source"`
	Replaced      bool       `json:"replaced"`
	IngestedAt    time.Time  `json:"ingested_at"`
}

// Attributes are the message attributes subscribers filter on.
func (e IngestedEvent) Attributes() map[string]string {
	return map[string]string{
		"edition_id": e.BusinessKey,
		"source":     string(e.Source),
	}
}
