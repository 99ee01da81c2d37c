package cms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// scalar accepts a JSON string, number, bool or null and keeps its text.
// The content API is not consistent about id and reference types.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*s = scalar(str)
	case data[0] == '{' || data[0] == '[':
		// Expanded relations carry an id field; anything else is dropped.
		var rel struct {
			ID scalar `json:"id"`
		}
		if data[0] == '{' && json.Unmarshal(data, &rel) == nil {
			*s = rel.ID
			return nil
		}
		*s = ""
	default:
		*s = scalar(data)
	}
	return nil
}

func (s scalar) String() string { return strings.TrimSpace(string(s)) }

type articleRecord struct {
	ID                   scalar `json:"id"`
	ArticleEdition       scalar `json:"articleEdition"`
	ReferenceHeadline    scalar `json:"referenceHeadline"`
	Headline             scalar `json:"headline"`
	ArticleTag           scalar `json:"articleTag"`
	ArticleKicker        scalar `json:"articleKicker"`
	DatePublished        scalar `json:"datePublished"`
	Author               scalar `json:"author"`
	EditionPosition      scalar `json:"articleEditionPosition"`
	FeaturedImageDesc    scalar `json:"articleFeaturedImageDescription"`
	ArticleFeaturedImage scalar `json:"articleFeaturedImage"`
}

type articlesResponse struct {
	Data []articleRecord `json:"data"`
}

type imageResponse struct {
	Data *struct {
		Image scalar `json:"image"`
	} `json:"data"`
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parsePublished reads datePublished. Values without an offset are taken as
// edition-local wall time, so only the calendar date matters.
func parsePublished(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datePublished %q", s)
}
