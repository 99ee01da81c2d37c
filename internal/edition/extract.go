package edition

import (
	"errors"
	"strings"
	"time"
)

// ImageRef points at a cover image: either a fetchable URL or an opaque
// CMS asset id that needs a metadata lookup first.
type ImageRef struct {
	URL     string
	AssetID string
}

// IsZero reports whether the reference is empty.
func (r ImageRef) IsZero() bool {
	return strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.AssetID) == ""
}

// RawExtract is the source-tagged result of a Source Adapter. Each variant
// normalizes itself into an Edition so the upsert engine stays source agnostic.
type RawExtract interface {
	Source() SourceKind
	Key() string
	Date() time.Time
	Headline() string
	Image() ImageRef
	Validate() error
	Normalize(publisher, imageFilename string) Edition
}

var (
	errMissingHeadline = errors.New("missing headline")
	errMissingImage    = errors.New("missing featured image reference")
)

// HTMLExtract is the main article scraped from the edition web page.
type HTMLExtract struct {
	EditionDate time.Time
	Title       string
	Author      string
	Body        string
	Category    string
	ImageURL    string
}

// Source implements RawExtract.
func (HTMLExtract) Source() SourceKind { return SourceHTML }

// Key implements RawExtract.
func (x HTMLExtract) Key() string { return BusinessKey(x.EditionDate) }

// Date implements RawExtract.
func (x HTMLExtract) Date() time.Time { return MidnightUTC(x.EditionDate) }

// Headline implements RawExtract.
func (x HTMLExtract) Headline() string { return x.Title }

// Image implements RawExtract.
func (x HTMLExtract) Image() ImageRef { return ImageRef{URL: x.ImageURL} }

// Validate requires a title and an image URL.
func (x HTMLExtract) Validate() error {
	if strings.TrimSpace(x.Title) == "" {
		return Wrap(KindValidation, x.Key(), errMissingHeadline)
	}
	if strings.TrimSpace(x.ImageURL) == "" {
		return Wrap(KindValidation, x.Key(), errMissingImage)
	}
	return nil
}

// Normalize maps the title to the caption and the body to the kicker.
func (x HTMLExtract) Normalize(publisher, imageFilename string) Edition {
	return Edition{
		BusinessKey:     x.Key(),
		PublicationDate: x.Date(),
		ImageFilename:   imageFilename,
		Caption:         x.Title,
		Kicker:          x.Body,
		PublisherName:   publisher,
	}
}

// CMSExtract is a cover article record returned by the content API.
type CMSExtract struct {
	EditionDate       time.Time
	ContentID         string
	ReferenceHeadline string
	Kicker            string
	Author            string
	Tag               string
	FeaturedImage     string
	ImageDescription  string
	PublishedAt       time.Time
}

// Source implements RawExtract.
func (CMSExtract) Source() SourceKind { return SourceCMS }

// Key implements RawExtract.
func (x CMSExtract) Key() string { return BusinessKey(x.EditionDate) }

// Date implements RawExtract.
func (x CMSExtract) Date() time.Time { return MidnightUTC(x.EditionDate) }

// Headline implements RawExtract.
func (x CMSExtract) Headline() string { return x.ReferenceHeadline }

// Image implements RawExtract.
func (x CMSExtract) Image() ImageRef { return ImageRef{AssetID: x.FeaturedImage} }

// Validate requires a headline and a featured image reference.
func (x CMSExtract) Validate() error {
	if strings.TrimSpace(x.ReferenceHeadline) == "" {
		return Wrap(KindValidation, x.Key(), errMissingHeadline)
	}
	if strings.TrimSpace(x.FeaturedImage) == "" {
		return Wrap(KindValidation, x.Key(), errMissingImage)
	}
	return nil
}

// Normalize maps the CMS headline and kicker onto the edition.
func (x CMSExtract) Normalize(publisher, imageFilename string) Edition {
	return Edition{
		BusinessKey:     x.Key(),
		PublicationDate: x.Date(),
		ImageFilename:   imageFilename,
		Caption:         x.ReferenceHeadline,
		Kicker:          x.Kicker,
		PublisherName:   publisher,
	}
}
