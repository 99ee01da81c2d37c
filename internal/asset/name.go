package asset

import (
	"mime"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Isagog/copertinefull/internal/edition"
)

// DefaultExtension is used when the content type is missing or unknown.
const DefaultExtension = ".jpg"

const (
	emptySlug   = "no-headline"
	maxSlugSize = 80
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	extensions = map[string]string{
		"image/jpeg":    ".jpg",
		"image/jpg":     ".jpg",
		"image/pjpeg":   ".jpg",
		"image/png":     ".png",
		"image/webp":    ".webp",
		"image/gif":     ".gif",
		"image/avif":    ".avif",
		"image/svg+xml": ".svg",
	}
)

// Slugify lowercases s, folds accents to ASCII and collapses every run of
// other characters into one hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) > maxSlugSize {
		slug = strings.TrimRight(slug[:maxSlugSize], "-")
	}
	return slug
}

// BaseName is the extensionless asset name for an edition:
// {publisher}_{YYYY-MM-DD}_{headline slug}.
func BaseName(publisherSlug string, date time.Time, headline string) string {
	slug := Slugify(headline)
	if slug == "" {
		slug = emptySlug
	}
	return publisherSlug + "_" + date.Format(edition.ISODateLayout) + "_" + slug
}

// ExtensionFor maps a Content-Type header to a file extension.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DefaultExtension
	}
	if ext, ok := extensions[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return DefaultExtension
}
