package html

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Isagog/copertinefull/internal/edition"
)

const (
	candidateSelector = "article.PostCard"
	imageContainerSel = "div.w-full.overflow-hidden.order-1"
	imageSelector     = "img[src*='static.ilmanifesto.it'], img[src*='/cdn-cgi/image']"
	categorySelector  = "a.text-red-500"
	authorSelector    = "span.font-serif.text-sm.italic"
	bodySelector      = "p.body-ns-1"
	overlineSelector  = "span.overline-3"
)

// RenderedMarker appears in the markup of a fully rendered edition page.
const RenderedMarker = "PostCard"

var headingPriority = []string{"h1", "h2", "h3"}

// Extract locates the main front-page article in doc and returns its fields.
// The first candidate with an image container, a CDN image, a category link
// and a heading wins. It returns false when no candidate qualifies.
func Extract(doc *goquery.Document, date time.Time) (edition.HTMLExtract, bool) {
	var main *goquery.Selection
	doc.Find(candidateSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if qualifies(s) {
			main = s
			return false
		}
		return true
	})
	if main == nil {
		return edition.HTMLExtract{}, false
	}

	title := extractTitle(main)
	author := collapse(main.Find(authorSelector).First().Text())
	src, _ := main.Find(imageContainerSel).Find(imageSelector).First().Attr("src")

	return edition.HTMLExtract{
		EditionDate: edition.MidnightUTC(date),
		Title:       title,
		Author:      author,
		Body:        extractBody(main, title, author),
		Category:    collapse(main.Find(categorySelector).First().Text()),
		ImageURL:    strings.TrimSpace(src),
	}, true
}

func qualifies(s *goquery.Selection) bool {
	container := s.Find(imageContainerSel)
	if container.Length() == 0 {
		return false
	}
	if container.Find(imageSelector).Length() == 0 {
		return false
	}
	if s.Find(categorySelector).Length() == 0 {
		return false
	}
	return s.Find("h1, h2, h3").Length() > 0
}

func extractTitle(s *goquery.Selection) string {
	for _, tag := range headingPriority {
		if h := s.Find(tag).First(); h.Length() > 0 {
			if text := collapse(h.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func extractBody(s *goquery.Selection, title, author string) string {
	p := s.Find(bodySelector).First()
	if p.Length() == 0 {
		return ""
	}
	p = p.Clone()
	p.Find(overlineSelector).Remove()
	body := collapse(p.Text())

	if title != "" && strings.HasPrefix(body, title) {
		body = strings.TrimLeft(strings.TrimPrefix(body, title), " \t\n")
	}
	if author != "" && strings.HasPrefix(body, author) {
		body = strings.TrimLeft(strings.TrimPrefix(body, author), " \t\n")
	}
	return body
}

// collapse trims and folds internal whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
