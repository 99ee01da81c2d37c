// Package detector decides when a plain fetch of an edition page must be
// repeated in a headless browser.
package detector

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/Isagog/copertinefull/internal/edition"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// RequiredMarker must appear in a fully rendered page. Empty disables the check.
	RequiredMarker []byte
}

// NewHeuristic creates a new detector. A zero threshold means 2048 bytes.
func NewHeuristic(threshold int, requiredMarker string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	h := &Heuristic{BodyLengthThreshold: threshold}
	if requiredMarker != "" {
		h.RequiredMarker = []byte(requiredMarker)
	}
	return h
}

// Markers of client-rendered shells.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("__NUXT__"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp edition.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(h.RequiredMarker) > 0 && !bytes.Contains(body, h.RequiredMarker) {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether inline scripts make up at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text()) + len("<script></script>")
	})
	if scripts == 0 {
		return false
	}
	return scripts*100/len(body) >= 25
}
