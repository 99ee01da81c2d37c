// Package html is the source adapter for the newspaper's edition web page.
package html

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
)

// Limiter blocks until a request to rawURL's host may start.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config describes where edition pages live.
type Config struct {
	// SiteOrigin is the scheme and host, e.g. https://ilmanifesto.it.
	SiteOrigin string
	// EditionPath is a path template taking the DD-MM-YYYY business key.
	EditionPath string
}

// Adapter fetches and parses one edition page per date.
type Adapter struct {
	cfg     Config
	fetcher edition.Fetcher
	limiter Limiter
	logger  *zap.Logger
}

// New constructs an Adapter. A nil limiter disables spacing.
func New(cfg Config, fetcher edition.Fetcher, limiter Limiter, logger *zap.Logger) (*Adapter, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	cfg.SiteOrigin = strings.TrimRight(cfg.SiteOrigin, "/")
	if cfg.SiteOrigin == "" {
		return nil, errors.New("site origin is required")
	}
	if !strings.Contains(cfg.EditionPath, "%s") {
		return nil, fmt.Errorf("edition path %q must contain %%s", cfg.EditionPath)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, limiter: limiter, logger: logger}, nil
}

// Origin returns the configured site origin.
func (a *Adapter) Origin() string { return a.cfg.SiteOrigin }

// EditionURL returns the page URL for date.
func (a *Adapter) EditionURL(date time.Time) string {
	return a.cfg.SiteOrigin + fmt.Sprintf(a.cfg.EditionPath, edition.BusinessKey(date))
}

// FetchEdition fetches the page for date and extracts its main article.
// A non-200 page or a page without a qualifying article is NotFound.
func (a *Adapter) FetchEdition(ctx context.Context, date time.Time) (edition.HTMLExtract, error) {
	key := edition.BusinessKey(date)
	pageURL := a.EditionURL(date)
	logger := a.logger.With(zap.String("edition_id", key), zap.String("url", pageURL))

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, pageURL); err != nil {
			return edition.HTMLExtract{}, edition.Wrap(edition.KindNetwork, key, err)
		}
	}

	resp, err := a.fetcher.Fetch(ctx, edition.FetchRequest{URL: pageURL})
	if err != nil {
		return edition.HTMLExtract{}, edition.Wrap(edition.KindNetwork, key, fmt.Errorf("fetch edition page: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		logger.Info("Edition page not available", zap.Int("status", resp.StatusCode))
		return edition.HTMLExtract{}, edition.Errorf(edition.KindNotFound, key, "edition page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return edition.HTMLExtract{}, edition.Wrap(edition.KindNotFound, key, fmt.Errorf("parse edition page: %w", err))
	}
	extract, ok := Extract(doc, date)
	if !ok {
		logger.Info("No qualifying main article on page")
		return edition.HTMLExtract{}, edition.Errorf(edition.KindNotFound, key, "no qualifying main article")
	}
	extract.ImageURL = a.AbsoluteURL(extract.ImageURL)
	logger.Debug("Main article extracted",
		zap.String("title", extract.Title),
		zap.String("image_url", extract.ImageURL),
	)
	return extract, nil
}

// AbsoluteURL prefixes site-relative paths with the site origin.
func (a *Adapter) AbsoluteURL(ref string) string {
	switch {
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/"):
		return a.cfg.SiteOrigin + ref
	default:
		return ref
	}
}
