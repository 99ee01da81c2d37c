// Package cms is the source adapter for the Directus content API.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
)

const fields = "id,articleEdition,referenceHeadline,articleTag,articleKicker,datePublished," +
	"author,headline,articleEditionPosition,articleFeaturedImageDescription,articleFeaturedImage"

// Config addresses the content API.
type Config struct {
	BaseURL    string
	Token      string
	SyncSource string
	// CoverField is the flag marking the front-page article.
	CoverField string
	// ServerSideNonNull pushes the headline/image presence checks into the query.
	ServerSideNonNull bool
}

// Filters narrows a range query.
type Filters struct {
	// Keys restricts the result to these business keys. Empty keeps all.
	Keys []string
}

// Rejection is a record dropped before it reached the pipeline.
type Rejection struct {
	Key       string
	ContentID string
	Err       error
}

// Batch is the outcome of one range query.
type Batch struct {
	Extracts []edition.CMSExtract
	Rejected []Rejection
}

// Adapter queries cover articles and resolves their images.
type Adapter struct {
	cfg     Config
	base    *url.URL
	fetcher edition.Fetcher
	logger  *zap.Logger
}

// New constructs an Adapter.
func New(cfg Config, fetcher edition.Fetcher, logger *zap.Logger) (*Adapter, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid cms base url %q", cfg.BaseURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("cms token is required")
	}
	if cfg.SyncSource == "" {
		cfg.SyncSource = "wp"
	}
	if cfg.CoverField == "" {
		cfg.CoverField = "articlePositionCover"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, base: base, fetcher: fetcher, logger: logger}, nil
}

// ArticlesURL builds the range query URL.
func (a *Adapter) ArticlesURL(start, end time.Time) string {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("filter[syncSource][_eq]", a.cfg.SyncSource)
	q.Set(fmt.Sprintf("filter[%s][_eq]", a.cfg.CoverField), "1")
	q.Set("filter[datePublished][_gte]", start.Format(edition.ISODateLayout)+"T00:00:00")
	q.Set("filter[datePublished][_lte]", end.Format(edition.ISODateLayout)+"T23:59:59")
	if a.cfg.ServerSideNonNull {
		q.Set("filter[referenceHeadline][_nnull]", "true")
		q.Set("filter[articleFeaturedImage][_nnull]", "true")
	}
	q.Set("sort", "-datePublished")
	q.Set("limit", "-1")
	return a.cfg.BaseURL + "/items/articles?" + q.Encode()
}

// FetchEditionsInRange issues one query for [start, end] and returns at most
// one extract per business key, in ascending date order.
func (a *Adapter) FetchEditionsInRange(ctx context.Context, start, end time.Time, filters Filters) (Batch, error) {
	start, end = edition.MidnightUTC(start), edition.MidnightUTC(end)
	if end.Before(start) {
		start, end = end, start
	}
	var wanted map[string]struct{}
	if len(filters.Keys) > 0 {
		wanted = make(map[string]struct{}, len(filters.Keys))
		for _, k := range filters.Keys {
			wanted[k] = struct{}{}
		}
	}

	var payload articlesResponse
	if err := a.getJSON(ctx, a.ArticlesURL(start, end), &payload); err != nil {
		return Batch{}, err
	}
	a.logger.Info("CMS articles fetched",
		zap.String("start", start.Format(edition.ISODateLayout)),
		zap.String("end", end.Format(edition.ISODateLayout)),
		zap.Int("records", len(payload.Data)),
	)

	var batch Batch
	seen := make(map[string]struct{})
	for _, rec := range payload.Data {
		extract, err := toExtract(rec)
		if err != nil {
			a.logger.Error("CMS record has unusable datePublished",
				zap.String("content_id", rec.ID.String()), zap.Error(err))
			batch.Rejected = append(batch.Rejected, Rejection{
				ContentID: rec.ID.String(),
				Err:       edition.Wrap(edition.KindValidation, "", err),
			})
			continue
		}
		key := extract.Key()
		if wanted != nil {
			if _, ok := wanted[key]; !ok {
				continue
			}
		}
		logger := a.logger.With(zap.String("edition_id", key), zap.String("content_id", extract.ContentID))
		if _, dup := seen[key]; dup {
			logger.Warn("Duplicate CMS record for edition, skipping")
			continue
		}
		seen[key] = struct{}{}

		if err := extract.Validate(); err != nil {
			logger.Error("CMS record rejected", zap.Error(err))
			batch.Rejected = append(batch.Rejected, Rejection{Key: key, ContentID: extract.ContentID, Err: err})
			continue
		}
		if extract.Kicker == "" {
			logger.Warn("CMS record has no kicker")
		}
		batch.Extracts = append(batch.Extracts, extract)
	}

	sort.SliceStable(batch.Extracts, func(i, j int) bool {
		return batch.Extracts[i].EditionDate.Before(batch.Extracts[j].EditionDate)
	})
	return batch, nil
}

// ResolveImage looks up an image record and returns the asset download URL.
func (a *Adapter) ResolveImage(ctx context.Context, assetID string) (string, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return "", edition.Errorf(edition.KindAssetResolve, "", "empty asset id")
	}
	var payload imageResponse
	err := a.getJSON(ctx, a.cfg.BaseURL+"/items/images/"+url.PathEscape(assetID), &payload)
	if err != nil {
		if edition.KindOf(err) == edition.KindNetwork {
			return "", err
		}
		return "", edition.Wrap(edition.KindAssetResolve, "", fmt.Errorf("image %s: %w", assetID, err))
	}
	if payload.Data == nil || payload.Data.Image.String() == "" {
		return "", edition.Errorf(edition.KindAssetResolve, "", "image %s has no asset field", assetID)
	}
	return a.cfg.BaseURL + "/assets/" + url.PathEscape(payload.Data.Image.String()), nil
}

// HeadersFor returns the credentials to send with rawURL. Only the content
// API host receives the bearer token.
func (a *Adapter) HeadersFor(rawURL string) http.Header {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Host, a.base.Host) {
		return nil
	}
	return a.authHeaders()
}

func (a *Adapter) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.cfg.Token)
	h.Set("Accept", "application/json")
	return h
}

func (a *Adapter) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := a.fetcher.Fetch(ctx, edition.FetchRequest{URL: rawURL, Headers: a.authHeaders()})
	if err != nil {
		return edition.Wrap(edition.KindNetwork, "", fmt.Errorf("cms request: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return edition.Errorf(edition.KindNetwork, "", "cms returned status %d", resp.StatusCode)
	default:
		return fmt.Errorf("cms returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode cms response: %w", err)
	}
	return nil
}

func toExtract(rec articleRecord) (edition.CMSExtract, error) {
	published, err := parsePublished(rec.DatePublished.String())
	if err != nil {
		return edition.CMSExtract{}, err
	}
	headline := rec.ReferenceHeadline.String()
	return edition.CMSExtract{
		EditionDate:       edition.MidnightUTC(published),
		ContentID:         rec.ID.String(),
		ReferenceHeadline: headline,
		Kicker:            rec.ArticleKicker.String(),
		Author:            rec.Author.String(),
		Tag:               rec.ArticleTag.String(),
		FeaturedImage:     rec.ArticleFeaturedImage.String(),
		ImageDescription:  rec.FeaturedImageDesc.String(),
		PublishedAt:       published,
	}, nil
}
