// Package asset resolves cover image references, downloads the bytes and
// stores them under a deterministic name.
package asset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/metrics"
)

// ImageResolver turns an opaque asset id into a download URL.
type ImageResolver interface {
	ResolveImage(ctx context.Context, assetID string) (string, error)
	HeadersFor(rawURL string) http.Header
}

// Config holds resolver settings.
type Config struct {
	// SiteOrigin prefixes site-relative image paths.
	SiteOrigin string
}

// Resolver implements ResolveAndDownload.
type Resolver struct {
	cfg     Config
	fetcher edition.Fetcher
	blobs   edition.BlobStore
	images  ImageResolver
	logger  *zap.Logger
}

// New constructs a Resolver. images may be nil when only URL references are
// expected.
func New(cfg Config, fetcher edition.Fetcher, blobs edition.BlobStore, images ImageResolver, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SiteOrigin = strings.TrimRight(cfg.SiteOrigin, "/")
	return &Resolver{cfg: cfg, fetcher: fetcher, blobs: blobs, images: images, logger: logger}, nil
}

// ResolveAndDownload fetches the image behind ref and stores it as baseName
// plus an extension inferred from the response. The returned filename is only
// reported after the blob store confirms the write.
func (r *Resolver) ResolveAndDownload(ctx context.Context, ref edition.ImageRef, baseName string) (string, error) {
	if baseName == "" {
		return "", errors.New("base name is required")
	}
	source := string(edition.SourceHTML)
	downloadURL, err := r.resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if ref.URL == "" {
		source = string(edition.SourceCMS)
	}
	logger := r.logger.With(zap.String("url", downloadURL), zap.String("base_name", baseName))

	req := edition.FetchRequest{URL: downloadURL}
	if r.images != nil {
		req.Headers = r.images.HeadersFor(downloadURL)
	}
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return "", edition.Wrap(edition.KindNetwork, "", fmt.Errorf("download image: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", edition.Errorf(edition.KindAssetDownload, "", "image download returned status %d", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return "", edition.Errorf(edition.KindAssetDownload, "", "image download returned an empty body")
	}

	contentType := resp.ContentType()
	filename := baseName + ExtensionFor(contentType)
	uri, err := r.blobs.PutObject(ctx, filename, contentType, resp.Body)
	if err != nil {
		return "", edition.Wrap(edition.KindAssetWrite, "", fmt.Errorf("store %s: %w", filename, err))
	}
	ok, err := r.blobs.Exists(ctx, filename)
	if err != nil {
		return "", edition.Wrap(edition.KindAssetWrite, "", fmt.Errorf("confirm %s: %w", filename, err))
	}
	if !ok {
		return "", edition.Errorf(edition.KindAssetWrite, "", "%s missing after write", filename)
	}

	metrics.ObserveAssetBytes(source, len(resp.Body))
	logger.Info("Image stored",
		zap.String("filename", filename),
		zap.String("uri", uri),
		zap.Int("bytes", len(resp.Body)),
	)
	return filename, nil
}

func (r *Resolver) resolve(ctx context.Context, ref edition.ImageRef) (string, error) {
	switch {
	case strings.TrimSpace(ref.URL) != "":
		return r.absolute(strings.TrimSpace(ref.URL)), nil
	case strings.TrimSpace(ref.AssetID) != "":
		if r.images == nil {
			return "", edition.Errorf(edition.KindAssetResolve, "", "no image resolver for asset %s", ref.AssetID)
		}
		u, err := r.images.ResolveImage(ctx, ref.AssetID)
		if err != nil {
			if kind := edition.KindOf(err); kind == edition.KindNetwork || kind == edition.KindAssetResolve {
				return "", err
			}
			return "", edition.Wrap(edition.KindAssetResolve, "", err)
		}
		return u, nil
	default:
		return "", edition.Errorf(edition.KindAssetResolve, "", "empty image reference")
	}
}

func (r *Resolver) absolute(ref string) string {
	switch {
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/") && r.cfg.SiteOrigin != "":
		return r.cfg.SiteOrigin + ref
	default:
		return ref
	}
}
