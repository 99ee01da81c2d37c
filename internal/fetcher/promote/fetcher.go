// Package promote combines a cheap primary fetcher with a headless fallback.
package promote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
)

// Detector decides whether a primary response needs a headless re-fetch.
type Detector interface {
	ShouldPromote(resp edition.FetchResponse) bool
}

// Fetcher implements edition.Fetcher. Requests go to the primary first and are
// repeated against the headless fetcher when the detector asks for it.
type Fetcher struct {
	primary  edition.Fetcher
	headless edition.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting fetcher. headless may be nil, in which case primary
// responses are returned as-is.
func New(primary, headless edition.Fetcher, detector Detector, logger *zap.Logger) (*Fetcher, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary fetcher is required")
	}
	if headless != nil && detector == nil {
		return nil, fmt.Errorf("detector is required with a headless fetcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, headless: headless, detector: detector, logger: logger}, nil
}

// Fetch performs the primary and promotes when needed. A failed headless
// attempt falls back to the primary response.
func (f *Fetcher) Fetch(ctx context.Context, req edition.FetchRequest) (edition.FetchResponse, error) {
	resp, err := f.primary.Fetch(ctx, req)
	if err != nil {
		return edition.FetchResponse{}, fmt.Errorf("primary fetch: %w", err)
	}
	if f.headless == nil || !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	f.logger.Debug("Promoting fetch to headless", zap.String("url", req.URL))
	rendered, err := f.headless.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return edition.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
		}
		f.logger.Warn("Headless fetch failed, using primary response", zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
