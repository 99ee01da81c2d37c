// Package pipeline orchestrates ingestion runs: it resolves the dates of a
// run, drives the selected source, downloads assets and upserts editions,
// sequentially, one date at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/asset"
	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/metrics"
	"github.com/Isagog/copertinefull/internal/source/cms"
	"github.com/Isagog/copertinefull/internal/upsert"
)

// HTMLSource fetches one edition page.
type HTMLSource interface {
	FetchEdition(ctx context.Context, date time.Time) (edition.HTMLExtract, error)
}

// CMSSource queries cover records for a date range.
type CMSSource interface {
	FetchEditionsInRange(ctx context.Context, start, end time.Time, filters cms.Filters) (cms.Batch, error)
}

// AssetResolver downloads and stores a cover image.
type AssetResolver interface {
	ResolveAndDownload(ctx context.Context, ref edition.ImageRef, baseName string) (string, error)
}

// Upserter writes one edition per business key.
type Upserter interface {
	Upsert(ctx context.Context, key string, ed edition.Edition) (upsert.Result, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Clock supplies the current time and calendar day.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

// Config holds orchestrator settings.
type Config struct {
	PublisherName string
	// PublisherSlug prefixes asset names. Derived from PublisherName when empty.
	PublisherSlug string
	// Topic receives ingestion events. Empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Pipeline. HTML and CMS may each be nil
// when that source is not configured.
type Deps struct {
	HTML      HTMLSource
	CMS       CMSSource
	Assets    AssetResolver
	Engine    Upserter
	Publisher edition.Publisher
	Clock     Clock
	Retry     RetryPolicy
}

// Failure records one failed date.
type Failure struct {
	Key  string
	Kind edition.Kind
	Err  error
}

// RunStats summarizes a run. Attempted always equals Skipped + Succeeded + Failed.
type RunStats struct {
	Attempted   int
	Skipped     int
	Succeeded   int
	Failed      int
	Failures    []Failure
	Interrupted bool
}

// Pipeline runs ingestion.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New constructs a Pipeline.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Assets == nil {
		return nil, errors.New("asset resolver is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("upsert engine is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.Retry == nil {
		deps.Retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.PublisherName == "" {
		return nil, errors.New("publisher name is required")
	}
	if cfg.PublisherSlug == "" {
		cfg.PublisherSlug = asset.Slugify(cfg.PublisherName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger, sleep: sleepContext}, nil
}

// Run ingests every date named by sel from source. Per-date failures are
// counted in the returned stats; only an unusable selector or source is an
// error. Cancellation stops the run between dates.
func (p *Pipeline) Run(ctx context.Context, sel Selector, source edition.SourceKind, policy Policy) (RunStats, error) {
	var stats RunStats
	switch source {
	case edition.SourceHTML:
		if p.deps.HTML == nil {
			return stats, errors.New("html source is not configured")
		}
	case edition.SourceCMS:
		if p.deps.CMS == nil {
			return stats, errors.New("cms source is not configured")
		}
	default:
		return stats, fmt.Errorf("unknown source %q", source)
	}

	dates, err := sel.Resolve(p.deps.Clock.Today(), p.logger)
	if err != nil {
		return stats, fmt.Errorf("resolve dates: %w", err)
	}
	retry := p.deps.Retry
	if !sel.Batch() {
		retry = noRetry{}
	}

	logger := p.logger.With(zap.String("source", string(source)), zap.Stringer("policy", policy))
	logger.Info("Run started", zap.Stringer("selector", sel.Kind), zap.Int("dates", len(dates)))

	if source == edition.SourceHTML {
		p.runHTML(ctx, dates, policy, retry, &stats)
	} else {
		p.runCMS(ctx, dates, policy, retry, &stats)
	}

	logger.Info("Run finished",
		zap.Int("attempted", stats.Attempted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Bool("interrupted", stats.Interrupted),
	)
	return stats, nil
}

func (p *Pipeline) runHTML(ctx context.Context, dates []time.Time, policy Policy, retry RetryPolicy, stats *RunStats) {
	for _, date := range dates {
		if ctx.Err() != nil {
			stats.Interrupted = true
			return
		}
		key := edition.BusinessKey(date)
		if skip, err := p.shouldSkip(ctx, key, policy); err != nil || skip {
			p.record(stats, edition.SourceHTML, key, err, skip)
			continue
		}

		var extract edition.HTMLExtract
		err := p.withRetry(ctx, retry, key, func(ctx context.Context) error {
			var ferr error
			extract, ferr = p.deps.HTML.FetchEdition(ctx, date)
			return ferr
		})
		if err == nil {
			err = p.ingest(ctx, extract, retry)
		}
		if interrupted(ctx, err, stats) {
			return
		}
		p.record(stats, edition.SourceHTML, key, err, false)
	}
}

func (p *Pipeline) runCMS(ctx context.Context, dates []time.Time, policy Policy, retry RetryPolicy, stats *RunStats) {
	var (
		candidates []time.Time
		keys       []string
	)
	for _, date := range dates {
		if ctx.Err() != nil {
			stats.Interrupted = true
			return
		}
		key := edition.BusinessKey(date)
		if skip, err := p.shouldSkip(ctx, key, policy); err != nil || skip {
			p.record(stats, edition.SourceCMS, key, err, skip)
			continue
		}
		candidates = append(candidates, date)
		keys = append(keys, key)
	}
	if len(candidates) == 0 {
		return
	}

	start, end := bounds(candidates)
	var batch cms.Batch
	err := p.withRetry(ctx, retry, "", func(ctx context.Context) error {
		var ferr error
		batch, ferr = p.deps.CMS.FetchEditionsInRange(ctx, start, end, cms.Filters{Keys: keys})
		return ferr
	})
	if err != nil {
		if interrupted(ctx, err, stats) {
			return
		}
		for _, key := range keys {
			p.record(stats, edition.SourceCMS, key, err, false)
		}
		return
	}

	extracts := make(map[string]edition.CMSExtract, len(batch.Extracts))
	for _, x := range batch.Extracts {
		extracts[x.Key()] = x
	}
	rejected := make(map[string]error, len(batch.Rejected))
	for _, r := range batch.Rejected {
		if r.Key != "" {
			rejected[r.Key] = r.Err
		}
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			stats.Interrupted = true
			return
		}
		if rerr, ok := rejected[key]; ok {
			p.record(stats, edition.SourceCMS, key, rerr, false)
			continue
		}
		extract, ok := extracts[key]
		if !ok {
			p.record(stats, edition.SourceCMS, key, edition.Errorf(edition.KindNotFound, key, "no cover record"), false)
			continue
		}
		err := p.ingest(ctx, extract, retry)
		if interrupted(ctx, err, stats) {
			return
		}
		p.record(stats, edition.SourceCMS, key, err, false)
	}
}

func (p *Pipeline) shouldSkip(ctx context.Context, key string, policy Policy) (bool, error) {
	if policy != Preserve {
		return false, nil
	}
	exists, err := p.deps.Engine.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ingest validates x, stores its image and upserts the edition. The store
// is never written unless the image write was confirmed.
func (p *Pipeline) ingest(ctx context.Context, x edition.RawExtract, retry RetryPolicy) error {
	key := x.Key()
	if err := x.Validate(); err != nil {
		return err
	}

	baseName := asset.BaseName(p.cfg.PublisherSlug, x.Date(), x.Headline())
	var filename string
	err := p.withRetry(ctx, retry, key, func(ctx context.Context) error {
		var aerr error
		filename, aerr = p.deps.Assets.ResolveAndDownload(ctx, x.Image(), baseName)
		return aerr
	})
	if err != nil {
		return withKey(err, key)
	}

	res, err := p.deps.Engine.Upsert(ctx, key, x.Normalize(p.cfg.PublisherName, filename))
	if err != nil {
		return err
	}
	p.publish(ctx, edition.IngestedEvent{
		BusinessKey:   key,
		StoreID:       res.StoreID,
		ImageFilename: filename,
		Source:        x.Source(),
		Replaced:      res.Replaced || res.Deleted > 0,
		IngestedAt:    p.deps.Clock.Now(),
	})
	return nil
}

func (p *Pipeline) publish(ctx context.Context, event edition.IngestedEvent) {
	if p.cfg.Topic == "" || p.deps.Publisher == nil {
		return
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		p.logger.Warn("Publish ingestion event failed",
			zap.String("edition_id", event.BusinessKey), zap.Error(err))
	}
}

func (p *Pipeline) withRetry(ctx context.Context, retry RetryPolicy, key string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || ctx.Err() != nil || !retry.ShouldRetry(err, attempt) {
			return err
		}
		wait := retry.Backoff(attempt)
		p.logger.Warn("Retrying after network failure",
			zap.String("edition_id", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

// interrupted reports whether err came from cancellation, in which case the
// date is left unrecorded.
func interrupted(ctx context.Context, err error, stats *RunStats) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	stats.Interrupted = true
	return true
}

func (p *Pipeline) record(stats *RunStats, source edition.SourceKind, key string, err error, skipped bool) {
	stats.Attempted++
	logger := p.logger.With(zap.String("edition_id", key), zap.String("source", string(source)))
	switch {
	case skipped:
		stats.Skipped++
		metrics.ObserveEdition(string(source), "skipped")
		logger.Info("Edition already present, skipped")
	case err == nil:
		stats.Succeeded++
		metrics.ObserveEdition(string(source), "succeeded")
	case edition.IsNotFound(err):
		stats.Skipped++
		metrics.ObserveEdition(string(source), "not_found")
		logger.Info("No edition available", zap.Error(err))
	default:
		kind := edition.KindOf(err)
		stats.Failed++
		stats.Failures = append(stats.Failures, Failure{Key: key, Kind: kind, Err: err})
		metrics.ObserveEdition(string(source), "failed")
		logger.Error("Edition failed", zap.String("kind", kind.String()), zap.Error(err))
	}
}

func withKey(err error, key string) error {
	var e *edition.Error
	if errors.As(err, &e) && e.Key == "" {
		return &edition.Error{Kind: e.Kind, Key: key, Err: e.Err}
	}
	return err
}

func bounds(dates []time.Time) (time.Time, time.Time) {
	start, end := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(start) {
			start = d
		}
		if d.After(end) {
			end = d
		}
	}
	return start, end
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
