package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/id/uuid"
	pubmemory "github.com/Isagog/copertinefull/internal/publisher/memory"
	"github.com/Isagog/copertinefull/internal/source/cms"
	"github.com/Isagog/copertinefull/internal/storage/memory"
	"github.com/Isagog/copertinefull/internal/upsert"
)

const collection = "Copertine"

type fakeClock struct{ today time.Time }

func (c fakeClock) Now() time.Time { return c.today.Add(10 * time.Hour) }
func (c fakeClock) Today() time.Time { return c.today }

type fakeHTML struct {
	mu       sync.Mutex
	pages    map[string]edition.HTMLExtract
	errs     map[string][]error
	requests []string
	onFetch  func()
}

func (f *fakeHTML) FetchEdition(_ context.Context, date time.Time) (edition.HTMLExtract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := edition.BusinessKey(date)
	f.requests = append(f.requests, key)
	if f.onFetch != nil {
		f.onFetch()
	}
	if queue := f.errs[key]; len(queue) > 0 {
		f.errs[key] = queue[1:]
		return edition.HTMLExtract{}, queue[0]
	}
	page, ok := f.pages[key]
	if !ok {
		return edition.HTMLExtract{}, edition.Errorf(edition.KindNotFound, key, "status 404")
	}
	return page, nil
}

type fakeCMS struct {
	mu      sync.Mutex
	batch   cms.Batch
	err     error
	calls   int
	filters []cms.Filters
}

func (f *fakeCMS) FetchEditionsInRange(_ context.Context, _, _ time.Time, filters cms.Filters) (cms.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, filters)
	return f.batch, f.err
}

type fakeAssets struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeAssets) ResolveAndDownload(_ context.Context, _ edition.ImageRef, baseName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, baseName)
	if f.err != nil {
		return "", f.err
	}
	return baseName + ".jpg", nil
}

type fixture struct {
	pipeline *Pipeline
	store    *memory.DocumentStore
	html     *fakeHTML
	cms      *fakeCMS
	assets   *fakeAssets
	events   *pubmemory.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewDocumentStore()
	engine, err := upsert.New(store, uuid.New("copertine"), upsert.Config{Collection: collection, VerifyAttempts: 1}, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		html:   &fakeHTML{pages: map[string]edition.HTMLExtract{}, errs: map[string][]error{}},
		cms:    &fakeCMS{},
		assets: &fakeAssets{},
		events: pubmemory.New(),
	}
	p, err := New(Config{PublisherName: "Il Manifesto", Topic: "editions"}, Deps{
		HTML:      f.html,
		CMS:       f.cms,
		Assets:    f.assets,
		Engine:    engine,
		Publisher: f.events,
		Clock:     fakeClock{today: day(2024, 1, 14)},
		Retry:     NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond),
	}, zap.NewNop())
	require.NoError(t, err)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	f.pipeline = p
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func page(date time.Time, title string) edition.HTMLExtract {
	return edition.HTMLExtract{
		EditionDate: date,
		Title:       title,
		Body:        "kicker " + title,
		ImageURL:    "https://static.ilmanifesto.it/" + title + ".jpg",
	}
}

func (f *fixture) stored(t *testing.T, key string) edition.Edition {
	t.Helper()
	objs, err := f.store.QueryByField(context.Background(), collection, edition.PropBusinessKey, key, 10)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	ed, err := edition.FromProperties(objs[0].ID, objs[0].Properties)
	require.NoError(t, err)
	return ed
}

func assertBalanced(t *testing.T, s RunStats) {
	t.Helper()
	assert.Equal(t, s.Attempted, s.Skipped+s.Succeeded+s.Failed)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{PublisherName: "x"}, Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, Deps{Assets: &fakeAssets{}, Engine: &upsert.Engine{}, Clock: fakeClock{}}, nil)
	require.Error(t, err)
}

func TestRunHTMLSingleDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Crisi: il governo cade!")

	stats, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Attempted: 1, Succeeded: 1}, stats)

	ed := f.stored(t, "14-01-2024")
	assert.Equal(t, "Crisi: il governo cade!", ed.Caption)
	assert.Equal(t, "kicker Crisi: il governo cade!", ed.Kicker)
	assert.Equal(t, "Il Manifesto", ed.PublisherName)
	assert.Equal(t, "il-manifesto_2024-01-14_crisi-il-governo-cade.jpg", ed.ImageFilename)
	assert.Equal(t, uuid.DeriveID("copertine", "14-01-2024"), ed.StoreID)

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "editions", msgs[0].Topic)
	event, ok := msgs[0].Payload.(edition.IngestedEvent)
	require.True(t, ok)
	assert.Equal(t, "14-01-2024", event.BusinessKey)
	assert.False(t, event.Replaced)
}

func TestRunHTMLRerunKeepsOneRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Prima")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Seconda")
	stats, err := f.pipeline.Run(ctx, SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, "Seconda", f.stored(t, "14-01-2024").Caption)
	assert.Equal(t, 1, f.store.Count(collection))
	event := f.events.Messages()[1].Payload.(edition.IngestedEvent)
	assert.True(t, event.Replaced)
}

func TestRunHTMLWindowPreserve(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["12-01-2024"] = page(day(2024, 1, 12), "Dodici")
	f.html.pages["13-01-2024"] = page(day(2024, 1, 13), "Tredici")
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Quattordici")
	_, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-13"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	f.html.requests = nil

	sel := Window(4)
	stats, err := f.pipeline.Run(context.Background(), sel, edition.SourceHTML, DefaultPolicy(sel))
	require.NoError(t, err)

	// 11th has no page, 13th already present.
	assert.Equal(t, RunStats{Attempted: 4, Skipped: 2, Succeeded: 2}, stats)
	assert.Equal(t, []string{"11-01-2024", "12-01-2024", "14-01-2024"}, f.html.requests)
	assert.Equal(t, 3, f.store.Count(collection))
}

func TestRunHTMLRetriesNetworkFailuresInBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")
	netErr := edition.Errorf(edition.KindNetwork, "14-01-2024", "connection reset")
	f.html.errs["14-01-2024"] = []error{netErr, netErr}

	stats, err := f.pipeline.Run(context.Background(), Window(1), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Len(t, f.html.requests, 3)
}

func TestRunHTMLRetriesRequestTimeoutInBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")
	timeout := edition.Wrap(edition.KindNetwork, "14-01-2024", fmt.Errorf(
		"colly visit: Get: %w (Client.Timeout exceeded while awaiting headers)", context.DeadlineExceeded))
	f.html.errs["14-01-2024"] = []error{timeout}

	stats, err := f.pipeline.Run(context.Background(), Window(1), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Len(t, f.html.requests, 2)
}

func TestRunCanceledDuringFetchIsNotRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")
	f.html.errs["14-01-2024"] = []error{edition.Wrap(edition.KindNetwork, "14-01-2024", context.Canceled)}
	f.html.onFetch = cancel

	stats, err := f.pipeline.Run(ctx, Window(1), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Len(t, f.html.requests, 1)
	assert.Zero(t, f.store.Count(collection))
}

func TestRunHTMLSingleDateDoesNotRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")
	f.html.errs["14-01-2024"] = []error{edition.Errorf(edition.KindNetwork, "14-01-2024", "timeout")}

	stats, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, edition.KindNetwork, stats.Failures[0].Kind)
	assert.Len(t, f.html.requests, 1)
}

func TestRunAssetFailureSkipsStoreWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")
	f.assets.err = edition.Errorf(edition.KindAssetDownload, "", "status 500")

	stats, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, RunStats{
		Attempted: 1,
		Failed:    1,
		Failures:  stats.Failures,
	}, stats)
	assert.Equal(t, edition.KindAssetDownload, stats.Failures[0].Kind)
	assert.Equal(t, "14-01-2024", stats.Failures[0].Key)
	assert.Zero(t, f.store.Count(collection))
	assert.Empty(t, f.events.Messages())
}

func TestRunHTMLValidationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.html.pages["14-01-2024"] = edition.HTMLExtract{EditionDate: day(2024, 1, 14), ImageURL: "https://x/a.jpg"}

	stats, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, edition.KindValidation, stats.Failures[0].Kind)
	assert.Empty(t, f.assets.calls)
}

func TestRunMalformedSingleDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	stats, err := f.pipeline.Run(context.Background(), SingleDate("14/01/2024"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, RunStats{}, stats)
	assert.Empty(t, f.html.requests)
}

func TestRunCMS(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cms.batch = cms.Batch{
		Extracts: []edition.CMSExtract{{
			EditionDate:       day(2024, 1, 12),
			ContentID:         "100",
			ReferenceHeadline: "Titolo CMS",
			Kicker:            "Occhiello",
			FeaturedImage:     "img-1",
		}},
		Rejected: []cms.Rejection{{
			Key: "13-01-2024",
			Err: edition.Errorf(edition.KindValidation, "13-01-2024", "missing featured image reference"),
		}},
	}

	sel := Window(3)
	stats, err := f.pipeline.Run(context.Background(), sel, edition.SourceCMS, DefaultPolicy(sel))
	require.NoError(t, err)
	assertBalanced(t, stats)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, edition.KindValidation, stats.Failures[0].Kind)

	assert.Equal(t, 1, f.cms.calls)
	assert.Equal(t, []string{"12-01-2024", "13-01-2024", "14-01-2024"}, f.cms.filters[0].Keys)
	ed := f.stored(t, "12-01-2024")
	assert.Equal(t, "Titolo CMS", ed.Caption)
	assert.Equal(t, "Occhiello", ed.Kicker)
}

func TestRunCMSFetchFailureFailsEveryDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cms.err = edition.Errorf(edition.KindNetwork, "", "status 503")

	stats, err := f.pipeline.Run(context.Background(), Window(2), edition.SourceCMS, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 3, f.cms.calls)
}

func TestRunUnconfiguredSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.pipeline.deps.CMS = nil
	_, err := f.pipeline.Run(context.Background(), Window(1), edition.SourceCMS, Overwrite)
	require.Error(t, err)
	_, err = f.pipeline.Run(context.Background(), Window(1), edition.SourceKind("rss"), Overwrite)
	require.Error(t, err)
}

func TestRunStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.pipeline.Run(ctx, Window(5), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Zero(t, stats.Attempted)
}

func TestRunLookupFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.pipeline.deps.Engine = failingEngine{err: edition.Errorf(edition.KindLookup, "", "store down")}

	stats, err := f.pipeline.Run(context.Background(), Window(2), edition.SourceHTML, Preserve)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, edition.KindLookup, stats.Failures[1].Kind)
	assert.Empty(t, f.html.requests)
}

type failingEngine struct{ err error }

func (e failingEngine) Upsert(context.Context, string, edition.Edition) (upsert.Result, error) {
	return upsert.Result{}, e.err
}

func (e failingEngine) Exists(context.Context, string) (bool, error) { return false, e.err }

func TestPublishFailureDoesNotFailEdition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.events.FailWith(errors.New("pubsub unavailable"))
	f.html.pages["14-01-2024"] = page(day(2024, 1, 14), "Titolo")

	stats, err := f.pipeline.Run(context.Background(), SingleDate("2024-01-14"), edition.SourceHTML, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, f.store.Count(collection))
}
