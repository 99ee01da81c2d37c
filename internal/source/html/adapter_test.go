package html

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
)

type fakeFetcher struct {
	mu       sync.Mutex
	requests []string
	resp     edition.FetchResponse
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, req edition.FetchRequest) (edition.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.URL)
	if f.err != nil {
		return edition.FetchResponse{}, f.err
	}
	resp := f.resp
	resp.URL = req.URL
	return resp, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func newAdapter(t *testing.T, f *fakeFetcher, l Limiter) *Adapter {
	t.Helper()
	a, err := New(Config{
		SiteOrigin:  "https://ilmanifesto.it/",
		EditionPath: "/edizioni/il-manifesto/il-manifesto-del-%s",
	}, f, l, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SiteOrigin: "https://x", EditionPath: "/p/%s"}, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{EditionPath: "/p/%s"}, &fakeFetcher{}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{SiteOrigin: "https://x", EditionPath: "/p"}, &fakeFetcher{}, nil, nil)
	require.Error(t, err)
}

func TestFetchEditionHappyPath(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{resp: edition.FetchResponse{StatusCode: 200, Body: []byte(frontPage)}}
	l := &countingLimiter{}
	a := newAdapter(t, f, l)

	date := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	got, err := a.FetchEdition(context.Background(), date)
	require.NoError(t, err)

	assert.Equal(t, "Crisi: il governo cade", got.Title)
	assert.Equal(t, 1, l.calls)
	require.Len(t, f.requests, 1)
	assert.Equal(t, "https://ilmanifesto.it/edizioni/il-manifesto/il-manifesto-del-14-01-2024", f.requests[0])
}

func TestFetchEditionRewritesRelativeImage(t *testing.T) {
	t.Parallel()

	page := `<article class="PostCard">
<div class="w-full overflow-hidden order-1"><img src="/cdn-cgi/image/w=800/cover.jpg"></div>
<a class="text-red-500">A</a><h2>T</h2></article>`
	f := &fakeFetcher{resp: edition.FetchResponse{StatusCode: 200, Body: []byte(page)}}
	a := newAdapter(t, f, nil)

	got, err := a.FetchEdition(context.Background(), time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "https://ilmanifesto.it/cdn-cgi/image/w=800/cover.jpg", got.ImageURL)
}

func TestFetchEditionOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fetcher *fakeFetcher
		limiter *countingLimiter
		want    edition.Kind
	}{
		{
			name:    "non-200 is not found",
			fetcher: &fakeFetcher{resp: edition.FetchResponse{StatusCode: 404}},
			want:    edition.KindNotFound,
		},
		{
			name:    "no qualifying article is not found",
			fetcher: &fakeFetcher{resp: edition.FetchResponse{StatusCode: 200, Body: []byte("<html></html>")}},
			want:    edition.KindNotFound,
		},
		{
			name:    "transport error is network failure",
			fetcher: &fakeFetcher{err: errors.New("connection reset")},
			want:    edition.KindNetwork,
		},
		{
			name:    "limiter cancellation is network failure",
			fetcher: &fakeFetcher{},
			limiter: &countingLimiter{err: context.Canceled},
			want:    edition.KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var l Limiter
			if tt.limiter != nil {
				l = tt.limiter
			}
			a := newAdapter(t, tt.fetcher, l)
			_, err := a.FetchEdition(context.Background(), time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC))
			require.Error(t, err)
			assert.Equal(t, tt.want, edition.KindOf(err))
		})
	}
}

func TestAbsoluteURL(t *testing.T) {
	t.Parallel()

	a := newAdapter(t, &fakeFetcher{}, nil)
	assert.Equal(t, "https://ilmanifesto.it/a.jpg", a.AbsoluteURL("/a.jpg"))
	assert.Equal(t, "https://cdn.x/a.jpg", a.AbsoluteURL("//cdn.x/a.jpg"))
	assert.Equal(t, "https://static.ilmanifesto.it/a.jpg", a.AbsoluteURL("https://static.ilmanifesto.it/a.jpg"))
}
