package upsert

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
	"github.com/Isagog/copertinefull/internal/id/uuid"
	"github.com/Isagog/copertinefull/internal/storage/memory"
	"github.com/Isagog/copertinefull/internal/store"
)

const (
	testCollection = "Copertine"
	testNamespace  = "copertine"
)

// fakeStore wraps the memory store with failure and lag injection.
type fakeStore struct {
	*memory.DocumentStore

	mu            sync.Mutex
	lookupErr     error
	deleteErr     error
	insertErr     error
	replaceErr    error
	ignoreDeletes bool
	hideReads     int
	lookups       int
	inserts       int
	replaces      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{DocumentStore: memory.NewDocumentStore()}
}

func (f *fakeStore) QueryByField(ctx context.Context, c, field, value string, limit int) ([]store.Object, error) {
	f.mu.Lock()
	f.lookups++
	if f.lookupErr != nil {
		f.mu.Unlock()
		return nil, f.lookupErr
	}
	hide := f.hideReads > 0 && f.inserts+f.replaces > 0
	if hide {
		f.hideReads--
	}
	f.mu.Unlock()
	if hide {
		return nil, nil
	}
	return f.DocumentStore.QueryByField(ctx, c, field, value, limit)
}

func (f *fakeStore) DeleteByID(ctx context.Context, c, id string) error {
	f.mu.Lock()
	deleteErr, ignore := f.deleteErr, f.ignoreDeletes
	f.mu.Unlock()
	if deleteErr != nil {
		return deleteErr
	}
	if ignore {
		return nil
	}
	return f.DocumentStore.DeleteByID(ctx, c, id)
}

func (f *fakeStore) Insert(ctx context.Context, c, id string, props map[string]any) (string, error) {
	f.mu.Lock()
	f.inserts++
	insertErr := f.insertErr
	f.mu.Unlock()
	if insertErr != nil {
		return "", insertErr
	}
	return f.DocumentStore.Insert(ctx, c, id, props)
}

func (f *fakeStore) Replace(ctx context.Context, c, id string, props map[string]any) error {
	f.mu.Lock()
	f.replaces++
	replaceErr := f.replaceErr
	f.mu.Unlock()
	if replaceErr != nil {
		return replaceErr
	}
	return f.DocumentStore.Replace(ctx, c, id, props)
}

func newEngine(t *testing.T, s store.Client) *Engine {
	t.Helper()
	e, err := New(s, uuid.New(testNamespace), Config{
		Collection:     testCollection,
		VerifyAttempts: 3,
		VerifyDelay:    time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func sampleEdition(key string) edition.Edition {
	date, _ := edition.ParseBusinessKey(key)
	return edition.Edition{
		BusinessKey:     key,
		PublicationDate: date,
		ImageFilename:   "il-manifesto_cover.jpg",
		Caption:         "Caption",
		Kicker:          "Kicker",
		PublisherName:   "Il Manifesto",
	}
}

func seed(t *testing.T, s store.Client, id, key string) {
	t.Helper()
	_, err := s.Insert(context.Background(), testCollection, id, map[string]any{edition.PropBusinessKey: key})
	require.NoError(t, err)
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, uuid.New("x"), Config{Collection: "c"}, nil)
	require.Error(t, err)
	_, err = New(memory.NewDocumentStore(), nil, Config{Collection: "c"}, nil)
	require.Error(t, err)
	_, err = New(memory.NewDocumentStore(), uuid.New("x"), Config{}, nil)
	require.Error(t, err)
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	e := newEngine(t, s)
	ctx := context.Background()

	first, err := e.Upsert(ctx, "14-01-2024", sampleEdition("14-01-2024"))
	require.NoError(t, err)
	second, err := e.Upsert(ctx, "14-01-2024", sampleEdition("14-01-2024"))
	require.NoError(t, err)

	assert.Equal(t, first.StoreID, second.StoreID)
	assert.Equal(t, uuid.DeriveID(testNamespace, "14-01-2024"), first.StoreID)
	assert.Equal(t, 1, second.Deleted)
	assert.Equal(t, 1, s.Count(testCollection))
}

func TestUpsertReconcilesDuplicates(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	seed(t, s, "stale-1", "01-02-2024")
	seed(t, s, "stale-2", "01-02-2024")
	seed(t, s, "other", "02-02-2024")
	e := newEngine(t, s)

	res, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	got, err := s.DocumentStore.QueryByField(context.Background(), testCollection, edition.PropBusinessKey, "01-02-2024", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uuid.DeriveID(testNamespace, "01-02-2024"), got[0].ID)
	assert.Equal(t, 2, s.Count(testCollection))
}

func TestUpsertAbortsWhenDeleteFails(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	seed(t, s, "stale-1", "01-02-2024")
	s.deleteErr = errors.New("delete refused")
	e := newEngine(t, s)

	_, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	require.Error(t, err)
	assert.Equal(t, edition.KindReconcileDelete, edition.KindOf(err))
	assert.Zero(t, s.inserts)
}

func TestUpsertLookupFailure(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.lookupErr = errors.New("connection refused")
	e := newEngine(t, s)

	_, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	assert.Equal(t, edition.KindLookup, edition.KindOf(err))
	assert.Zero(t, s.inserts)

	_, err = e.Exists(context.Background(), "01-02-2024")
	assert.Equal(t, edition.KindLookup, edition.KindOf(err))
}

func TestUpsertFallsBackToReplaceOnConflict(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	key := "01-02-2024"
	seed(t, s, uuid.DeriveID(testNamespace, key), key)
	s.ignoreDeletes = true
	e := newEngine(t, s)

	ed := sampleEdition(key)
	ed.Caption = "fresh"
	res, err := e.Upsert(context.Background(), key, ed)
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	got, err := s.DocumentStore.QueryByField(context.Background(), testCollection, edition.PropBusinessKey, key, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].String(edition.PropCaption))
}

func TestUpsertReplaceFailureIsWriteConflict(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	key := "01-02-2024"
	seed(t, s, uuid.DeriveID(testNamespace, key), key)
	s.ignoreDeletes = true
	s.replaceErr = errors.New("replace rejected")
	e := newEngine(t, s)

	_, err := e.Upsert(context.Background(), key, sampleEdition(key))
	assert.Equal(t, edition.KindWriteConflict, edition.KindOf(err))
}

func TestUpsertInsertFailureIsWriteFailed(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.insertErr = errors.New("disk full")
	e := newEngine(t, s)

	_, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	assert.Equal(t, edition.KindWrite, edition.KindOf(err))
}

func TestUpsertVerificationToleratesLag(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.hideReads = 2
	e := newEngine(t, s)

	res, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.VerifyAttempts)
}

func TestUpsertVerificationFailsWhenNeverVisible(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.hideReads = 10
	e := newEngine(t, s)

	res, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("01-02-2024"))
	require.Error(t, err)
	assert.Equal(t, edition.KindVerification, edition.KindOf(err))
	assert.Equal(t, 3, res.VerifyAttempts)
}

func TestUpsertVerificationHonorsCancellation(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.hideReads = 10
	e := newEngine(t, s)
	e.sleep = sleepContext
	e.cfg.VerifyDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Upsert(ctx, "01-02-2024", sampleEdition("01-02-2024"))
	require.Error(t, err)
	assert.Equal(t, edition.KindVerification, edition.KindOf(err))
}

func TestUpsertRejectsMismatchedKey(t *testing.T) {
	t.Parallel()

	e := newEngine(t, newFakeStore())
	_, err := e.Upsert(context.Background(), "01-02-2024", sampleEdition("02-02-2024"))
	assert.Equal(t, edition.KindValidation, edition.KindOf(err))
}

func TestExists(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	seed(t, s, "x", "01-02-2024")
	e := newEngine(t, s)

	ok, err := e.Exists(context.Background(), "01-02-2024")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Exists(context.Background(), "03-02-2024")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uuid.DeriveID(testNamespace, "03-02-2024"), e.ID("03-02-2024"))
}
