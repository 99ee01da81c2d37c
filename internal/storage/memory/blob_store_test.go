package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "a.jpg", "image/jpeg", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "memory://a.jpg", uri)

	ok, err := store.Exists(ctx, "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	data, ct, ok := store.Get("a.jpg")
	require.True(t, ok)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, 1, store.Len())

	ok, err = store.Exists(ctx, "b.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.PutObject(ctx, "", "image/jpeg", nil)
	require.Error(t, err)
}

func TestBlobStoreCopiesInput(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	buf := []byte("abc")
	_, err := store.PutObject(context.Background(), "a.jpg", "", buf)
	require.NoError(t, err)
	buf[0] = 'z'

	data, _, _ := store.Get("a.jpg")
	assert.Equal(t, "abc", string(data))
}
