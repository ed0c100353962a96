package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisStoreHashFields(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SetField(ctx, "grants:s1", "view_patients", []byte("a"), now.Add(time.Hour)))
	require.NoError(t, store.SetField(ctx, "grants:s1", "review_records", []byte("b"), now.Add(time.Minute)))

	fields, err := store.Fields(ctx, "grants:s1")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{
		"view_patients":  []byte("a"),
		"review_records": []byte("b"),
	}, fields)

	// the shorter field must not shorten the hash
	ttl := mr.TTL(redisKeyPrefix + "grants:s1")
	require.Greater(t, ttl, 30*time.Minute)

	deleted, err := store.DeleteFieldIf(ctx, "grants:s1", "view_patients", func(v []byte) bool { return string(v) == "a" })
	require.NoError(t, err)
	require.True(t, deleted)
	fields, err = store.Fields(ctx, "grants:s1")
	require.NoError(t, err)
	require.Len(t, fields, 1)

	mr.FastForward(2 * time.Hour)
	fields, err = store.Fields(ctx, "grants:s1")
	require.NoError(t, err)
	require.Empty(t, fields)
}

func TestRedisStoreFieldsMissingKey(t *testing.T) {
	store, _ := newMiniredisStore(t)

	fields, err := store.Fields(context.Background(), "grants:none")
	require.NoError(t, err)
	require.Empty(t, fields)

	deleted, err := store.DeleteFieldIf(context.Background(), "grants:none", "view_patients", func([]byte) bool { return true })
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestRedisStoreDeleteFieldIfKeepsReplacedValue(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.SetField(ctx, "grants:s1", "view_patients", []byte("old"), expires))
	deleted, err := store.DeleteFieldIf(ctx, "grants:s1", "view_patients", func(v []byte) bool {
		if string(v) == "old" {
			// a writer replaces the field between the read and the delete
			require.NoError(t, store.SetField(ctx, "grants:s1", "view_patients", []byte("new"), expires))
		}
		return string(v) == "old"
	})
	require.NoError(t, err)
	require.False(t, deleted)

	fields, err := store.Fields(ctx, "grants:s1")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), fields["view_patients"])
}
