package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/clinicauth/internal/cache"
)

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(nil, 2, 100*time.Millisecond))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(r, "/ping").Code)
	}

	w := serve(r, "/ping")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, http.StatusOK, serve(r, "/ping").Code)
}

func TestRateLimitRedisStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisRateStore(cache.NewRedisStoreFromClient(client))
	r := gin.New()
	r.Use(RateLimit(store, 1, time.Minute))
	r.GET("/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/other", func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, serve(r, "/login").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, "/login").Code)
	require.Equal(t, http.StatusOK, serve(r, "/other").Code)
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(failingRateStore{}, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(r, "/ping").Code)
	}
}

func TestMemoryRateStoreSweepsExpiredWindows(t *testing.T) {
	store := NewMemoryRateStore()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	count, ttl, err := store.Increment(context.Background(), "a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = store.Increment(context.Background(), "a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// The window boundary starts a fresh count.
	now = now.Add(time.Minute)
	count, _, err = store.Increment(context.Background(), "a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	now = now.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		_, _, err = store.Increment(context.Background(), "b", time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, 1, store.Len())
}
