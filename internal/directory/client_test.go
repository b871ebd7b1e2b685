package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/coworkersync/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := newClient(srv.URL, srv.Client(), slog.Default())
	require.NoError(t, err)
	c.delay = noDelay
	return c, srv
}

func TestFetch_DecodesCoworkers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/alice@example.com/coworkers", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"coworkers":[
			{"uid":"u1","first_name":" Bob ","last_name":"Builder","mail":"bob@example.com","phone":"+1 555","location":"Berlin","photo_url":"/photos/u1.jpg","version":"7"},
			{"uid":"u2","first_name":"Carol","photo_url":"https://cdn.example.com/u2.png","version":"3"}
		]}`)
	})

	got, err := c.Fetch(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "u1", got[0].UID)
	assert.Equal(t, "Bob", got[0].FirstName)
	assert.Equal(t, "Builder", got[0].LastName)
	assert.Equal(t, "Berlin", got[0].Location)
	assert.Equal(t, "7", got[0].Version)
	assert.Equal(t, c.base.String()+"/photos/u1.jpg", got[0].PhotoURL)

	assert.Equal(t, "https://cdn.example.com/u2.png", got[1].PhotoURL)
}

func TestFetch_EmptySnapshot(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"coworkers":[]}`)
	})

	got, err := c.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetch_MissingCoworkersList(t *testing.T) {
	for _, body := range []string{`{"error":"maintenance"}`, `{"coworkers":null}`, `{}`} {
		t.Run(body, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, body)
			})

			got, err := c.Fetch(context.Background(), "alice")
			require.ErrorIs(t, err, model.ErrNotAvailable, "a body without a list must not look like an empty directory")
			assert.Nil(t, got)
		})
	}
}

func TestFetch_BoundaryValidation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"coworkers":[
			{"uid":"  ","first_name":"Ghost","version":"1"},
			{"uid":"u1","first_name":"First","version":"1"},
			{"uid":"u1","first_name":"Second","version":"2"},
			{"uid":"u2","first_name":"NoVersion"}
		]}`)
	})

	got, err := c.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "First", got[0].FirstName, "first occurrence wins")
	assert.Equal(t, "u2", got[1].UID)
	assert.Equal(t, got[1].ContentHash(), got[1].Version)
	for _, rc := range got {
		assert.NoError(t, rc.Validate())
	}
}

func TestFetch_UnauthorizedNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			})

			_, err := c.Fetch(context.Background(), "alice")
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrNotAuthorized)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestFetch_ServerErrorRetriedThenNotAvailable(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Fetch(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotAvailable)
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, `{"coworkers":[{"uid":"u1","version":"1"}]}`)
	})

	got, err := c.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_MalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"coworkers":[`)
	})

	_, err := c.Fetch(context.Background(), "alice")
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := newClient(url, &http.Client{Timeout: time.Second}, slog.Default())
	require.NoError(t, err)
	c.delay = noDelay

	_, err = c.Fetch(context.Background(), "alice")
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestFetch_Canceled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"coworkers":[]}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClient_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "s3cret", 5*time.Second, slog.Default())
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))

	bad, err := NewClient(srv.URL, "wrong", 5*time.Second, slog.Default())
	require.NoError(t, err)
	assert.ErrorIs(t, bad.Ping(context.Background()), model.ErrNotAuthorized)
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient("directory.example.com", "t", time.Second, slog.Default())
	assert.Error(t, err)
}
