package ra

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svncore/svnerr"
)

type staticAuth struct {
	user, pass string
	offered    bool
}

func (a *staticAuth) Credentials(realm string, attempt int) (string, string, bool) {
	if a.offered {
		return "", "", false
	}
	a.offered = true
	return a.user, a.pass, true
}

func (a *staticAuth) OnSuccess(user, pass string) {}

func TestDoTranslatesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sess := New(srv.URL, nil, &staticAuth{}, nil)
	defer sess.Close()

	req, err := sess.NewRequest(http.MethodGet, "/missing", nil, nil)
	require.NoError(t, err)
	_, err = sess.Do(req)
	require.Error(t, err)
	assert.Equal(t, svnerr.KindPathNotFound, svnerr.KindOf(err))
}

func TestDoRetriesOnceAfterAuthChallenge(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := New(srv.URL, nil, &staticAuth{user: "alice", pass: "secret"}, nil)
	defer sess.Close()

	req, err := sess.NewRequest(http.MethodGet, "/", nil, nil)
	require.NoError(t, err)
	resp, err := sess.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestDoSurfacesAuthnFailedWhenProviderExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := New(srv.URL, nil, &staticAuth{}, nil)
	defer sess.Close()

	req, err := sess.NewRequest(http.MethodGet, "/", nil, nil)
	require.NoError(t, err)
	_, err = sess.Do(req)
	require.Error(t, err)
	assert.Equal(t, svnerr.KindAuthnFailed, svnerr.KindOf(err))
}

func TestDiscoverCapabilitiesParsesDAVHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DAV", "1, 2, version-control, checkout, merge")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := New(srv.URL, nil, &staticAuth{}, nil)
	defer sess.Close()

	caps, err := sess.DiscoverCapabilities()
	require.NoError(t, err)
	assert.True(t, caps.Supports("merge"))
	assert.False(t, caps.Supports("bind"))
}

func TestTranslateStatusParsesDavError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<D:error xmlns:D="DAV:"><C:human-readable errcode="160024">out of date</C:human-readable></D:error>`))
	}))
	defer srv.Close()

	sess := New(srv.URL, nil, &staticAuth{}, nil)
	defer sess.Close()

	req, err := sess.NewRequest(http.MethodGet, "/", nil, nil)
	require.NoError(t, err)
	_, err = sess.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of date")
}
