package reauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// Server accepting only 'Bearer good' and echoing request body back
func newEchoServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.Copy(w, r.Body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func Test_Transport(t *testing.T) {
	t.Run("refresh and replay with body", func(t *testing.T) {
		var requests atomic.Int32
		srv := newEchoServer(t, &requests)
		r := &fakeRefresher{next: Credentials{Access: "good", Refresh: "next"}}
		c := New(r)
		c.SetCredentials(Credentials{Access: "stale", Refresh: "refresh"})
		client := &http.Client{Transport: &Transport{Coordinator: c}}

		resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("payload"))
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "payload", string(body), "body has to be replayed")
		require.EqualValues(t, 2, requests.Load())
		require.EqualValues(t, 1, r.calls.Load())
	})

	t.Run("relogin required", func(t *testing.T) {
		var requests atomic.Int32
		srv := newEchoServer(t, &requests)
		c := New(&fakeRefresher{err: NewRefreshError(CodeUnauthorized, 0, nil)})
		c.SetCredentials(Credentials{Access: "stale", Refresh: "revoked"})
		client := &http.Client{Transport: &Transport{Coordinator: c}}

		_, err := client.Get(srv.URL)

		require.ErrorIs(t, err, ErrReloginRequired)
		require.EqualValues(t, 1, requests.Load(), "no replay")
	})

	t.Run("second 401 returned to caller", func(t *testing.T) {
		var requests atomic.Int32
		srv := newEchoServer(t, &requests)
		c := New(&fakeRefresher{next: Credentials{Access: "still-bad"}})
		c.SetCredentials(Credentials{Access: "stale", Refresh: "refresh"})
		client := &http.Client{Transport: &Transport{Coordinator: c}}

		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.EqualValues(t, 2, requests.Load())
	})

	t.Run("custom header and scheme", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("X-Auth")
		}))
		t.Cleanup(srv.Close)
		c := New(&fakeRefresher{})
		c.SetCredentials(Credentials{Access: "token"})
		client := &http.Client{Transport: &Transport{Coordinator: c, Header: "X-Auth", Scheme: "Token"}}

		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()

		require.Equal(t, "Token token", got)
	})
}
