package dnevnik

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"dnevniksync/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newFakePortal(t *testing.T) *httptest.Server {
	t.Helper()

	userfeed, err := os.ReadFile("testdata/userfeed.html")
	require.NoError(t, err)
	login, err := os.ReadFile("testdata/login.html")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("login") == "student" && r.FormValue("password") == "letmein" {
			http.SetCookie(w, &http.Cookie{Name: "DnevnikAuth_a", Value: "session-ok", Path: "/"})
		}
		http.SetCookie(w, &http.Cookie{Name: "dnevnik_sst", Value: "stale", Path: "/"})
		w.Write(login)
	})
	mux.HandleFunc("/userfeed", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("dnevnik_sst"); err == nil && c.Value != "" {
			// a leftover sst cookie poisons the session
			w.Write(login)
			return
		}
		if c, err := r.Cookie("DnevnikAuth_a"); err != nil || c.Value != "session-ok" {
			w.Write(login)
			return
		}
		w.Write(userfeed)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:    server.URL,
		LoginUrl:   server.URL + "/login",
		SchoolsUrl: server.URL,
	})
	require.NoError(t, err)
	return client
}

func TestLoginUsernamePassword(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/dnevnik")
	defer cleanup()

	server := newFakePortal(t)
	client := newTestClient(t, server)

	id, err := client.LoginUsernamePassword(context.Background(), "student", "letmein")
	require.NoError(t, err)
	require.Equal(t, Identity{
		PersonID: 1000001234,
		SchoolID: 51234,
		GroupID:  772001,
	}, id)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/dnevnik")
	defer cleanup()

	server := newFakePortal(t)
	client := newTestClient(t, server)

	_, err := client.LoginUsernamePassword(context.Background(), "student", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestUserfeedWithoutSession(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/dnevnik")
	defer cleanup()

	server := newFakePortal(t)
	client := newTestClient(t, server)

	_, err := client.Userfeed(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLooksLikeLoginPage(t *testing.T) {
	login, err := os.ReadFile("testdata/login.html")
	require.NoError(t, err)
	require.True(t, LooksLikeLoginPage(login))

	userfeed, err := os.ReadFile("testdata/userfeed.html")
	require.NoError(t, err)
	require.False(t, LooksLikeLoginPage(userfeed))
}
