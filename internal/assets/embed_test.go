// ABOUTME: Checks the embedded pages are reachable at their routes
// ABOUTME: Uses httptest against the assets handler directly

package assets

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLandingPage(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	code, body := get(t, srv, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "chatrelay")
}

func TestChatPage(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	code, body := get(t, srv, "/chat")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "WebSocket")
}

func TestUnknownPathIs404(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	code, _ := get(t, srv, "/nope.html")
	assert.Equal(t, http.StatusNotFound, code)
}
