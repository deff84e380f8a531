package wsbridge

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeRejectsPlainRequest(t *testing.T) {
	u := New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/room", nil)
	err := u.Upgrade(rec, req, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptions(t *testing.T) {
	called := false
	u := New(
		WithCheckOrigin(func(r *http.Request) bool {
			called = true
			return false
		}),
		WithBufferSizes(2048, 4096),
	)

	assert.Equal(t, 2048, u.ws.ReadBufferSize)
	assert.Equal(t, 4096, u.ws.WriteBufferSize)

	// A cross-origin handshake consults the configured check and is
	// refused when it returns false.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/room", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "http://elsewhere.test")

	err := u.Upgrade(rec, req, nil)
	require.Error(t, err)
	assert.True(t, called, "origin check was not consulted")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
