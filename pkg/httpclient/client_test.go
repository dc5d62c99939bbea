package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PatchJSONSendsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PAID", body["paymentStatus"])
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	resp, err := c.PatchJSON(context.Background(), srv.URL, map[string]string{"paymentStatus": "PAID"}, WithHeader("X-Test", "yes"))
	require.NoError(t, err)
	require.NoError(t, ExpectStatus(resp, http.StatusOK))

	var out map[string]bool
	require.NoError(t, c.DecodeJSONResponse(resp, &out))
	assert.True(t, out["ok"])
}

func TestClient_GetHasNoContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "secret", user)
		assert.Empty(t, pass)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).Get(context.Background(), srv.URL, WithBasicAuth("secret", ""))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestExpectStatus_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).Get(context.Background(), srv.URL)
	require.NoError(t, err)

	err = ExpectStatus(resp, http.StatusOK)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, se.Body, "boom")
}

func TestClient_IsTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.PostJSONWithTimeout(srv.URL, nil, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, c.IsTimeoutError(err))
	assert.False(t, c.IsTimeoutError(nil))
}
