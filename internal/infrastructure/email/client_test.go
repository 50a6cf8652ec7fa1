package email

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

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL: baseURL,
		Sender:  "newsletter@example.com",
		Token:   "secret-token",
		Timeout: timeout,
	})
	require.NoError(t, err)
	return client
}

func TestSendPostsExpectedRequest(t *testing.T) {
	var got struct {
		method string
		path   string
		token  string
		body   map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.token = r.Header.Get("X-Postmark-Server-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	err := client.Send(context.Background(), "sub@example.com", "T", "<p>Hello</p>", "Hello")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/email", got.path)
	assert.Equal(t, "secret-token", got.token)

	assert.Equal(t, "newsletter@example.com", got.body["From"])
	assert.Equal(t, "sub@example.com", got.body["To"])
	assert.Equal(t, "T", got.body["Subject"])
	assert.Equal(t, "<p>Hello</p>", got.body["HtmlBody"])
	assert.Equal(t, "Hello", got.body["TextBody"])
}

func TestSendFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	err := client.Send(context.Background(), "sub@example.com", "T", "<p>Hello</p>", "Hello")
	assert.Error(t, err)
}

func TestSendFailsWhenRemoteIsTooSlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 100*time.Millisecond)

	err := client.Send(context.Background(), "sub@example.com", "T", "<p>Hello</p>", "Hello")
	assert.Error(t, err)
}
