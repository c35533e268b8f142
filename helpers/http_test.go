package helpers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoResponse struct {
	Message string `json:"message"`
}

func TestMakeHTTPRequestJSONRoundTrip(t *testing.T) {
	var gotBody map[string]string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		json.NewEncoder(w).Encode(echoResponse{Message: "ok"})
	}))
	defer server.Close()

	resp, err := MakeHTTPRequest[echoResponse](context.Background(), http.MethodPost, server.URL,
		map[string]string{"Authorization": "Bearer tok"},
		url.Values{"limit": {"5"}},
		map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, "hello", gotBody["text"])
	assert.Equal(t, "5", gotQuery.Get("limit"))
}

func TestMakeHTTPRequestFormEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		json.NewEncoder(w).Encode(echoResponse{Message: "ok"})
	}))
	defer server.Close()

	_, err := MakeHTTPRequest[echoResponse](context.Background(), http.MethodPost, server.URL,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		nil, url.Values{"grant_type": {"authorization_code"}})
	require.NoError(t, err)
}

func TestMakeHTTPRequestFormBodyMustBeValues(t *testing.T) {
	_, err := MakeHTTPRequest[echoResponse](context.Background(), http.MethodPost, "http://unused.example",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		nil, map[string]string{"not": "url.Values"})
	assert.Error(t, err)
}

func TestMakeHTTPRequestNon2xxBecomesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	_, err := MakeHTTPRequest[echoResponse](context.Background(), http.MethodGet, server.URL, nil, nil, nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "invalid token")
	assert.True(t, httpErr.IsAuthStatus())
	assert.False(t, httpErr.IsTransientStatus())
}

func TestMakeHTTPRequestEmptyBodyIsFine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := MakeHTTPRequest[echoResponse](context.Background(), http.MethodDelete, server.URL, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Message)
}

func TestMakeMultipartRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "chat-1", r.FormValue("chat_id"))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "pic.jpg", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte{0xFF, 0xD8}, data)

		json.NewEncoder(w).Encode(echoResponse{Message: "uploaded"})
	}))
	defer server.Close()

	resp, err := MakeMultipartRequest[echoResponse](context.Background(), server.URL, nil,
		[]MultipartField{
			{Name: "chat_id", Value: []byte("chat-1")},
			{Name: "photo", Filename: "pic.jpg", Value: []byte{0xFF, 0xD8}},
		})
	require.NoError(t, err)
	assert.Equal(t, "uploaded", resp.Message)
}

func TestHTTPErrorStatusClasses(t *testing.T) {
	assert.True(t, (&HTTPError{StatusCode: 403}).IsAuthStatus())
	assert.True(t, (&HTTPError{StatusCode: 429}).IsTransientStatus())
	assert.True(t, (&HTTPError{StatusCode: 502}).IsTransientStatus())
	assert.False(t, (&HTTPError{StatusCode: 404}).IsAuthStatus())
	assert.False(t, (&HTTPError{StatusCode: 404}).IsTransientStatus())
}
