package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Suggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/suggest", r.URL.Path)

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "main.go", req.FileName)

		json.NewEncoder(w).Encode(Suggestion{
			Tags:        []string{"go", "backend"},
			Description: "A Go source file.",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.Suggest(context.Background(), "main.go", "package main")
	require.NoError(t, err)
	require.Equal(t, []string{"go", "backend"}, out.Tags)
	require.Equal(t, "A Go source file.", out.Description)
}

func TestClient_SuggestServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Suggest(context.Background(), "main.go", "package main")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient("")
	require.False(t, c.Enabled())

	_, err := c.Suggest(context.Background(), "main.go", "package main")
	require.ErrorIs(t, err, ErrUnavailable)
}
