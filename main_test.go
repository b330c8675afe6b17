package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu           sync.Mutex
	revalidated  int
	translations int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"s1"` {
			f.mu.Lock()
			f.revalidated++
			f.mu.Unlock()
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"s1"`)
		_, _ = w.Write([]byte(`{"total_programs":120,"total_categories":9,"total_areas":11,"last_updated":"2025-02-01"}`))
	})
	mux.HandleFunc("/programs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"programs":[{"id":"calfresh","name":"CalFresh","category":"` + r.URL.Query().Get("category") + `"}],"total":1}`))
	})
	mux.HandleFunc("/programs/calfresh", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"calfresh","name":"CalFresh","category":"Food","areas":["Alameda"],"verified_date":"2025-01-15"}`))
	})
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.translations++
		f.mu.Unlock()
		var req struct{ Texts []string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([]string, len(req.Texts))
		for i := range req.Texts {
			out[i] = "¡" + req.Texts[i] + "!"
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"translations": out})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func setupCLIEnv(t *testing.T, apiURL string) string {
	t.Helper()
	t.Setenv("BAYDIR_API_URL", apiURL)
	t.Setenv("BAYDIR_API_TOKEN", "")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("CACHE_FRESHNESS", "0s")
	return t.TempDir()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := runCLI(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func TestStatsRevalidatesAcrossRuns(t *testing.T) {
	api, srv := newFakeAPI(t)
	dir := setupCLIEnv(t, srv.URL)

	out, err := run(t, "stats", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Programs:     120")

	// A second process finds the ETag on disk.
	out, err = run(t, "stats", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Last updated: 2025-02-01")
	assert.Equal(t, 1, api.revalidated)
}

func TestNoCacheNeverRevalidates(t *testing.T) {
	api, srv := newFakeAPI(t)
	dir := setupCLIEnv(t, srv.URL)

	for i := 0; i < 2; i++ {
		_, err := run(t, "stats", "--cache-dir", dir, "--no-cache")
		require.NoError(t, err)
	}
	assert.Equal(t, 0, api.revalidated)
}

func TestProgramsCommand(t *testing.T) {
	_, srv := newFakeAPI(t)
	dir := setupCLIEnv(t, srv.URL)

	out, err := run(t, "programs", "--category", "Food", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "calfresh")
	assert.Contains(t, out, "Food")
	assert.Contains(t, out, "1 of 1 programs")

	out, err = run(t, "program", "calfresh", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "CalFresh (Food)")
	assert.Contains(t, out, "Verified:    2025-01-15")
}

func TestTranslateCommandCaches(t *testing.T) {
	api, srv := newFakeAPI(t)
	dir := setupCLIEnv(t, srv.URL)

	for i := 0; i < 2; i++ {
		out, err := run(t, "translate", "--to", "es", "--cache-dir", dir, "Hola", "Adiós")
		require.NoError(t, err)
		assert.Equal(t, "¡Hola!\n¡Adiós!\n", out)
	}
	assert.Equal(t, 1, api.translations)

	_, err := run(t, "translate", "--cache-dir", dir, "Hola")
	assert.Error(t, err, "--to is required")
}

func TestCacheCommands(t *testing.T) {
	api, srv := newFakeAPI(t)
	dir := setupCLIEnv(t, srv.URL)

	_, err := run(t, "stats", "--cache-dir", dir)
	require.NoError(t, err)

	out, err := run(t, "cache", "stats", "--cache-dir", dir)
	require.NoError(t, err)
	var stats struct {
		Backend   string `json:"backend"`
		Responses struct {
			StoredEntries int `json:"stored_entries"`
		} `json:"responses"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "file", stats.Backend)
	assert.Equal(t, 1, stats.Responses.StoredEntries)

	out, err = run(t, "cache", "clear", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "cache cleared\n", out)

	// Nothing left to revalidate against.
	_, err = run(t, "stats", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, 0, api.revalidated)
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "bogus")
	assert.Error(t, err)
}
