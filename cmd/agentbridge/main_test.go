package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), "AgentBridge "+Version)
	assert.Contains(t, out.String(), "Git Commit")
}

func TestRun_UsageAndUnknown(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage:")

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command: frobnicate")

	out.Reset()
	assert.Equal(t, 0, run([]string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "agentbridge serve")
}

func TestRun_Health(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"health", "--addr", healthy.URL}, &out, &errOut))
	assert.Equal(t, "OK\n", out.String())

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"health", "--addr", sick.URL}, &out, &errOut))
	assert.Contains(t, errOut.String(), "status 503")
}

func TestRun_ServeRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  backend: carrier-pigeon\n"), 0o600))

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"serve", "--config", path}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Invalid config")
	assert.Contains(t, errOut.String(), "carrier-pigeon")
}

func TestRun_ServeBadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"serve", "--no-such-flag"}, &out, &errOut))
}
