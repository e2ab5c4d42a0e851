package buildinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Defaults(t *testing.T) {
	info := Get(ServiceName)

	assert.Equal(t, "penf-chat", info.ServiceName)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGet_StampedValues(t *testing.T) {
	origVersion, origCommit, origTime := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = origVersion, origCommit, origTime })

	Version, Commit, BuildTime = "v0.3.0", "4e1c9a2", "2026-10-01T09:00:00Z"

	info := Get("worker")
	assert.Equal(t, "worker", info.ServiceName)
	assert.Equal(t, "v0.3.0", info.Version)
	assert.Equal(t, "v0.3.0 (4e1c9a2, 2026-10-01T09:00:00Z)", String())
}

func TestString_DefaultFormat(t *testing.T) {
	assert.Equal(t, "dev (unknown, unknown)", String())
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(ServiceName)(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, ServiceName, info.ServiceName)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}
