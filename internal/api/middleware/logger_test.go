package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(buf)))
	r.POST("/orgs/:id/sync", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/sync/status", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "down"})
	})
	return r
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestRequestLoggerOrgRoute(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orgs/8b9c2f40-0000-0000-0000-000000000001/sync", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	entry := lastLogLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/orgs/:id/sync", entry["route"])
	assert.Equal(t, "8b9c2f40-0000-0000-0000-000000000001", entry["org_id"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", lastLogLine(t, &buf)["level"])

	buf.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "warn", lastLogLine(t, &buf)["level"])
}

func TestRequestLoggerRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sync/status?since=2026-01-01T00%3A00%3A00Z&api_key=s3cret", nil)
	r.ServeHTTP(w, req)

	query, ok := lastLogLine(t, &buf)["query"].(string)
	require.True(t, ok)
	assert.NotContains(t, query, "s3cret")
	assert.Contains(t, query, "%5BREDACTED%5D")
	assert.Contains(t, query, "since=")
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "", redactQuery(""))
	assert.Equal(t, "tables=devices", redactQuery("tables=devices"))
	assert.Equal(t, "token=%5BREDACTED%5D", redactQuery("token=abc"))
	assert.Equal(t, "session_token=%5BREDACTED%5D", redactQuery("session_token=abc"))
	assert.Equal(t, "[UNPARSEABLE]", redactQuery("a=%zz"))
}
