package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/importer/config"
	"github.com/catalogsync/importer/internal/domain"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type staticProgress domain.Progress

func (p staticProgress) Progress() domain.Progress {
	return domain.Progress(p)
}

func setupTestRouter(progress ProgressSource) *gin.Engine {
	cfg := &config.Config{
		Log:    config.LogConfig{Environment: "test"},
		Status: config.StatusConfig{AllowedOrigins: []string{"http://localhost:*"}},
	}
	return SetupRouter(cfg, NewHandler(progress, "test"))
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "catalog-importer", body["service"])
	assert.Equal(t, "test", body["version"])
}

func TestStatus(t *testing.T) {
	progress := staticProgress{
		JobID:              "nightly",
		RunID:              "run-1",
		State:              "running",
		TotalRecords:       10,
		LastCommittedIndex: 5,
		Committed:          4,
		Failed:             1,
		Skipped:            1,
	}
	router := setupTestRouter(progress)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Progress  domain.Progress `json:"progress"`
		Processed int             `json:"processed"`
		Remaining int             `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "nightly", body.Progress.JobID)
	assert.Equal(t, 5, body.Progress.LastCommittedIndex)
	assert.Equal(t, 6, body.Processed)
	assert.Equal(t, 4, body.Remaining)
}

func TestStatus_NoRun(t *testing.T) {
	router := setupTestRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	router := setupTestRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/products", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", setupTestRouter(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + srv.Addr() + "/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "healthy")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
