package httpflv

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
)

func testServer(t *testing.T) (*Server, *hub.Hub) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	h := hub.New(cfg)
	t.Cleanup(h.Stop)
	return NewServer(h, cfg, metrics.New(), logrus.NewEntry(logrus.New())), h
}

func TestHandleLiveFLVNotFoundWithoutPublisher(t *testing.T) {
	s, _ := testServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live/nobody.flv", nil)
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleLiveTSNotFoundWithoutPublisher(t *testing.T) {
	s, _ := testServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live/nobody.ts", nil)
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHLSManifestNotFoundWhenFileMissing(t *testing.T) {
	s, _ := testServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live/stream/index.m3u8", nil)
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleDASHManifestServesWrittenFile(t *testing.T) {
	s, _ := testServer(t)

	vh := s.cfg.VHost("")
	dir := filepath.Join(vh.DASH.Path, config.DefaultVHostName, "live", "stream")
	assert.NoError(t, os.MkdirAll(dir, 0o755))
	t.Cleanup(func() { os.RemoveAll(vh.DASH.Path) })
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.mpd"), []byte("<MPD/>"), 0o644))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live/stream/manifest.mpd?vhost="+config.DefaultVHostName, nil)
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/dash+xml", rr.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, "<MPD/>", string(body))
}

func TestHandleMetricsServesPrometheusExposition(t *testing.T) {
	s, _ := testServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "livehub_active_sources")
}

func TestKeyFromNormalizesEmptyVHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/live/stream.flv", nil)
	key := keyFrom(req)
	assert.Equal(t, config.DefaultVHostName, key.VHost)
}
