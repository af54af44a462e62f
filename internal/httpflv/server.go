// Package httpflv implements the §4.G HTTP-FLV/HTTP-TS proxy: a chi
// router that, on GET /<app>/<stream>.flv|.ts, attaches as a play
// consumer to the hub and streams the consumer's output as an FLV or
// MPEG-TS body, plus the HLS/DASH manifest and segment static routes
// and a general static-file server.
//
// Grounded on the pack's Emibrown-HLS-Playlist-Orchestrator handler.go
// for the chi routing/response-status conventions, and on
// internal/flv.Muxer/internal/tsmux.Muxer for the live body encoding.
package httpflv

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/errs"
	"github.com/streamhub/streamhub/internal/flv"
	"github.com/streamhub/streamhub/internal/forward"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/tsmux"
)

// edgePullWait bounds how long a live-body request waits for the
// Edge Puller's first packet before falling back to 404, per §4.H's
// "triggered lazily by play on a missing source".
const edgePullWait = 3 * time.Second

// Server serves live HTTP-FLV/HTTP-TS bodies, HLS/DASH static output,
// and general static files under one chi router.
type Server struct {
	hub     *hub.Hub
	cfg     *config.Store
	metrics *metrics.Metrics
	log     *logrus.Entry
	mux     *chi.Mux
	puller  *forward.Puller
}

func NewServer(h *hub.Hub, cfg *config.Store, m *metrics.Metrics, log *logrus.Entry) *Server {
	s := &Server{hub: h, cfg: cfg, metrics: m, log: log, mux: chi.NewRouter(), puller: forward.NewPuller(h, m, log)}
	s.routes()
	return s
}

// ensureSource attempts an edge pull for key if no source exists yet
// and the vhost names an origin, blocking up to edgePullWait.
func (s *Server) ensureSource(key hub.StreamKey) bool {
	if _, ok := s.hub.Lookup(key); ok {
		return true
	}
	vh := s.cfg.VHost(key.VHost)
	if vh.Forward.Origin == "" {
		return false
	}
	return s.puller.Ensure(key, vh.Forward.Origin, vh.Forward.MaxAttempts, edgePullWait)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.Get("/{app}/{stream}.flv", s.handleLiveFLV)
	s.mux.Get("/{app}/{stream}.ts", s.handleLiveTS)
	s.mux.Get("/{app}/{stream}/index.m3u8", s.handleHLSManifest)
	s.mux.Get("/{app}/{stream}/{segment}.ts", s.handleHLSSegment)
	s.mux.Get("/{app}/{stream}/manifest.mpd", s.handleDASHManifest)
	s.mux.Get("/{app}/{stream}/{segment}.m4s", s.handleDASHSegment)
	s.mux.Get("/{app}/{stream}/{segment}.mp4", s.handleDASHSegment)
	s.mux.Get("/*", s.handleStatic)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler(s.refreshMetrics))
	}
}

// refreshMetrics updates the gauge-style metrics from live hub state
// right before each Prometheus scrape.
func (s *Server) refreshMetrics() {
	sources, consumers := s.hub.Stats()
	s.metrics.SetActiveSources(sources)
	s.metrics.SetActiveConsumers(consumers)
}

func keyFrom(r *http.Request) hub.StreamKey {
	return hub.StreamKey{
		VHost:  r.URL.Query().Get("vhost"),
		App:    chi.URLParam(r, "app"),
		Stream: chi.URLParam(r, "stream"),
	}.Normalize()
}

// handleLiveFLV implements §4.G's FLV body: 13-byte header, then
// sequence headers, GOP cache, and live packets as FLV tags — exactly
// what hub.Play's cold-start replay already orders correctly.
func (s *Server) handleLiveFLV(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)
	if !s.ensureSource(key) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handle, err := s.hub.Play(key, true, true, true)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	defer s.hub.ClosePlay(handle)

	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	if err := flv.WriteHeader(w); err != nil {
		return
	}
	flusher, _ := w.(http.Flusher)
	mux := flv.NewMuxer(w)

	for {
		p, err := handle.Pop()
		if err != nil {
			return
		}
		if err := mux.WriteTag(p); err != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.AddBytesOut(len(p.Data))
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleLiveTS mirrors handleLiveFLV but muxes into MPEG-TS instead of
// FLV tags, for players that only speak HTTP-TS.
func (s *Server) handleLiveTS(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)
	if !s.ensureSource(key) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handle, err := s.hub.Play(key, true, true, false)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	defer s.hub.ClosePlay(handle)

	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	mux := tsmux.NewMuxer(w)

	for {
		p, err := handle.Pop()
		if err != nil {
			return
		}
		if err := mux.WritePacket(p); err != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.AddBytesOut(len(p.Data))
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// writeStreamError maps a hub error's Kind to a response status: a
// NotFound error is a 404; a claim conflict, an exhausted queue or
// anything else is a 503.
func writeStreamError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.CodeNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// handleHLSManifest and handleHLSSegment serve the files
// internal/hls.Segmenter already wrote to disk; range requests on
// live paths are rejected per §4.G.
func (s *Server) handleHLSManifest(w http.ResponseWriter, r *http.Request) {
	vh := s.cfg.VHost(r.URL.Query().Get("vhost"))
	path := filepath.Join(vh.HLS.Path, keyFrom(r).VHost, chi.URLParam(r, "app"), chi.URLParam(r, "stream"), "index.m3u8")
	serveNoRange(w, r, path, "application/vnd.apple.mpegurl")
}

func (s *Server) handleHLSSegment(w http.ResponseWriter, r *http.Request) {
	vh := s.cfg.VHost(r.URL.Query().Get("vhost"))
	name := chi.URLParam(r, "segment") + ".ts"
	path := filepath.Join(vh.HLS.Path, keyFrom(r).VHost, chi.URLParam(r, "app"), chi.URLParam(r, "stream"), name)
	serveNoRange(w, r, path, "video/MP2T")
}

func (s *Server) handleDASHManifest(w http.ResponseWriter, r *http.Request) {
	vh := s.cfg.VHost(r.URL.Query().Get("vhost"))
	path := filepath.Join(vh.DASH.Path, keyFrom(r).VHost, chi.URLParam(r, "app"), chi.URLParam(r, "stream"), "manifest.mpd")
	serveNoRange(w, r, path, "application/dash+xml")
}

func (s *Server) handleDASHSegment(w http.ResponseWriter, r *http.Request) {
	vh := s.cfg.VHost(r.URL.Query().Get("vhost"))
	name := chi.URLParam(r, "segment") + filepath.Ext(r.URL.Path)
	path := filepath.Join(vh.DASH.Path, keyFrom(r).VHost, chi.URLParam(r, "app"), chi.URLParam(r, "stream"), name)
	serveNoRange(w, r, path, "video/mp4")
}

func serveNoRange(w http.ResponseWriter, r *http.Request, path, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(path), time.Time{}, f)
}

// handleStatic serves everything else from the default vhost's static
// root, supporting Range requests — §4.G's "SrsHttpFileServer behavior"
// for on-demand files, unlike the live/segment routes above.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	root := s.cfg.VHost("").HLS.Path // static files share the HLS output tree's parent by convention
	clean := filepath.Clean(strings.TrimPrefix(r.URL.Path, "/"))
	path := filepath.Join(filepath.Dir(root), clean)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if ext := filepath.Ext(path); ext == ".mp4" {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", "inline; filename=\""+filepath.Base(path)+"\"")
	}
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
