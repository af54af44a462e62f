package main

import (
	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/dash"
	"github.com/streamhub/streamhub/internal/forward"
	"github.com/streamhub/streamhub/internal/hls"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
)

// onPublish starts every output this vhost wants for a freshly
// published key: the HLS and DASH segmenters (§4.E/§4.F) if enabled,
// and the Forwarder's push side (§4.H) for any configured peers. Every
// spawned loop is torn down when stop closes at session end.
func onPublish(h *hub.Hub, cfg *config.Store, met *metrics.Metrics, key hub.StreamKey, stop <-chan struct{}, pusher *forward.Pusher, log *logrus.Entry) {
	vh := cfg.VHost(key.VHost)
	segLog := log.WithField("stream_key", key.String())

	if vh.HLS.Enabled {
		seg, err := hls.NewSegmenter(h, key, vh.HLS, met, segLog)
		if err != nil {
			segLog.WithError(err).Error("hls segmenter: failed to start")
		} else {
			go func() {
				if err := seg.Run(stop); err != nil {
					segLog.WithError(err).Warn("hls segmenter stopped")
				}
			}()
		}
	}

	if vh.DASH.Enabled {
		seg, err := dash.NewSegmenter(h, key, vh.DASH, met, segLog)
		if err != nil {
			segLog.WithError(err).Error("dash segmenter: failed to start")
		} else {
			go func() {
				if err := seg.Run(stop); err != nil {
					segLog.WithError(err).Warn("dash segmenter stopped")
				}
			}()
		}
	}

	if len(vh.Forward.Destination) > 0 {
		pusher.Start(key, vh.Forward.Destination, vh.Forward.MaxAttempts, stop)
	}
}
