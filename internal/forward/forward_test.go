package forward

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
)

func TestPullerEnsureReturnsFalseWithoutOrigin(t *testing.T) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	h := hub.New(cfg)
	defer h.Stop()

	p := NewPuller(h, metrics.New(), logrus.NewEntry(logrus.New()))
	ok := p.Ensure(hub.StreamKey{App: "live", Stream: "x"}, "", 1, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestPusherStartWithNoPeersSpawnsNothing(t *testing.T) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	h := hub.New(cfg)
	defer h.Stop()

	p := NewPusher(h, metrics.New(), logrus.NewEntry(logrus.New()))
	stop := make(chan struct{})
	p.Start(hub.StreamKey{App: "live", Stream: "x"}, nil, 1, stop)
	close(stop)
}
