package rtmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseURLFull(t *testing.T) {
	addr, app, stream, err := ParseURL("rtmp://edge.example.com:1935/live/camera1")
	assert.NoError(t, err)
	assert.Equal(t, "edge.example.com:1935", addr)
	assert.Equal(t, "live", app)
	assert.Equal(t, "camera1", stream)
}

func TestParseURLDefaultsPort(t *testing.T) {
	addr, app, stream, err := ParseURL("rtmp://origin.example.com/live/camera1")
	assert.NoError(t, err)
	assert.Equal(t, "origin.example.com:1935", addr)
	assert.Equal(t, "live", app)
	assert.Equal(t, "camera1", stream)
}

func TestParseURLHostOnly(t *testing.T) {
	addr, app, stream, err := ParseURL("rtmp://origin.example.com:1936")
	assert.NoError(t, err)
	assert.Equal(t, "origin.example.com:1936", addr)
	assert.Empty(t, app)
	assert.Empty(t, stream)
}

func TestTCURLFormatsStandardScheme(t *testing.T) {
	assert.Equal(t, "rtmp://host:1935/live", TCURL("host:1935", "live"))
}
