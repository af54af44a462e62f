package rtmp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/pool"
)

// TestChunkizeDechunkizeIdentity exercises the §8 law that writing a
// message out as chunks and reading it back through the chunk-stream
// state machine reproduces the original message, across a payload
// large enough to force several chunkSize-bounded fragments plus a
// type-3 continuation.
func TestChunkizeDechunkizeIdentity(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	original := &chunkStream{
		Format:    0,
		CSID:      6,
		Timestamp: 12345,
		Length:    uint32(len(payload)),
		TypeID:    typeVideo,
		StreamID:  1,
		Data:      payload,
	}

	var buf bytes.Buffer
	w := newReadWriter(&buf, 4096)
	require.NoError(t, original.writeChunk(w, 128))
	require.NoError(t, w.Flush())

	r := newReadWriter(&buf, 4096)
	p := pool.New()
	got := &chunkStream{}
	for {
		h, err := r.ReadUintBE(1)
		require.NoError(t, err)
		got.tmpFormat = h >> 6
		got.CSID = h & 0x3f
		require.NoError(t, got.readChunk(r, 128, p))
		if got.full() {
			break
		}
	}

	assert.Equal(t, original.Timestamp, got.Timestamp)
	assert.Equal(t, original.Length, got.Length)
	assert.Equal(t, original.TypeID, got.TypeID)
	assert.Equal(t, original.StreamID, got.StreamID)
	assert.Equal(t, original.Data, got.Data)
}

// TestChunkizeDechunkizeIdentitySmall covers the common case of a
// payload that fits in a single chunk (no type-3 continuation at all).
func TestChunkizeDechunkizeIdentitySmall(t *testing.T) {
	payload := []byte("connect command payload")
	original := &chunkStream{
		Format:    0,
		CSID:      3,
		Timestamp: 0,
		Length:    uint32(len(payload)),
		TypeID:    typeAMF0Command,
		StreamID:  0,
		Data:      payload,
	}

	var buf bytes.Buffer
	w := newReadWriter(&buf, 4096)
	require.NoError(t, original.writeChunk(w, 4096))
	require.NoError(t, w.Flush())

	r := newReadWriter(&buf, 4096)
	p := pool.New()
	h, err := r.ReadUintBE(1)
	require.NoError(t, err)
	got := &chunkStream{tmpFormat: h >> 6, CSID: h & 0x3f}
	require.NoError(t, got.readChunk(r, 4096, p))
	assert.True(t, got.full())
	assert.Equal(t, original.Data, got.Data)
}
