package hub

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
)

func testHub(t *testing.T) *Hub {
	store, err := config.Load("")
	require.NoError(t, err)
	h := New(store)
	t.Cleanup(h.Stop)
	return h
}

type fakeVideoHeader struct {
	keyFrame bool
	seq      bool
}

func (h fakeVideoHeader) IsKeyFrame() bool     { return h.keyFrame }
func (h fakeVideoHeader) IsSequenceHeader() bool { return h.seq }
func (h fakeVideoHeader) CodecID() uint8       { return av.CodecH264 }
func (h fakeVideoHeader) CompositionTime() int32 { return 0 }

type fakeAudioHeader struct {
	seq bool
}

func (h fakeAudioHeader) SoundFormat() uint8 { return av.SoundAAC }
func (h fakeAudioHeader) AACPacketType() uint8 {
	if h.seq {
		return av.AACSeqHeader
	}
	return av.AACRaw
}

func TestPublishAtMostOne(t *testing.T) {
	h := testHub(t)
	key := StreamKey{App: "live", Stream: "a"}

	p1, err := h.Publish(key)
	require.NoError(t, err)
	require.NotNil(t, p1)

	_, err = h.Publish(key)
	require.Error(t, err)
}

func TestColdStartOrdering(t *testing.T) {
	h := testHub(t)
	key := StreamKey{App: "live", Stream: "b"}

	handle, err := h.Publish(key)
	require.NoError(t, err)

	meta := &av.Packet{IsMetadata: true, TimeStamp: 0, Data: []byte("meta")}
	require.NoError(t, h.OnMessage(handle, meta))

	audioSH := &av.Packet{IsAudio: true, TimeStamp: 0, Header: fakeAudioHeader{seq: true}, Data: []byte("ash")}
	require.NoError(t, h.OnMessage(handle, audioSH))

	videoSH := &av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true, seq: true}, Data: []byte("vsh")}
	require.NoError(t, h.OnMessage(handle, videoSH))

	keyFrame := &av.Packet{IsVideo: true, TimeStamp: 40, Header: fakeVideoHeader{keyFrame: true}, Data: []byte("kf")}
	require.NoError(t, h.OnMessage(handle, keyFrame))

	play, err := h.Play(key, true, true, true)
	require.NoError(t, err)

	p, err := play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsMetadata)

	p, err = play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsAudio)

	p, err = play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsVideo)
	vh := p.Header.(fakeVideoHeader)
	require.True(t, vh.seq)

	p, err = play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsVideo)
	require.Equal(t, uint32(40), p.TimeStamp)
}

func testHubWithGopCache(t *testing.T, enabled bool) *Hub {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yaml := "vhost:\n  - name: __defaultVhost__\n    gop_cache: " + boolYAML(enabled) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	store, err := config.Load(path)
	require.NoError(t, err)
	h := New(store)
	t.Cleanup(h.Stop)
	return h
}

func boolYAML(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// TestGopCacheDisabledSkipsReplay covers testable property 4: disabling
// vhost.gop_cache must actually skip the cold-start keyframe replay,
// not just produce a cache of size one.
func TestGopCacheDisabledSkipsReplay(t *testing.T) {
	h := testHubWithGopCache(t, false)
	key := StreamKey{App: "live", Stream: "nogop"}

	handle, err := h.Publish(key)
	require.NoError(t, err)

	videoSH := &av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true, seq: true}, Data: []byte("vsh")}
	require.NoError(t, h.OnMessage(handle, videoSH))

	keyFrame := &av.Packet{IsVideo: true, TimeStamp: 40, Header: fakeVideoHeader{keyFrame: true}, Data: []byte("kf")}
	require.NoError(t, h.OnMessage(handle, keyFrame))

	play, err := h.Play(key, true, true, true)
	require.NoError(t, err)

	// Only the video sequence header is replayed; the cached keyframe
	// itself must not be.
	p, err := play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsVideo)
	vh := p.Header.(fakeVideoHeader)
	require.True(t, vh.seq)

	select {
	case <-play.notify:
		t.Fatal("unexpected queued packet: gop cache should be empty when disabled")
	default:
	}
	require.Empty(t, play.queue)
}

func TestGopCacheEnabledReplaysKeyframe(t *testing.T) {
	h := testHubWithGopCache(t, true)
	key := StreamKey{App: "live", Stream: "withgop"}

	handle, err := h.Publish(key)
	require.NoError(t, err)

	videoSH := &av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true, seq: true}, Data: []byte("vsh")}
	require.NoError(t, h.OnMessage(handle, videoSH))

	keyFrame := &av.Packet{IsVideo: true, TimeStamp: 40, Header: fakeVideoHeader{keyFrame: true}, Data: []byte("kf")}
	require.NoError(t, h.OnMessage(handle, keyFrame))

	play, err := h.Play(key, true, true, true)
	require.NoError(t, err)

	p, err := play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsVideo) // sequence header

	p, err = play.Pop()
	require.NoError(t, err)
	require.True(t, p.IsVideo)
	require.Equal(t, uint32(40), p.TimeStamp) // the cached keyframe itself
}

func TestPublisherCloseSendsEOFToConsumers(t *testing.T) {
	h := testHub(t)
	key := StreamKey{App: "live", Stream: "c"}

	handle, err := h.Publish(key)
	require.NoError(t, err)

	play, err := h.Play(key, true, true, true)
	require.NoError(t, err)

	h.ClosePublish(handle, nil)

	done := make(chan struct{})
	go func() {
		_, err := play.Pop()
		require.Error(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF")
	}
}
