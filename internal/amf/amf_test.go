package amf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v interface{}) interface{} {
	var buf bytes.Buffer
	enc := &Encoder{}
	_, err := enc.Encode(&buf, v, AMF0)
	require.NoError(t, err)

	dec := &Decoder{}
	out, err := dec.DecodeBatch(&buf, AMF0)
	require.True(t, err == nil || err == io.EOF)
	require.Len(t, out, 1)
	return out[0]
}

func TestRoundTripScalars(t *testing.T) {
	require.Equal(t, float64(42), roundTrip(t, float64(42)))
	require.Equal(t, true, roundTrip(t, true))
	require.Equal(t, false, roundTrip(t, false))
	require.Equal(t, "hello", roundTrip(t, "hello"))
	require.Nil(t, roundTrip(t, nil))
	require.Equal(t, Undefined{}, roundTrip(t, Undefined{}))
}

func TestRoundTripObject(t *testing.T) {
	obj := Object{"width": float64(1280), "height": float64(720), "codec": "avc1"}
	got := roundTrip(t, obj)
	gotObj, ok := got.(Object)
	require.True(t, ok)
	require.Equal(t, obj, gotObj)
}

func TestRoundTripStrictArray(t *testing.T) {
	arr := []interface{}{float64(1), "two", true}
	got := roundTrip(t, arr)
	gotArr, ok := got.([]interface{})
	require.True(t, ok)
	require.Equal(t, arr, gotArr)
}

func TestEncodeBatchDecodeBatch(t *testing.T) {
	var buf bytes.Buffer
	enc := &Encoder{}
	_, err := enc.EncodeBatch(&buf, AMF0, "connect", float64(1), Object{"app": "live"})
	require.NoError(t, err)

	dec := &Decoder{}
	out, err := dec.DecodeBatch(&buf, AMF0)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, "connect", out[0])
	require.Equal(t, float64(1), out[1])
	require.Equal(t, Object{"app": "live"}, out[2])
}

func TestMetaDataReformRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := &Encoder{}
	_, err := enc.EncodeBatch(&buf, AMF0, "onMetaData", Object{"width": float64(1280)})
	require.NoError(t, err)

	added, err := MetaDataReform(buf.Bytes(), Add)
	require.NoError(t, err)

	removed, err := MetaDataReform(added, Del)
	require.NoError(t, err)
	require.Equal(t, buf.Bytes(), removed)
}
