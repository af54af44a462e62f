// Package amf implements Action Message Format encoding and decoding —
// AMF0 number, boolean, string, long string, object, ECMA array, strict
// array, date, null and undefined values (the reference, XML document and
// typed-object markers are not decoded), and the minimal AMF3 marker compatibility the RTMP command
// layer needs (§4.B requires "AMF0 reader/writer"; §4.C's command layer
// additionally dispatches on an AMF3 marker byte the way Flash Media
// Server does for some FMLE clients).
//
// Grounded on the teacher's usage of github.com/gwuhaolin/livego's amf
// package across rtmp/cache.go, rtmp/conn_server.go, rtmp/core.go
// (amf.Encoder, amf.Decoder, amf.Object, amf.Version, amf.AMF0/AMF3,
// amf.MetaDataReform) — that package's API shape is preserved here as a
// from-scratch implementation, since the spec requires this repo to own
// its own wire codecs rather than depend on the upstream implementation.
package amf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

type Version int

const (
	AMF0 Version = 0
	AMF3 Version = 3
)

// AMF0 type markers.
const (
	markerNumber        = 0x00
	markerBoolean       = 0x01
	markerString        = 0x02
	markerObject        = 0x03
	markerNull          = 0x05
	markerUndefined     = 0x06
	markerReference     = 0x07
	markerECMAArray     = 0x08
	markerObjectEnd     = 0x09
	markerStrictArray   = 0x0A
	markerDate          = 0x0B
	markerLongString    = 0x0C
	markerUnsupported   = 0x0D
	markerXMLDocument   = 0x0F
	markerTypedObject   = 0x10
	markerAVMPlusObject = 0x11 // AMF3 switch marker
)

// Object models an AMF0 "object"/"ecma-array" as a plain Go map: Go maps
// don't preserve insertion order, so round-trips through map[string]
// interface{} would reorder keys; RTMP peers don't require byte-stable
// re-encoding, only value-stable decoding, so a plain map is adequate
// here and matches the teacher's amf.Object shape exactly.
type Object map[string]interface{}

// Undefined is the decoded value of an AMF "undefined" marker.
type Undefined struct{}

var ErrShortBuffer = errors.New("amf: short buffer")

// Encoder serializes Go values to AMF0 (AMF3 encoding is not needed on
// the server's egress path and is intentionally unsupported).
type Encoder struct{}

// Encode writes v to w in the given AMF version and returns the number
// of bytes written.
func (e *Encoder) Encode(w io.Writer, v interface{}, ver Version) (int, error) {
	if ver == AMF3 {
		return 0, fmt.Errorf("amf: encoding to AMF3 is unsupported")
	}
	return e.encodeAMF0(w, v)
}

// EncodeBatch writes each value in vs in sequence, returning total bytes.
func (e *Encoder) EncodeBatch(w io.Writer, ver Version, vs ...interface{}) (int, error) {
	total := 0
	for _, v := range vs {
		n, err := e.Encode(w, v, ver)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Encoder) encodeAMF0(w io.Writer, v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return w.Write([]byte{markerNull})
	case Undefined:
		return w.Write([]byte{markerUndefined})
	case bool:
		b := byte(0)
		if t {
			b = 1
		}
		return w.Write([]byte{markerBoolean, b})
	case float64:
		return e.encodeNumber(w, t)
	case int:
		return e.encodeNumber(w, float64(t))
	case uint32:
		return e.encodeNumber(w, float64(t))
	case string:
		return e.encodeString(w, t)
	case time.Time:
		return e.encodeDate(w, t)
	case Object:
		return e.encodeObject(w, t)
	case map[string]interface{}:
		return e.encodeObject(w, Object(t))
	case []interface{}:
		return e.encodeStrictArray(w, t)
	default:
		return 0, fmt.Errorf("amf: unsupported encode type %T", v)
	}
}

func (e *Encoder) encodeNumber(w io.Writer, f float64) (int, error) {
	buf := make([]byte, 9)
	buf[0] = markerNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(f))
	return w.Write(buf)
}

func (e *Encoder) encodeString(w io.Writer, s string) (int, error) {
	if len(s) > 0xFFFF {
		buf := make([]byte, 5)
		buf[0] = markerLongString
		binary.BigEndian.PutUint32(buf[1:], uint32(len(s)))
		n, err := w.Write(buf)
		if err != nil {
			return n, err
		}
		m, err := w.Write([]byte(s))
		return n + m, err
	}
	buf := make([]byte, 3)
	buf[0] = markerString
	binary.BigEndian.PutUint16(buf[1:], uint16(len(s)))
	n, err := w.Write(buf)
	if err != nil {
		return n, err
	}
	m, err := w.Write([]byte(s))
	return n + m, err
}

func (e *Encoder) encodeDate(w io.Writer, t time.Time) (int, error) {
	buf := make([]byte, 11)
	buf[0] = markerDate
	ms := float64(t.UnixNano() / int64(time.Millisecond))
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(ms))
	// timezone offset, unused by modern players; always zero.
	return w.Write(buf)
}

func (e *Encoder) encodeObject(w io.Writer, obj Object) (int, error) {
	total := 0
	n, err := w.Write([]byte{markerObject})
	if err != nil {
		return n, err
	}
	total += n

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		n, err = e.encodeUTF8(w, k)
		if err != nil {
			return total, err
		}
		total += n
		n, err = e.encodeAMF0(w, obj[k])
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err = e.encodeUTF8(w, "")
	if err != nil {
		return total, err
	}
	total += n
	n, err = w.Write([]byte{markerObjectEnd})
	return total + n, err
}

func (e *Encoder) encodeStrictArray(w io.Writer, arr []interface{}) (int, error) {
	buf := make([]byte, 5)
	buf[0] = markerStrictArray
	binary.BigEndian.PutUint32(buf[1:], uint32(len(arr)))
	total, err := w.Write(buf)
	if err != nil {
		return total, err
	}
	for _, v := range arr {
		n, err := e.encodeAMF0(w, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Encoder) encodeUTF8(w io.Writer, s string) (int, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	n, err := w.Write(buf)
	if err != nil {
		return n, err
	}
	m, err := w.Write([]byte(s))
	return n + m, err
}

// Decoder parses AMF0 and AMF3-switched-to-AMF0 streams.
type Decoder struct{}

// DecodeBatch reads every top-level value from r until EOF, in the given
// AMF version.
func (d *Decoder) DecodeBatch(r io.Reader, ver Version) ([]interface{}, error) {
	br, ok := r.(*bytes.Reader)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		br = bytes.NewReader(b)
	}
	var out []interface{}
	for {
		v, err := d.decodeOne(br, ver)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, io.EOF
			}
			return out, err
		}
		out = append(out, v)
	}
}

func (d *Decoder) decodeOne(r *bytes.Reader, ver Version) (interface{}, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return nil, io.EOF
	}
	if ver == AMF3 && marker == markerAVMPlusObject {
		marker, err = r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
	}
	switch marker {
	case markerNumber:
		return d.decodeNumber(r)
	case markerBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return nil, ErrShortBuffer
		}
		return b != 0, nil
	case markerString:
		return d.decodeUTF8(r)
	case markerLongString:
		return d.decodeLongString(r)
	case markerNull:
		return nil, nil
	case markerUndefined:
		return Undefined{}, nil
	case markerObject:
		return d.decodeObject(r)
	case markerECMAArray:
		return d.decodeECMAArray(r)
	case markerStrictArray:
		return d.decodeStrictArray(r)
	case markerDate:
		return d.decodeDate(r)
	case markerObjectEnd:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("amf: unsupported marker 0x%02x", marker)
	}
}

func (d *Decoder) decodeNumber(r *bytes.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortBuffer
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

func (d *Decoder) decodeUTF8(r *bytes.Reader) (string, error) {
	var lbuf [2]byte
	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return "", ErrShortBuffer
	}
	n := binary.BigEndian.Uint16(lbuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrShortBuffer
	}
	return string(buf), nil
}

func (d *Decoder) decodeLongString(r *bytes.Reader) (string, error) {
	var lbuf [4]byte
	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return "", ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(lbuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrShortBuffer
	}
	return string(buf), nil
}

func (d *Decoder) decodeObject(r *bytes.Reader) (Object, error) {
	obj := Object{}
	for {
		key, err := d.decodeUTF8(r)
		if err != nil {
			return nil, err
		}
		marker, err := r.ReadByte()
		if err != nil {
			return nil, ErrShortBuffer
		}
		if marker == markerObjectEnd {
			if key != "" {
				return nil, fmt.Errorf("amf: malformed object terminator")
			}
			return obj, nil
		}
		if err := r.UnreadByte(); err != nil {
			return nil, err
		}
		v, err := d.decodeOne(r, AMF0)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
}

func (d *Decoder) decodeECMAArray(r *bytes.Reader) (Object, error) {
	var cbuf [4]byte
	if _, err := io.ReadFull(r, cbuf[:]); err != nil {
		return nil, ErrShortBuffer
	}
	return d.decodeObject(r)
}

func (d *Decoder) decodeStrictArray(r *bytes.Reader) ([]interface{}, error) {
	var cbuf [4]byte
	if _, err := io.ReadFull(r, cbuf[:]); err != nil {
		return nil, ErrShortBuffer
	}
	count := binary.BigEndian.Uint32(cbuf[:])
	out := make([]interface{}, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := d.decodeOne(r, AMF0)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) decodeDate(r *bytes.Reader) (time.Time, error) {
	ms, err := d.decodeNumber(r)
	if err != nil {
		return time.Time{}, err
	}
	var tzbuf [2]byte
	if _, err := io.ReadFull(r, tzbuf[:]); err != nil {
		return time.Time{}, ErrShortBuffer
	}
	return time.UnixMilli(int64(ms)), nil
}

// ReformAction controls MetaDataReform's behavior.
type ReformAction int

const (
	// Add inserts the @setDataFrame command name before onMetaData
	// payloads so they can be replayed as a command message.
	Add ReformAction = iota
	// Del strips that command name back off, for writing a bare
	// onMetaData script tag into FLV/DVR output.
	Del
)

// MetaDataReform adds or removes the leading "@setDataFrame" AMF string
// from a script-data payload. Grounded on the teacher's
// amf.MetaDataReform(p.Data, amf.DEL) call in rtmp/cache.go's FLVWriter.
func MetaDataReform(data []byte, action ReformAction) ([]byte, error) {
	dec := &Decoder{}
	enc := &Encoder{}
	r := bytes.NewReader(data)

	switch action {
	case Del:
		first, err := dec.decodeOne(r, AMF0)
		if err != nil {
			return nil, err
		}
		if s, ok := first.(string); !ok || s != "@setDataFrame" {
			// Not reformed; return as-is.
			return data, nil
		}
		rest, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return rest, nil
	case Add:
		var buf bytes.Buffer
		if _, err := enc.Encode(&buf, "@setDataFrame", AMF0); err != nil {
			return nil, err
		}
		buf.Write(data)
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}
