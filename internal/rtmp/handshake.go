package rtmp

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"github.com/streamhub/streamhub/internal/errs"
	"github.com/streamhub/streamhub/internal/pio"
)

// handshakeTimeout bounds the C0..S2 exchange; a stalled handshake is a
// fatal condition per §4.C.
const handshakeTimeout = 5 * time.Second

var (
	hsClientFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	hsServerFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	hsClientPartialKey = hsClientFullKey[:30]
	hsServerPartialKey = hsServerFullKey[:36]
)

func hsMakeDigest(key, src []byte, gap int) []byte {
	h := hmac.New(sha256.New, key)
	if gap <= 0 {
		h.Write(src)
	} else {
		h.Write(src[:gap])
		h.Write(src[gap+32:])
	}
	return h.Sum(nil)
}

func hsCalcDigestPos(p []byte, base int) int {
	pos := 0
	for i := 0; i < 4; i++ {
		pos += int(p[base+i])
	}
	return (pos % 728) + base + 4
}

func hsFindDigest(p, key []byte, base int) int {
	gap := hsCalcDigestPos(p, base)
	digest := hsMakeDigest(key, p, gap)
	if !bytes.Equal(p[gap:gap+32], digest) {
		return -1
	}
	return gap
}

// hsParse1 inspects C1 for either schema the complex handshake uses
// (digest at offset 772 or offset 8) and returns the key material the
// server needs for S2, or ok=false if C1 has no valid digest (i.e. a
// pre-complex-handshake simple client).
func hsParse1(p, peerKey, key []byte) (ok bool, digest []byte) {
	pos := hsFindDigest(p, peerKey, 772)
	if pos == -1 {
		pos = hsFindDigest(p, peerKey, 8)
		if pos == -1 {
			return false, nil
		}
	}
	return true, hsMakeDigest(key, p[pos:pos+32], -1)
}

func hsCreate01(p []byte, serverTime, serverVer uint32, key []byte) {
	p[0] = 3
	p1 := p[1:]
	rand.Read(p1[8:])
	pio.PutU32BE(p1[0:4], serverTime)
	pio.PutU32BE(p1[4:8], serverVer)
	gap := hsCalcDigestPos(p1, 8)
	digest := hsMakeDigest(key, p1, gap)
	copy(p1[gap:], digest)
}

func hsCreate2(p, key []byte) {
	rand.Read(p)
	gap := len(p) - 32
	digest := hsMakeDigest(key, p, gap)
	copy(p[gap:], digest)
}

// handshakeServer runs the §4.C "both simple and complex" handshake,
// auto-detecting which schema the client speaks from C1's version
// field — grounded on the teacher's Conn.HandshakeServer.
func handshakeServer(rw *readWriter, deadliner interface{ SetDeadline(time.Time) error }) error {
	var buf [(1 + 1536*2) * 2]byte
	C0C1C2 := buf[:1536*2+1]
	C0 := C0C1C2[:1]
	C1 := C0C1C2[1 : 1536+1]
	C0C1 := C0C1C2[:1536+1]
	C2 := C0C1C2[1536+1:]

	S0S1S2 := buf[1536*2+1:]
	S0 := S0S1S2[:1]
	S1 := S0S1S2[1 : 1536+1]
	S0S1 := S0S1S2[:1536+1]
	S2 := S0S1S2[1536+1:]

	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := io.ReadFull(rw, C0C1); err != nil {
		return errs.IO("handshake read C0C1", err)
	}
	if C0[0] != 3 {
		return errs.ProtocolViolation("handshake: unsupported RTMP version")
	}
	S0[0] = 3

	clientTime := pio.U32BE(C1[0:4])
	clientVer := pio.U32BE(C1[4:8])

	if clientVer != 0 {
		ok, digest := hsParse1(C1, hsClientPartialKey, hsServerFullKey)
		if !ok {
			return errs.ProtocolViolation("handshake: invalid complex-handshake C1")
		}
		hsCreate01(S0S1, clientTime, 0x0d0e0a0d, hsServerPartialKey)
		hsCreate2(S2, digest)
	} else {
		copy(S1, C2)
		copy(S2, C1)
	}

	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := rw.Write(S0S1S2); err != nil {
		return errs.IO("handshake write S0S1S2", err)
	}
	if err := rw.Flush(); err != nil {
		return errs.IO("handshake flush", err)
	}

	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := io.ReadFull(rw, C2); err != nil {
		return errs.IO("handshake read C2", err)
	}
	deadliner.SetDeadline(time.Time{})
	return nil
}

// handshakeClient runs the client half of the handshake, grounded on
// the teacher's ConnClient.connect -> Conn.HandshakeClient. It always
// speaks the simple schema (C1's version word left at zero) — every
// server this codebase talks to, including its own handshakeServer,
// falls back to the simple echo path for a zero client version, and
// the Forwarder has no need for the complex digest's extra proof of
// Flash Player lineage.
func handshakeClient(rw *readWriter, deadliner interface{ SetDeadline(time.Time) error }) error {
	var buf [1537 + 3073]byte
	C0C1 := buf[:1537]
	C1 := C0C1[1:]
	S0S1S2 := buf[1537:]
	S1 := S0S1S2[1:1537]
	C2 := make([]byte, 1536)

	C0C1[0] = 3
	pio.PutU32BE(C1[0:4], uint32(time.Now().Unix()))
	pio.PutU32BE(C1[4:8], 0)
	rand.Read(C1[8:])

	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := rw.Write(C0C1); err != nil {
		return errs.IO("handshake write C0C1", err)
	}
	if err := rw.Flush(); err != nil {
		return errs.IO("handshake flush", err)
	}

	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := io.ReadFull(rw, S0S1S2); err != nil {
		return errs.IO("handshake read S0S1S2", err)
	}

	copy(C2, S1)
	deadliner.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := rw.Write(C2); err != nil {
		return errs.IO("handshake write C2", err)
	}
	if err := rw.Flush(); err != nil {
		return errs.IO("handshake flush", err)
	}
	deadliner.SetDeadline(time.Time{})
	return nil
}
