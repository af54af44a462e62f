package tsmux

import (
	"encoding/binary"

	"github.com/streamhub/streamhub/internal/errs"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// ParseAVCDecoderConfig exposes parseAVCDecoderConfig for callers
// outside this package (the DASH segmenter's fMP4 avcC box needs the
// same SPS/PPS/length-size extraction from the AVCSeqHeader body).
func ParseAVCDecoderConfig(rec []byte) (nalLenSize int, sps, pps []byte, err error) {
	return parseAVCDecoderConfig(rec)
}

// AVCCToAnnexB exposes avccToAnnexB for callers outside this package.
func AVCCToAnnexB(nalLenSize int, sps, pps, avcc []byte, keyFrame bool) ([]byte, error) {
	return avccToAnnexB(nalLenSize, sps, pps, avcc, keyFrame)
}

// ParseAudioSpecificConfig pulls sample rate and channel count out of a
// 2-byte AAC AudioSpecificConfig, for callers that need them outside
// the ADTS-header path (the DASH segmenter's audio track timescale).
func ParseAudioSpecificConfig(asc []byte) (sampleRate uint32, channels uint8) {
	if len(asc) < 2 {
		return 0, 0
	}
	sampleIdx := (asc[0]&0x07)<<1 | asc[1]>>7
	channels = (asc[1] >> 3) & 0x0f
	rates := [...]uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
		16000, 12000, 11025, 8000, 7350}
	if int(sampleIdx) < len(rates) {
		sampleRate = rates[sampleIdx]
	}
	return sampleRate, channels
}

// avccToAnnexB rewrites length-prefixed AVCC NALUs (the format FLV/RTMP
// hand us) into Annex-B start-code-delimited NALUs, prefixing SPS and
// PPS from the cached sequence header onto every keyframe so a TS
// player that joins mid-stream can decode from the first IDR it sees.
func avccToAnnexB(nalLenSize int, sps, pps, avcc []byte, keyFrame bool) ([]byte, error) {
	out := make([]byte, 0, len(avcc)+64)
	if keyFrame {
		if len(sps) > 0 {
			out = append(out, annexBStartCode...)
			out = append(out, sps...)
		}
		if len(pps) > 0 {
			out = append(out, annexBStartCode...)
			out = append(out, pps...)
		}
	}

	for off := 0; off < len(avcc); {
		if off+nalLenSize > len(avcc) {
			return nil, errs.MalformedPayload("tsmux", "truncated NALU length")
		}
		var n int
		for i := 0; i < nalLenSize; i++ {
			n = n<<8 | int(avcc[off+i])
		}
		off += nalLenSize
		if off+n > len(avcc) {
			return nil, errs.MalformedPayload("tsmux", "NALU length overruns payload")
		}
		out = append(out, annexBStartCode...)
		out = append(out, avcc[off:off+n]...)
		off += n
	}
	return out, nil
}

// parseAVCDecoderConfig pulls the NALU length size, SPS and PPS out of
// an AVCDecoderConfigurationRecord (the AVCSeqHeader tag body) —
// grounded on internal/flv's AVC sequence-header layout.
func parseAVCDecoderConfig(rec []byte) (nalLenSize int, sps, pps []byte, err error) {
	if len(rec) < 6 {
		return 0, nil, nil, errs.MalformedPayload("tsmux", "avcC too short")
	}
	nalLenSize = int(rec[4]&0x03) + 1
	numSPS := int(rec[5] & 0x1f)
	off := 6
	for i := 0; i < numSPS && off+2 <= len(rec); i++ {
		l := int(binary.BigEndian.Uint16(rec[off : off+2]))
		off += 2
		if off+l > len(rec) {
			break
		}
		if i == 0 {
			sps = rec[off : off+l]
		}
		off += l
	}
	if off >= len(rec) {
		return nalLenSize, sps, nil, nil
	}
	numPPS := int(rec[off])
	off++
	for i := 0; i < numPPS && off+2 <= len(rec); i++ {
		l := int(binary.BigEndian.Uint16(rec[off : off+2]))
		off += 2
		if off+l > len(rec) {
			break
		}
		if i == 0 {
			pps = rec[off : off+l]
		}
		off += l
	}
	return nalLenSize, sps, pps, nil
}

// adtsHeader builds a 7-byte ADTS header for one raw AAC access unit,
// from the 2-byte AudioSpecificConfig an AAC sequence header carries.
func adtsHeader(asc []byte, payloadLen int) ([]byte, error) {
	if len(asc) < 2 {
		return nil, errs.MalformedPayload("tsmux", "AudioSpecificConfig too short")
	}
	profile := (asc[0] >> 3) & 0x1f
	sampleIdx := (asc[0]&0x07)<<1 | asc[1]>>7
	chanCfg := (asc[1] >> 3) & 0x0f

	frameLen := payloadLen + 7
	h := make([]byte, 7)
	h[0] = 0xff
	h[1] = 0xf1 // MPEG-4, no CRC
	h[2] = (profile-1)<<6 | sampleIdx<<2 | chanCfg>>2
	h[3] = chanCfg<<6&0xc0 | byte(frameLen>>11)
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen<<5) | 0x1f
	h[6] = 0xfc
	return h, nil
}

// buildPES wraps one elementary-stream access unit in a PES packet
// header. pts/dts are 90kHz-clock values; dts is omitted (PTS-only)
// when equal to pts, matching what H.264 with no B-frame reordering
// needs.
func buildPES(streamID byte, pts, dts uint64, payload []byte) []byte {
	hasDTS := dts != pts
	ptsDTSFlags := byte(0x80)
	headerDataLen := 5
	if hasDTS {
		ptsDTSFlags = 0xc0
		headerDataLen = 10
	}

	pes := make([]byte, 0, 9+headerDataLen+len(payload))
	pes = append(pes, 0x00, 0x00, 0x01, streamID)
	pes = append(pes, 0, 0) // PES_packet_length placeholder (0 = unbounded, fine for video)
	pes = append(pes, 0x80, ptsDTSFlags, byte(headerDataLen))
	pes = append(pes, writeTimestamp(0x02|boolBit(hasDTS), pts)...)
	if hasDTS {
		pes = append(pes, writeTimestamp(0x01, dts)...)
	}
	pes = append(pes, payload...)
	return pes
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeTimestamp(marker byte, ts uint64) []byte {
	b := make([]byte, 5)
	b[0] = marker<<4 | byte(ts>>30)&0x0e | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>15)<<1 | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1) | 0x01
	return b
}
