// Package bitreader provides the bit-level reader used to pull H.264
// SPS fields (profile, level, width, height) out of an AVCDecoderConfigurationRecord
// sequence header — needed by the fMP4 init segment writer on the DASH
// path. It does not report the chroma format, and HLS codec-change
// detection does not use it (that compares the raw sequence-header bytes).
//
// Grounded on the teacher's rtmp/core.go chunk-stream bit-twiddling style
// (manual shifts over byte slices); no SPS parser is present in the
// teacher itself, so the exp-Golomb / RBSP-unescape logic below follows
// the well-known H.264 SPS layout rather than any one example file.
package bitreader

import "fmt"

// Reader reads individual bits, most-significant-bit first, out of a
// byte slice that has already had emulation-prevention bytes removed.
type Reader struct {
	data []byte
	pos  int // bit position
}

func New(data []byte) *Reader {
	return &Reader{data: unescapeRBSP(data)}
}

// unescapeRBSP strips H.264 emulation-prevention bytes (00 00 03 -> 00 00).
func unescapeRBSP(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeroRun := 0
	for i := 0; i < len(b); i++ {
		if zeroRun >= 2 && b[i] == 0x03 && i+1 < len(b) && b[i+1] <= 0x03 {
			zeroRun = 0
			continue
		}
		if b[i] == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
		out = append(out, b[i])
	}
	return out
}

func (r *Reader) bitsLeft() int {
	return len(r.data)*8 - r.pos
}

// Bit reads a single bit.
func (r *Reader) Bit() (uint32, error) {
	if r.bitsLeft() < 1 {
		return 0, fmt.Errorf("bitreader: out of bits")
	}
	byteIdx := r.pos / 8
	bitIdx := 7 - uint(r.pos%8)
	bit := (r.data[byteIdx] >> bitIdx) & 1
	r.pos++
	return uint32(bit), nil
}

// U reads n bits as an unsigned integer, MSB first.
func (r *Reader) U(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		b, err := r.Bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// UE reads an Exp-Golomb-coded unsigned integer (ue(v) in the spec text).
func (r *Reader) UE() (uint32, error) {
	leadingZeros := 0
	for {
		b, err := r.Bit()
		if err != nil {
			return 0, err
		}
		if b != 0 {
			break
		}
		leadingZeros++
		if leadingZeros > 32 {
			return 0, fmt.Errorf("bitreader: exp-golomb prefix too long")
		}
	}
	if leadingZeros == 0 {
		return 0, nil
	}
	rest, err := r.U(leadingZeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(leadingZeros)) - 1 + rest, nil
}

// SE reads a signed Exp-Golomb value (se(v)).
func (r *Reader) SE() (int32, error) {
	ue, err := r.UE()
	if err != nil {
		return 0, err
	}
	if ue%2 == 0 {
		return -int32(ue / 2), nil
	}
	return int32((ue + 1) / 2), nil
}

// SPSInfo holds the fields out of an H.264 SPS that the fMP4 avcC box
// and codec-change detection need.
type SPSInfo struct {
	ProfileIDC uint32
	LevelIDC   uint32
	Width      int
	Height     int
}

// ParseSPS parses the RBSP body of a SPS NAL unit (the caller must have
// already stripped the 1-byte NAL header).
func ParseSPS(rbsp []byte) (*SPSInfo, error) {
	r := New(rbsp)
	info := &SPSInfo{}

	profile, err := r.U(8)
	if err != nil {
		return nil, err
	}
	info.ProfileIDC = profile

	if _, err := r.U(8); err != nil { // constraint flags + reserved
		return nil, err
	}
	level, err := r.U(8)
	if err != nil {
		return nil, err
	}
	info.LevelIDC = level

	if _, err := r.UE(); err != nil { // seq_parameter_set_id
		return nil, err
	}

	chromaFormat := uint32(1)
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormat, err = r.UE()
		if err != nil {
			return nil, err
		}
		if chromaFormat == 3 {
			if _, err := r.Bit(); err != nil { // separate_colour_plane_flag
				return nil, err
			}
		}
		if _, err := r.UE(); err != nil { // bit_depth_luma_minus8
			return nil, err
		}
		if _, err := r.UE(); err != nil { // bit_depth_chroma_minus8
			return nil, err
		}
		if _, err := r.Bit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return nil, err
		}
		seqScalingMatrixPresent, err := r.Bit()
		if err != nil {
			return nil, err
		}
		if seqScalingMatrixPresent != 0 {
			count := 8
			if chromaFormat == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := r.Bit()
				if err != nil {
					return nil, err
				}
				if present != 0 {
					if err := skipScalingList(r, i >= 6); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if _, err := r.UE(); err != nil { // log2_max_frame_num_minus4
		return nil, err
	}
	picOrderCntType, err := r.UE()
	if err != nil {
		return nil, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.UE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return nil, err
		}
	case 1:
		if _, err := r.Bit(); err != nil { // delta_pic_order_always_zero_flag
			return nil, err
		}
		if _, err := r.SE(); err != nil { // offset_for_non_ref_pic
			return nil, err
		}
		if _, err := r.SE(); err != nil { // offset_for_top_to_bottom_field
			return nil, err
		}
		numRefFrames, err := r.UE()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < numRefFrames; i++ {
			if _, err := r.SE(); err != nil {
				return nil, err
			}
		}
	}

	if _, err := r.UE(); err != nil { // max_num_ref_frames
		return nil, err
	}
	if _, err := r.Bit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return nil, err
	}
	widthMbs, err := r.UE()
	if err != nil {
		return nil, err
	}
	heightMapUnits, err := r.UE()
	if err != nil {
		return nil, err
	}
	frameMbsOnly, err := r.Bit()
	if err != nil {
		return nil, err
	}
	frameHeightFactor := uint32(2)
	if frameMbsOnly != 0 {
		frameHeightFactor = 1
	} else {
		if _, err := r.Bit(); err != nil { // mb_adaptive_frame_field_flag
			return nil, err
		}
	}
	if _, err := r.Bit(); err != nil { // direct_8x8_inference_flag
		return nil, err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint32(0), uint32(0), uint32(0), uint32(0)
	cropPresent, err := r.Bit()
	if err != nil {
		return nil, err
	}
	if cropPresent != 0 {
		if cropLeft, err = r.UE(); err != nil {
			return nil, err
		}
		if cropRight, err = r.UE(); err != nil {
			return nil, err
		}
		if cropTop, err = r.UE(); err != nil {
			return nil, err
		}
		if cropBottom, err = r.UE(); err != nil {
			return nil, err
		}
	}

	info.Width = int((widthMbs+1)*16 - (cropLeft+cropRight)*2)
	info.Height = int((heightMapUnits+1)*frameHeightFactor*16 - (cropTop+cropBottom)*2)

	return info, nil
}

func skipScalingList(r *Reader, size8x8 bool) error {
	n := 16
	if size8x8 {
		n = 64
	}
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < n; j++ {
		if nextScale != 0 {
			delta, err := r.SE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
