package fmp4

import (
	"bytes"

	"github.com/streamhub/streamhub/internal/bitreader"
)

// TrackID values fixed by §4.F: some players reject track_id=0.
const (
	VideoTrackID = 1
	AudioTrackID = 2
)

// VideoConfig carries what the init segment's avcC and track dimensions
// need, parsed out of the AVCDecoderConfigurationRecord/SPS.
type VideoConfig struct {
	SPS, PPS []byte
	SPSInfo  *bitreader.SPSInfo
	Timescale uint32
}

// AudioConfig carries the esds-bound AudioSpecificConfig.
type AudioConfig struct {
	AudioSpecificConfig []byte
	SampleRate           uint32
	Channels              uint8
	Timescale             uint32
}

// BuildInitSegment assembles ftyp+moov for one or both tracks. A nil
// AudioConfig or VideoConfig omits that track entirely, matching §4.F's
// "or the declared single track" allowance.
func BuildInitSegment(v *VideoConfig, a *AudioConfig) []byte {
	var out bytes.Buffer
	out.Write(buildFtyp())
	out.Write(buildMoov(v, a))
	return out.Bytes()
}

func buildFtyp() []byte {
	return box("ftyp", func(w *bytes.Buffer) {
		str4(w, "isom")
		u32(w, 0x200)
		str4(w, "isom")
		str4(w, "iso6")
		str4(w, "mp41")
	})
}

func buildMoov(v *VideoConfig, a *AudioConfig) []byte {
	return box("moov", func(w *bytes.Buffer) {
		w.Write(buildMvhd())
		if v != nil {
			w.Write(buildVideoTrak(v))
		}
		if a != nil {
			w.Write(buildAudioTrak(a))
		}
		w.Write(buildMvex(v, a))
	})
}

func buildMvhd() []byte {
	return box("mvhd", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, 0) // creation_time
		u32(w, 0) // modification_time
		u32(w, 1000) // timescale
		u32(w, 0) // duration (unknown, live)
		u32(w, 0x00010000) // rate 1.0
		u16(w, 0x0100)     // volume 1.0
		u16(w, 0)          // reserved
		u32(w, 0)
		u32(w, 0)
		for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
			u32(w, v)
		}
		for i := 0; i < 6; i++ {
			u32(w, 0)
		}
		u32(w, 0xffffffff) // next_track_ID
	})
}

func buildMvex(v *VideoConfig, a *AudioConfig) []byte {
	return box("mvex", func(w *bytes.Buffer) {
		if v != nil {
			w.Write(buildTrex(VideoTrackID))
		}
		if a != nil {
			w.Write(buildTrex(AudioTrackID))
		}
	})
}

func buildTrex(trackID uint32) []byte {
	return box("trex", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, trackID)
		u32(w, 1) // default_sample_description_index
		u32(w, 0) // default_sample_duration
		u32(w, 0) // default_sample_size
		u32(w, 0) // default_sample_flags
	})
}

func buildVideoTrak(v *VideoConfig) []byte {
	width, height := uint16(0), uint16(0)
	if v.SPSInfo != nil {
		width, height = uint16(v.SPSInfo.Width), uint16(v.SPSInfo.Height)
	}
	ts := v.Timescale
	if ts == 0 {
		ts = 1000
	}
	return box("trak", func(w *bytes.Buffer) {
		w.Write(buildTkhd(VideoTrackID, width, height))
		w.Write(buildMdia(ts, "vide", "VideoHandler", buildVideoStsd(v)))
	})
}

func buildAudioTrak(a *AudioConfig) []byte {
	ts := a.Timescale
	if ts == 0 {
		ts = a.SampleRate
	}
	return box("trak", func(w *bytes.Buffer) {
		w.Write(buildTkhd(AudioTrackID, 0, 0))
		w.Write(buildMdia(ts, "soun", "SoundHandler", buildAudioStsd(a)))
	})
}

func buildTkhd(trackID uint32, width, height uint16) []byte {
	return box("tkhd", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0x0007) // enabled+in-movie+in-preview
		u32(w, 0)
		u32(w, 0)
		u32(w, trackID)
		u32(w, 0) // reserved
		u32(w, 0) // duration
		u32(w, 0)
		u32(w, 0)
		u16(w, 0) // layer
		u16(w, 0) // alternate_group
		u16(w, 0) // volume
		u16(w, 0)
		for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
			u32(w, v)
		}
		u32(w, uint32(width)<<16)
		u32(w, uint32(height)<<16)
	})
}

func buildMdia(timescale uint32, handlerType, handlerName string, stsd []byte) []byte {
	return box("mdia", func(w *bytes.Buffer) {
		w.Write(buildMdhd(timescale))
		w.Write(buildHdlr(handlerType, handlerName))
		w.Write(buildMinf(handlerType, stsd))
	})
}

func buildMdhd(timescale uint32) []byte {
	return box("mdhd", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, 0)
		u32(w, 0)
		u32(w, timescale)
		u32(w, 0) // duration
		u16(w, 0x55c4) // language "und"
		u16(w, 0)
	})
}

func buildHdlr(handlerType, name string) []byte {
	return box("hdlr", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, 0) // pre_defined
		str4(w, handlerType)
		u32(w, 0)
		u32(w, 0)
		u32(w, 0)
		w.WriteString(name)
		w.WriteByte(0)
	})
}

func buildMinf(handlerType string, stsd []byte) []byte {
	return box("minf", func(w *bytes.Buffer) {
		if handlerType == "vide" {
			w.Write(box("vmhd", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 1); u16(w, 0); u16(w, 0); u16(w, 0); u16(w, 0) }))
		} else {
			w.Write(box("smhd", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 0); u16(w, 0); u16(w, 0) }))
		}
		w.Write(box("dinf", func(w *bytes.Buffer) {
			w.Write(box("dref", func(w *bytes.Buffer) {
				fullBoxHeader(w, 0, 0)
				u32(w, 1)
				w.Write(box("url ", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 1) }))
			}))
		}))
		w.Write(buildStbl(stsd))
	})
}

func buildStbl(stsd []byte) []byte {
	return box("stbl", func(w *bytes.Buffer) {
		w.Write(stsd)
		w.Write(box("stts", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 0); u32(w, 0) }))
		w.Write(box("stsc", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 0); u32(w, 0) }))
		w.Write(box("stsz", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 0); u32(w, 0); u32(w, 0) }))
		w.Write(box("stco", func(w *bytes.Buffer) { fullBoxHeader(w, 0, 0); u32(w, 0) }))
	})
}

func buildVideoStsd(v *VideoConfig) []byte {
	width, height := uint16(0), uint16(0)
	profile, level := uint8(0x64), uint8(0x1f)
	if v.SPSInfo != nil {
		width, height = uint16(v.SPSInfo.Width), uint16(v.SPSInfo.Height)
		profile, level = uint8(v.SPSInfo.ProfileIDC), uint8(v.SPSInfo.LevelIDC)
	}
	return box("stsd", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, 1) // entry_count
		w.Write(box("avc1", func(w *bytes.Buffer) {
			u32(w, 0)
			u16(w, 0)
			u16(w, 0) // data_reference_index
			u16(w, 0) // pre_defined
			u16(w, 0)
			for i := 0; i < 3; i++ {
				u32(w, 0)
			}
			u16(w, width)
			u16(w, height)
			u32(w, 0x00480000) // horizresolution 72dpi
			u32(w, 0x00480000) // vertresolution
			u32(w, 0)          // reserved
			u16(w, 1)          // frame_count
			for i := 0; i < 8; i++ {
				w.WriteByte(0) // compressorname (32 bytes total incl length)
			}
			for i := 0; i < 24; i++ {
				w.WriteByte(0)
			}
			u16(w, 0x18) // depth
			u16(w, 0xffff)
			w.Write(buildAvcC(profile, level, v.SPS, v.PPS))
		}))
	})
}

func buildAvcC(profile, level uint8, sps, pps []byte) []byte {
	return box("avcC", func(w *bytes.Buffer) {
		u8(w, 1) // configurationVersion
		u8(w, profile)
		u8(w, 0) // profile_compatibility
		u8(w, level)
		u8(w, 0xff) // 6 reserved bits=1 + lengthSizeMinusOne=3 (4-byte lengths)
		u8(w, 0xe1) // 3 reserved bits=1 + numOfSPS=1
		u16(w, uint16(len(sps)))
		w.Write(sps)
		u8(w, 1) // numOfPPS
		u16(w, uint16(len(pps)))
		w.Write(pps)
	})
}

func buildAudioStsd(a *AudioConfig) []byte {
	return box("stsd", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		u32(w, 1)
		w.Write(box("mp4a", func(w *bytes.Buffer) {
			u32(w, 0)
			u16(w, 0)
			u16(w, 0)
			u16(w, 0)
			u16(w, 0)
			u32(w, 0)
			u16(w, uint16(a.Channels))
			u16(w, 16) // samplesize
			u16(w, 0)
			u16(w, 0)
			u32(w, a.SampleRate<<16)
			w.Write(buildEsds(a))
		}))
	})
}

func buildEsds(a *AudioConfig) []byte {
	return box("esds", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, 0)
		// ES_Descriptor
		u8(w, 0x03) // tag
		u8(w, byte(20+len(a.AudioSpecificConfig)))
		u16(w, 0)  // ES_ID
		u8(w, 0)   // flags
		// DecoderConfigDescriptor
		u8(w, 0x04)
		u8(w, byte(15+len(a.AudioSpecificConfig)))
		u8(w, 0x40) // objectTypeIndication: MPEG-4 audio
		u8(w, 0x15) // streamType audio (5), upStream=0, reserved=1
		u24(w, 0)   // bufferSizeDB
		u32(w, 0)   // maxBitrate
		u32(w, 0)   // avgBitrate
		// DecoderSpecificInfo
		u8(w, 0x05)
		u8(w, byte(len(a.AudioSpecificConfig)))
		w.Write(a.AudioSpecificConfig)
		// SLConfigDescriptor
		u8(w, 0x06)
		u8(w, 1)
		u8(w, 0x02)
	})
}
