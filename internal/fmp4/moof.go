package fmp4

import (
	"bytes"
	"encoding/binary"
)

// Sample is one access unit going into a media fragment's trun table.
type Sample struct {
	Duration    uint32 // in the track's timescale
	Size        uint32
	SyncSample  bool
	CompositionOffset int32
	Data        []byte
}

// BuildMediaSegment assembles styp+moof+mdat for one fragment of one
// track, with the sequence number §4.F's MPD SegmentTimeline indexes
// by and the base decode time the sidx/trun need for seamless joins.
func BuildMediaSegment(trackID, sequenceNumber uint32, baseDecodeTime uint64, samples []Sample) []byte {
	var out bytes.Buffer
	out.Write(buildStyp())
	moof := buildMoof(trackID, sequenceNumber, baseDecodeTime, samples)
	out.Write(moof)
	out.Write(buildMdat(samples))
	return out.Bytes()
}

func buildStyp() []byte {
	return box("styp", func(w *bytes.Buffer) {
		str4(w, "msdh")
		u32(w, 0)
		str4(w, "msdh")
		str4(w, "msix")
	})
}

func buildMoof(trackID, seq uint32, baseDecodeTime uint64, samples []Sample) []byte {
	moof := box("moof", func(w *bytes.Buffer) {
		w.Write(box("mfhd", func(w *bytes.Buffer) {
			fullBoxHeader(w, 0, 0)
			u32(w, seq)
		}))
		w.Write(buildTraf(trackID, baseDecodeTime, samples))
	})

	// trun's data_offset is relative to the first byte of this moof box
	// (tfhd sets default-base-is-moof); mdat's 8-byte header immediately
	// follows, so the first sample byte sits at len(moof)+8.
	off := bytes.Index(moof, dataOffsetPlaceholder)
	if off >= 0 {
		binary.BigEndian.PutUint32(moof[off:off+4], uint32(len(moof)+8))
	}
	return moof
}

func buildTraf(trackID uint32, baseDecodeTime uint64, samples []Sample) []byte {
	return box("traf", func(w *bytes.Buffer) {
		w.Write(box("tfhd", func(w *bytes.Buffer) {
			fullBoxHeader(w, 0, 0x020000) // default-base-is-moof
			u32(w, trackID)
		}))
		w.Write(box("tfdt", func(w *bytes.Buffer) {
			fullBoxHeader(w, 1, 0)
			u64(w, baseDecodeTime)
		}))
		w.Write(buildTrun(samples))
	})
}

// dataOffsetPlaceholder is a magic 4-byte sentinel written where trun's
// data_offset belongs; buildMoof finds and overwrites it once the full
// moof size is known. Sample durations/sizes never legitimately take
// this exact value, and trun is the only box that writes it.
var dataOffsetPlaceholder = []byte{0xde, 0xad, 0xbe, 0xef}

// buildTrun writes sample-level duration/size/flags/composition-offset
// entries; data_offset starts as a sentinel patched by buildMoof.
func buildTrun(samples []Sample) []byte {
	flags := uint32(0x000f01) // data-offset + duration + size + flags present, per-sample comp-offset
	return box("trun", func(w *bytes.Buffer) {
		fullBoxHeader(w, 0, flags)
		u32(w, uint32(len(samples)))
		w.Write(dataOffsetPlaceholder)
		for _, s := range samples {
			u32(w, s.Duration)
			u32(w, s.Size)
			if s.SyncSample {
				u32(w, 0x02000000) // sample_depends_on=2 (does not depend on others)
			} else {
				u32(w, 0x01010000) // sample_depends_on=1, is-non-sync-sample
			}
			u32(w, uint32(s.CompositionOffset))
		}
	})
}

func buildMdat(samples []Sample) []byte {
	return box("mdat", func(w *bytes.Buffer) {
		for _, s := range samples {
			w.Write(s.Data)
		}
	})
}

// BuildSidx emits a segment index referencing one media segment
// (moof+mdat) at referencedSize bytes, for players that read sidx
// before fetching the segment body.
func BuildSidx(trackID uint32, timescale uint32, earliestPresentationTime uint64, segmentDuration, referencedSize uint32) []byte {
	return box("sidx", func(w *bytes.Buffer) {
		fullBoxHeader(w, 1, 0)
		u32(w, trackID)
		u32(w, timescale)
		u64(w, earliestPresentationTime)
		u64(w, 0) // first_offset
		u16(w, 0) // reserved
		u16(w, 1) // reference_count
		u32(w, referencedSize&0x7fffffff)
		u32(w, segmentDuration)
		u32(w, 0x90000000) // starts_with_SAP=1, SAP_type=1
	})
}
