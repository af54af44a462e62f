package flv

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/uid"
)

// DVRWriter is an av.WriteCloser that records a hub subscription
// straight to an .flv file on disk — spec §1's "DVR to disk" affordance
// (the file-writing half; the spec treats the DVR *callback* surface as
// an external collaborator, but the FLV sink itself is ours to build).
// Grounded on the teacher's FLVWriter in rtmp/flv.go.
type DVRWriter struct {
	av.RWBaser
	uidStr string
	app    string
	title  string
	url    string

	mux    *Muxer
	file   *os.File
	closed bool
}

// NewDVRWriter opens (creating directories as needed) dir/app/title_<unix>.flv
// and returns a writer ready to receive the cold-start prefix and live tail.
func NewDVRWriter(dir, app, title, url string) (*DVRWriter, error) {
	if err := os.MkdirAll(path.Join(dir, app), 0o755); err != nil {
		return nil, fmt.Errorf("flv: mkdir dvr dir: %w", err)
	}
	fileName := fmt.Sprintf("%s_%d.flv", path.Join(dir, app, title), time.Now().Unix())
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flv: open dvr file: %w", err)
	}
	if err := WriteHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	return &DVRWriter{
		RWBaser: av.NewRWBaser(10 * time.Second),
		uidStr:  uid.NewID(),
		app:     app,
		title:   title,
		url:     url,
		mux:     NewMuxer(f),
		file:    f,
	}, nil
}

func (w *DVRWriter) Write(p *av.Packet) error {
	w.Touch()
	ts := p.TimeStamp + w.BaseTimestamp()
	tagType := av.TagVideo
	if !p.IsVideo {
		tagType = av.TagAudio
	}
	w.RecordTimestamp(ts, tagType)

	pp := *p
	pp.TimeStamp = ts
	return w.mux.WriteTag(&pp)
}

func (w *DVRWriter) Close(error) {
	if w.closed {
		return
	}
	w.closed = true
	w.file.Close()
}

func (w *DVRWriter) Info() av.Info {
	return av.Info{
		Key: strings.Join([]string{w.app, w.title}, "/"),
		URL: w.url,
		UID: w.uidStr,
	}
}
