package mp4

import (
	"fmt"
	"io"

	amp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "mp4")

const (
	MovieTimeScale = 1000
	VideoTimeScale = 90000

	videoTrackID = 1
	audioTrackID = 2
)

var (
	ErrClosed     = errors.New("muxer is closed")
	ErrNotStarted = errors.New("muxer session not started")
)

type VideoConfig struct {
	Width   int
	Height  int
	Bitrate int
	Matrix  [9]int32
	SPS     []byte
	PPS     []byte
}

type AudioConfig struct {
	ChannelCount int
	SampleRate   int
	Bitrate      int
	// Config is the AudioSpecificConfig; derived from the fields above when empty.
	Config []byte
}

// Muxer writes a progressive MP4: ftyp, a growing mdat, and the moov once
// Close is called. It is not safe for concurrent use.
type Muxer struct {
	w    *amp4.Writer
	pos  uint64
	last *track

	video    *track
	audio    *track
	videoCfg VideoConfig
	audioCfg AudioConfig

	start   mediatime.Time
	started bool
	closed  bool

	skipped int
}

func NewMuxer(ws io.WriteSeeker, video VideoConfig, audio AudioConfig) (*Muxer, error) {
	if audio.SampleRate <= 0 || audio.ChannelCount <= 0 {
		return nil, fmt.Errorf("invalid audio format: %d channels at %d Hz", audio.ChannelCount, audio.SampleRate)
	}
	if video.Matrix == [9]int32{} {
		video.Matrix = IdentityMatrix
	}
	m := &Muxer{
		w:        amp4.NewWriter(ws),
		video:    newTrack(videoTrackID, media.Video, VideoTimeScale),
		audio:    newTrack(audioTrackID, media.Audio, int32(audio.SampleRate)),
		videoCfg: video,
		audioCfg: audio,
	}
	if err := m.writeHeader(); err != nil {
		return nil, errors.Wrap(err, "write mp4 header")
	}
	return m, nil
}

func (m *Muxer) writeHeader() error {
	bw := &boxWriter{w: m.w}
	if err := bw.box(&amp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []amp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}); err != nil {
		return err
	}
	if _, err := m.w.StartBox(&amp4.BoxInfo{Type: amp4.BoxTypeMdat()}); err != nil {
		return err
	}
	pos, err := m.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	m.pos = uint64(pos)
	return nil
}

// Start fixes the session start time. Samples presented before it are trimmed.
func (m *Muxer) Start(t mediatime.Time) {
	m.start = t
	m.started = true
}

func (m *Muxer) Started() bool {
	return m.started
}

func (m *Muxer) StartTime() mediatime.Time {
	return m.start
}

// Skipped is the number of samples that were trimmed or out of order.
func (m *Muxer) Skipped() int {
	return m.skipped
}

func (m *Muxer) SampleCount(kind media.TrackKind) int {
	if kind == media.Video {
		return m.video.count()
	}
	return m.audio.count()
}

func (m *Muxer) WriteSample(s *media.Sample) error {
	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return ErrNotStarted
	}
	if s.Kind == media.Video {
		return m.writeVideo(s)
	}
	return m.writeAudio(s)
}

func (m *Muxer) writeVideo(s *media.Sample) error {
	if s.Video != nil {
		if len(s.Video.SPS) > 0 {
			m.videoCfg.SPS = s.Video.SPS
		}
		if len(s.Video.PPS) > 0 {
			m.videoCfg.PPS = s.Video.PPS
		}
	}

	nalus, err := splitAccessUnit(s.Payload)
	if err != nil {
		return errors.Wrap(err, "parse h264 access unit")
	}

	filtered := nalus[:0]
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			m.videoCfg.SPS = append([]byte(nil), nalu...)
		case h264.NALUTypePPS:
			m.videoCfg.PPS = append([]byte(nil), nalu...)
		case h264.NALUTypeAccessUnitDelimiter:
		default:
			filtered = append(filtered, nalu)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	idr := h264.IDRPresent(filtered)
	if m.video.empty() && !idr {
		m.skipped++
		logger.Debug("skipping video sample before the first IDR")
		return nil
	}

	avcc, err := h264.AVCCMarshal(filtered)
	if err != nil {
		return errors.Wrap(err, "marshal avcc")
	}
	return m.append(m.video, s.PTS, s.DecodeTime(), s.Duration, avcc, idr)
}

func (m *Muxer) writeAudio(s *media.Sample) error {
	if s.Audio != nil && len(s.Audio.Config) > 0 && len(m.audioCfg.Config) == 0 {
		m.audioCfg.Config = s.Audio.Config
	}
	if !isADTS(s.Payload) {
		return m.append(m.audio, s.PTS, s.DecodeTime(), s.Duration, s.Payload, true)
	}

	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(s.Payload); err != nil {
		return errors.Wrap(err, "parse adts")
	}
	for i, pkt := range pkts {
		if len(m.audioCfg.Config) == 0 {
			conf := mpeg4audio.Config{
				Type:         pkt.Type,
				SampleRate:   pkt.SampleRate,
				ChannelCount: pkt.ChannelCount,
			}
			if enc, err := conf.Marshal(); err == nil {
				m.audioCfg.Config = enc
			}
		}
		offset := mediatime.New(int64(i*mpeg4audio.SamplesPerAccessUnit), int32(pkt.SampleRate))
		duration := mediatime.New(int64(mpeg4audio.SamplesPerAccessUnit), int32(pkt.SampleRate))
		if err := m.append(m.audio, s.PTS.Add(offset), s.DecodeTime().Add(offset), duration, pkt.AU, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Muxer) append(t *track, pts, dts, duration mediatime.Time, data []byte, sync bool) error {
	if pts.Before(m.start) {
		m.skipped++
		return nil
	}
	dtsTicks := dts.Sub(m.start).Ticks(t.timeScale)
	ptsTicks := pts.Sub(m.start).Ticks(t.timeScale)
	if !t.accepts(dtsTicks) {
		m.skipped++
		logger.Debugf("skipping non-monotonic %s sample at %v", t.kind, dts)
		return nil
	}

	n, err := m.w.Write(data)
	if err != nil {
		return errors.Wrapf(err, "write %s sample", t.kind)
	}
	t.add(m.pos, uint32(n), dtsTicks, ptsTicks, duration, sync, m.last != t)
	m.pos += uint64(n)
	m.last = t
	return nil
}

// Close ends the mdat and writes the moov. The underlying writer is not closed.
func (m *Muxer) Close() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true

	if _, err := m.w.EndBox(); err != nil {
		return errors.Wrap(err, "end mdat")
	}
	if err := m.writeMoov(); err != nil {
		return errors.Wrap(err, "write moov")
	}
	return nil
}

// splitAccessUnit accepts AVCC or Annex-B. AVCC is tried first since its
// length prefixes must cover the buffer exactly, while a large AVCC frame can
// look like an Annex-B start code.
func splitAccessUnit(payload []byte) ([][]byte, error) {
	if nalus, err := h264.AVCCUnmarshal(payload); err == nil {
		return nalus, nil
	}
	if !isAnnexB(payload) {
		return nil, fmt.Errorf("access unit is neither AVCC nor Annex-B")
	}
	return h264.AnnexBUnmarshal(payload)
}

func isAnnexB(b []byte) bool {
	return (len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1) ||
		(len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1)
}

func isADTS(b []byte) bool {
	return len(b) >= 7 && b[0] == 0xFF && (b[1]&0xF6) == 0xF0
}
