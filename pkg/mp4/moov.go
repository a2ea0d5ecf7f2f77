package mp4

import (
	"fmt"

	amp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
)

func (m *Muxer) writeMoov() error {
	bw := &boxWriter{w: m.w}

	tracks := make([]*track, 0, 2)
	if !m.video.empty() {
		if len(m.videoCfg.SPS) == 0 || len(m.videoCfg.PPS) == 0 {
			logger.Warnf("dropping video track: %d samples but no parameter sets", m.video.count())
		} else {
			tracks = append(tracks, m.video)
		}
	}
	if !m.audio.empty() {
		tracks = append(tracks, m.audio)
	}

	var movieDuration int64
	for _, t := range tracks {
		movieDuration = max(movieDuration, m.editDuration(t)+toMovie(t.presentationDelay(), t.timeScale))
	}

	if err := bw.start(&amp4.Moov{}); err != nil {
		return err
	}
	if err := bw.box(&amp4.Mvhd{
		Timescale:   MovieTimeScale,
		DurationV0:  uint32(movieDuration),
		Rate:        65536,
		Volume:      256,
		Matrix:      IdentityMatrix,
		NextTrackID: audioTrackID + 1,
	}); err != nil {
		return err
	}
	for _, t := range tracks {
		if err := m.writeTrak(bw, t); err != nil {
			return fmt.Errorf("write %s trak: %w", t.kind, err)
		}
	}
	return bw.end()
}

// editDuration is the presented length of t in the movie timescale.
func (m *Muxer) editDuration(t *track) int64 {
	return toMovie(t.mediaDuration()-int64(t.cts[0]), t.timeScale)
}

func toMovie(ticks int64, timeScale int32) int64 {
	return mediatime.New(ticks, timeScale).Ticks(MovieTimeScale)
}

func (m *Muxer) writeTrak(bw *boxWriter, t *track) error {
	if err := bw.start(&amp4.Trak{}); err != nil {
		return err
	}

	editDuration := m.editDuration(t)
	delay := toMovie(t.presentationDelay(), t.timeScale)

	tkhd := &amp4.Tkhd{
		FullBox:    amp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:    t.id,
		DurationV0: uint32(editDuration + delay),
		Matrix:     IdentityMatrix,
	}
	if t.kind == media.Video {
		tkhd.Width = uint32(m.videoCfg.Width) << 16
		tkhd.Height = uint32(m.videoCfg.Height) << 16
		tkhd.Matrix = m.videoCfg.Matrix
	} else {
		tkhd.AlternateGroup = 1
		tkhd.Volume = 256
	}
	if err := bw.box(tkhd); err != nil {
		return err
	}

	if err := m.writeEdts(bw, t, editDuration, delay); err != nil {
		return err
	}

	if err := bw.start(&amp4.Mdia{}); err != nil {
		return err
	}
	if err := bw.box(&amp4.Mdhd{
		Timescale:  uint32(t.timeScale),
		DurationV0: uint32(t.mediaDuration()),
		Language:   [3]byte{'u', 'n', 'd'},
	}); err != nil {
		return err
	}
	hdlr := &amp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}
	if t.kind == media.Video {
		hdlr = &amp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}
	}
	if err := bw.box(hdlr); err != nil {
		return err
	}

	if err := bw.start(&amp4.Minf{}); err != nil {
		return err
	}
	if t.kind == media.Video {
		if err := bw.box(&amp4.Vmhd{FullBox: amp4.FullBox{Flags: [3]byte{0, 0, 1}}}); err != nil {
			return err
		}
	} else if err := bw.box(&amp4.Smhd{}); err != nil {
		return err
	}
	if err := writeDinf(bw); err != nil {
		return err
	}
	if err := m.writeStbl(bw, t); err != nil {
		return err
	}

	if err := bw.end(); err != nil { // minf
		return err
	}
	if err := bw.end(); err != nil { // mdia
		return err
	}
	return bw.end() // trak
}

func (m *Muxer) writeEdts(bw *boxWriter, t *track, editDuration, delay int64) error {
	elst := &amp4.Elst{}
	if delay > 0 {
		elst.Entries = append(elst.Entries, amp4.ElstEntry{
			SegmentDurationV0: uint32(delay),
			MediaTimeV0:       -1,
			MediaRateInteger:  1,
		})
	}
	elst.Entries = append(elst.Entries, amp4.ElstEntry{
		SegmentDurationV0: uint32(editDuration),
		MediaTimeV0:       t.cts[0],
		MediaRateInteger:  1,
	})
	elst.EntryCount = uint32(len(elst.Entries))

	if err := bw.start(&amp4.Edts{}); err != nil {
		return err
	}
	if err := bw.box(elst); err != nil {
		return err
	}
	return bw.end()
}

func writeDinf(bw *boxWriter) error {
	if err := bw.start(&amp4.Dinf{}); err != nil {
		return err
	}
	if err := bw.start(&amp4.Dref{EntryCount: 1}); err != nil {
		return err
	}
	if err := bw.box(&amp4.Url{FullBox: amp4.FullBox{Flags: [3]byte{0, 0, 1}}}); err != nil {
		return err
	}
	if err := bw.end(); err != nil { // dref
		return err
	}
	return bw.end() // dinf
}

func (m *Muxer) writeStbl(bw *boxWriter, t *track) error {
	if err := bw.start(&amp4.Stbl{}); err != nil {
		return err
	}
	if err := bw.start(&amp4.Stsd{EntryCount: 1}); err != nil {
		return err
	}
	var err error
	if t.kind == media.Video {
		err = m.writeAvc1(bw)
	} else {
		err = m.writeMp4a(bw)
	}
	if err != nil {
		return err
	}
	if err := bw.end(); err != nil { // stsd
		return err
	}

	boxes := []amp4.IImmutableBox{t.stts()}
	if ctts := t.ctts(); ctts != nil {
		boxes = append(boxes, ctts)
	}
	if stss := t.stss(); stss != nil {
		boxes = append(boxes, stss)
	}
	boxes = append(boxes, t.stsc(), t.stsz(), t.chunkOffsets())
	for _, box := range boxes {
		if err := bw.box(box); err != nil {
			return err
		}
	}
	return bw.end() // stbl
}

func (m *Muxer) writeAvc1(bw *boxWriter) error {
	sps := m.videoCfg.SPS
	pps := m.videoCfg.PPS

	if len(sps) < 4 {
		return fmt.Errorf("sps too short: %d bytes", len(sps))
	}
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		logger.Warnf("cannot parse sps: %v", err)
	} else if parsed.Width() != m.videoCfg.Width || parsed.Height() != m.videoCfg.Height {
		logger.Debugf("coded size %dx%d differs from track size %dx%d, players will scale",
			parsed.Width(), parsed.Height(), m.videoCfg.Width, m.videoCfg.Height)
	}

	if err := bw.start(&amp4.VisualSampleEntry{
		SampleEntry: amp4.SampleEntry{
			AnyTypeBox:         amp4.AnyTypeBox{Type: amp4.BoxTypeAvc1()},
			DataReferenceIndex: 1,
		},
		Width:           uint16(m.videoCfg.Width),
		Height:          uint16(m.videoCfg.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	}); err != nil {
		return err
	}
	if err := bw.box(&amp4.AVCDecoderConfiguration{
		AnyTypeBox:                 amp4.AnyTypeBox{Type: amp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    sps[1],
		ProfileCompatibility:       sps[2],
		Level:                      sps[3],
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets: []amp4.AVCParameterSet{
			{Length: uint16(len(sps)), NALUnit: sps},
		},
		NumOfPictureParameterSets: 1,
		PictureParameterSets: []amp4.AVCParameterSet{
			{Length: uint16(len(pps)), NALUnit: pps},
		},
	}); err != nil {
		return err
	}
	if m.videoCfg.Bitrate > 0 {
		if err := bw.box(&amp4.Btrt{
			MaxBitrate: uint32(m.videoCfg.Bitrate),
			AvgBitrate: uint32(m.videoCfg.Bitrate),
		}); err != nil {
			return err
		}
	}
	return bw.end()
}

func (m *Muxer) audioSpecificConfig() ([]byte, error) {
	if len(m.audioCfg.Config) > 0 {
		return m.audioCfg.Config, nil
	}
	conf := mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   m.audioCfg.SampleRate,
		ChannelCount: m.audioCfg.ChannelCount,
	}
	return conf.Marshal()
}

func (m *Muxer) writeMp4a(bw *boxWriter) error {
	enc, err := m.audioSpecificConfig()
	if err != nil {
		return fmt.Errorf("encode audio specific config: %w", err)
	}

	if err := bw.start(&amp4.AudioSampleEntry{
		SampleEntry: amp4.SampleEntry{
			AnyTypeBox:         amp4.AnyTypeBox{Type: amp4.BoxTypeMp4a()},
			DataReferenceIndex: 1,
		},
		ChannelCount: uint16(m.audioCfg.ChannelCount),
		SampleSize:   16,
		SampleRate:   uint32(m.audioCfg.SampleRate) << 16,
	}); err != nil {
		return err
	}
	bitrate := uint32(m.audioCfg.Bitrate)
	if err := bw.box(&amp4.Esds{
		Descriptors: []amp4.Descriptor{
			{
				Tag:          amp4.ESDescrTag,
				Size:         32 + uint32(len(enc)),
				ESDescriptor: &amp4.ESDescriptor{ESID: audioTrackID},
			},
			{
				Tag:  amp4.DecoderConfigDescrTag,
				Size: 18 + uint32(len(enc)),
				DecoderConfigDescriptor: &amp4.DecoderConfigDescriptor{
					ObjectTypeIndication: 0x40,
					StreamType:           0x05,
					Reserved:             true,
					MaxBitrate:           bitrate,
					AvgBitrate:           bitrate,
				},
			},
			{
				Tag:  amp4.DecSpecificInfoTag,
				Size: uint32(len(enc)),
				Data: enc,
			},
			{
				Tag:  amp4.SLConfigDescrTag,
				Size: 1,
				Data: []byte{0x02},
			},
		},
	}); err != nil {
		return err
	}
	return bw.end()
}
