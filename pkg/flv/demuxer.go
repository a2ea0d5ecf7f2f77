package flv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "flv")

// Demuxer turns an FLV byte stream carrying AVC and AAC into media samples.
// Input may be split at any byte boundary.
type Demuxer struct {
	mu         sync.Mutex
	buffer     *bytes.Buffer
	headerRead bool

	sps   []byte
	pps   []byte
	audio *media.AudioParams

	skipped int
}

func NewDemuxer() *Demuxer {
	buf := byteBufferPool.Get()
	buf.Reset()
	return &Demuxer{buffer: buf}
}

// Feed appends input and returns every sample completed by it.
func (d *Demuxer) Feed(input []byte) ([]*media.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buffer == nil {
		return nil, errors.New("demuxer closed")
	}
	d.buffer.Write(input)

	if !d.headerRead {
		if d.buffer.Len() < FlvHeaderSize {
			return nil, nil
		}
		header := d.buffer.Next(FlvHeaderSize)
		if !bytes.Equal(header[:3], FlvHeader[:3]) {
			return nil, ErrNotFlvFile
		}
		d.headerRead = true
	}

	var samples []*media.Sample
	for {
		b := d.buffer.Bytes()
		if len(b) < PrevTagSizeBytes+TagHeaderSize {
			break
		}

		var tag Tag
		parseTagHeader(b[PrevTagSizeBytes:PrevTagSizeBytes+TagHeaderSize], &tag)
		total := PrevTagSizeBytes + TagHeaderSize + int(tag.DataSize)
		if len(b) < total {
			break
		}
		tag.Data = make([]byte, tag.DataSize)
		copy(tag.Data, b[PrevTagSizeBytes+TagHeaderSize:total])
		d.buffer.Next(total)

		s, err := d.demux(&tag)
		if err != nil {
			return samples, err
		}
		if s != nil {
			samples = append(samples, s)
		}
	}

	d.compactBufferIfNeeded()
	return samples, nil
}

// Skipped counts tags that carried no usable sample.
func (d *Demuxer) Skipped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipped
}

// AudioParams returns the last AAC configuration seen, or nil.
func (d *Demuxer) AudioParams() *media.AudioParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio
}

func (d *Demuxer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buffer != nil {
		byteBufferPool.Put(d.buffer)
		d.buffer = nil
	}
}

func (d *Demuxer) demux(tag *Tag) (*media.Sample, error) {
	switch tag.Type & 0x1F {
	case TagTypeVideo:
		return d.demuxVideo(tag)
	case TagTypeAudio:
		return d.demuxAudio(tag)
	case TagTypeScript:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrInvalidTag, "unknown tag type 0x%02x", tag.Type)
	}
}

func (d *Demuxer) demuxVideo(tag *Tag) (*media.Sample, error) {
	data := tag.Data
	if len(data) < 5 {
		return nil, errors.Wrapf(ErrInvalidTag, "video tag of %d bytes", len(data))
	}
	if data[0]&0x0F != CodecIDAVC {
		d.skipped++
		return nil, nil
	}

	switch data[1] {
	case AVCPacketSequenceHeader:
		sps, pps, err := parseAVCDecoderConfig(data[5:])
		if err != nil {
			return nil, errors.Wrap(err, "parse avc sequence header")
		}
		d.sps, d.pps = sps, pps
		logger.Debugf("avc sequence header: sps %d bytes, pps %d bytes", len(sps), len(pps))
		return nil, nil
	case AVCPacketNALU:
		if len(data) == 5 {
			d.skipped++
			return nil, nil
		}
		// signed 24 bit composition time offset
		cts := int32(uint32(data[2])<<24|uint32(data[3])<<16|uint32(data[4])<<8) >> 8
		s := &media.Sample{
			Kind:     media.Video,
			DTS:      mediatime.New(int64(tag.Timestamp), 1000),
			PTS:      mediatime.New(int64(tag.Timestamp)+int64(cts), 1000),
			Payload:  data[5:],
			KeyFrame: tag.IsKeyframe(),
		}
		if d.sps != nil {
			s.Video = &media.VideoParams{SPS: d.sps, PPS: d.pps}
		}
		return s, nil
	default:
		d.skipped++
		return nil, nil
	}
}

func (d *Demuxer) demuxAudio(tag *Tag) (*media.Sample, error) {
	data := tag.Data
	if len(data) < 2 {
		return nil, errors.Wrapf(ErrInvalidTag, "audio tag of %d bytes", len(data))
	}
	if data[0]>>4 != SoundFormatAAC {
		d.skipped++
		return nil, nil
	}

	switch data[1] {
	case AACPacketSequenceHeader:
		var conf mpeg4audio.Config
		if err := conf.Unmarshal(data[2:]); err != nil {
			return nil, errors.Wrap(err, "parse aac sequence header")
		}
		d.audio = &media.AudioParams{
			ChannelCount: conf.ChannelCount,
			SampleRate:   conf.SampleRate,
			Config:       append([]byte(nil), data[2:]...),
		}
		logger.Debugf("aac sequence header: %d Hz, %d channels", conf.SampleRate, conf.ChannelCount)
		return nil, nil
	case AACPacketRaw:
		if d.audio == nil || len(data) == 2 {
			d.skipped++
			return nil, nil
		}
		return &media.Sample{
			Kind:     media.Audio,
			PTS:      mediatime.New(int64(tag.Timestamp), 1000),
			Duration: mediatime.New(int64(mpeg4audio.SamplesPerAccessUnit), int32(d.audio.SampleRate)),
			Payload:  data[2:],
			KeyFrame: true,
			Audio:    d.audio,
		}, nil
	default:
		d.skipped++
		return nil, nil
	}
}

// parseAVCDecoderConfig extracts the first SPS and PPS of an
// AVCDecoderConfigurationRecord.
func parseAVCDecoderConfig(b []byte) (sps, pps []byte, err error) {
	if len(b) < 6 {
		return nil, nil, fmt.Errorf("record too short: %d bytes", len(b))
	}
	pos := 5
	sets := make([][]byte, 0, 2)
	for _, mask := range []byte{0x1F, 0xFF} {
		if pos >= len(b) {
			return nil, nil, fmt.Errorf("record truncated at %d", pos)
		}
		count := int(b[pos] & mask)
		pos++
		var first []byte
		for i := 0; i < count; i++ {
			if pos+2 > len(b) {
				return nil, nil, fmt.Errorf("record truncated at %d", pos)
			}
			size := int(binary.BigEndian.Uint16(b[pos:]))
			pos += 2
			if pos+size > len(b) {
				return nil, nil, fmt.Errorf("parameter set overflows record")
			}
			if first == nil {
				first = append([]byte(nil), b[pos:pos+size]...)
			}
			pos += size
		}
		sets = append(sets, first)
	}
	if sets[0] == nil || sets[1] == nil {
		return nil, nil, fmt.Errorf("record without sps or pps")
	}
	return sets[0], sets[1], nil
}

func (d *Demuxer) compactBufferIfNeeded() {
	c := d.buffer.Cap()
	l := d.buffer.Len()
	if c > MaxBufferSize && l <= c/4 {
		buf := byteBufferPool.Get()
		buf.Reset()
		buf.Write(d.buffer.Bytes())
		old := d.buffer
		d.buffer = buf
		byteBufferPool.Put(old)
	}
}
