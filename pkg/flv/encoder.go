package flv

import (
	"encoding/binary"
	"io"
	"sync"
)

// Encoder writes AVC and AAC payloads as an FLV stream that Demuxer reads
// back. It is the package's writer side: the header goes out with the first
// tag, configuration records must precede the media tags they describe, and
// calls may come from several goroutines.
type Encoder struct {
	mu            sync.Mutex
	w             io.Writer
	headerWritten bool
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteAVCConfig(timestamp int32, sps, pps []byte) error {
	record := []byte{0x01, sps[1], sps[2], sps[3], 0xFF, 0xE1}
	record = binary.BigEndian.AppendUint16(record, uint16(len(sps)))
	record = append(record, sps...)
	record = append(record, 0x01)
	record = binary.BigEndian.AppendUint16(record, uint16(len(pps)))
	record = append(record, pps...)

	data := append([]byte{0x10 | CodecIDAVC, AVCPacketSequenceHeader, 0, 0, 0}, record...)
	return e.write(TagTypeVideo, timestamp, data)
}

// WriteVideo writes one access unit of length prefixed NAL units.
func (e *Encoder) WriteVideo(timestamp, compositionTime int32, keyframe bool, avcc []byte) error {
	frameType := byte(0x20)
	if keyframe {
		frameType = 0x10
	}
	data := []byte{
		frameType | CodecIDAVC, AVCPacketNALU,
		byte(compositionTime >> 16), byte(compositionTime >> 8), byte(compositionTime),
	}
	return e.write(TagTypeVideo, timestamp, append(data, avcc...))
}

func (e *Encoder) WriteAACConfig(timestamp int32, config []byte) error {
	return e.write(TagTypeAudio, timestamp, append([]byte{SoundFormatAAC<<4 | 0x0F, AACPacketSequenceHeader}, config...))
}

func (e *Encoder) WriteAudio(timestamp int32, frame []byte) error {
	return e.write(TagTypeAudio, timestamp, append([]byte{SoundFormatAAC<<4 | 0x0F, AACPacketRaw}, frame...))
}

func (e *Encoder) write(tagType byte, timestamp int32, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.headerWritten {
		if err := WriteHeader(e.w); err != nil {
			return err
		}
		e.headerWritten = true
	}
	return WriteTag(e.w, &Tag{
		Type:      tagType,
		DataSize:  uint32(len(data)),
		Timestamp: timestamp,
		Data:      data,
	})
}
