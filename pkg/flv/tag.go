package flv

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/eric2788/shortrec/pkg/pool"
)

const (
	TagTypeAudio  = 0x08
	TagTypeVideo  = 0x09
	TagTypeScript = 0x12

	SoundFormatAAC = 10
	CodecIDAVC     = 7

	AVCPacketSequenceHeader = 0
	AVCPacketNALU           = 1
	AVCPacketEndOfSequence  = 2

	AACPacketSequenceHeader = 0
	AACPacketRaw            = 1

	DefaultBufferSize = 8 * 1024
	MaxBufferSize     = 64 * 1024
	TagHeaderSize     = 11
	FlvHeaderSize     = 9
	PrevTagSizeBytes  = 4
)

var (
	FlvHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09}

	ErrNotFlvFile = errors.New("not a valid FLV file")
	ErrInvalidTag = errors.New("invalid FLV tag")

	byteBufferPool  = pool.NewBufferPool(DefaultBufferSize, MaxBufferSize)
	headerBytesPool = pool.NewBytesPool(TagHeaderSize)
	smallBytesPool  = pool.NewBytesPool(PrevTagSizeBytes)
)

// Tag is one complete FLV tag. Timestamp is in milliseconds.
type Tag struct {
	Type      byte
	DataSize  uint32
	Timestamp int32
	StreamID  [3]byte
	Data      []byte
}

func (t *Tag) IsHeader() bool {
	if len(t.Data) < 2 {
		return false
	}
	switch t.Type {
	case TagTypeVideo:
		return t.Data[0]&0x0F == CodecIDAVC && t.Data[1] == AVCPacketSequenceHeader
	case TagTypeAudio:
		return t.Data[0]>>4 == SoundFormatAAC && t.Data[1] == AACPacketSequenceHeader
	}
	return false
}

func (t *Tag) IsKeyframe() bool {
	return t.Type == TagTypeVideo && len(t.Data) > 0 && t.Data[0]&0xF0 == 0x10
}

func parseTagHeader(header []byte, tag *Tag) {
	tag.Type = header[0]
	tag.DataSize = uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	// 24 bit timestamp followed by the extended upper byte
	tag.Timestamp = int32(header[7])<<24 | int32(header[4])<<16 |
		int32(header[5])<<8 | int32(header[6])
	copy(tag.StreamID[:], header[8:11])
}

// WriteHeader writes the FLV file header and the first PreviousTagSize.
func WriteHeader(w io.Writer) error {
	if _, err := w.Write(FlvHeader); err != nil {
		return err
	}
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}

// WriteTag writes tag followed by its PreviousTagSize.
func WriteTag(w io.Writer, tag *Tag) error {
	header := headerBytesPool.GetBytes()
	defer headerBytesPool.PutBytes(header)

	size := uint32(len(tag.Data))
	header[0] = tag.Type
	header[1] = byte(size >> 16)
	header[2] = byte(size >> 8)
	header[3] = byte(size)
	header[4] = byte(tag.Timestamp >> 16)
	header[5] = byte(tag.Timestamp >> 8)
	header[6] = byte(tag.Timestamp)
	header[7] = byte(tag.Timestamp >> 24)
	copy(header[8:11], tag.StreamID[:])

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(tag.Data); err != nil {
		return err
	}

	prevTagSize := smallBytesPool.GetBytes()
	defer smallBytesPool.PutBytes(prevTagSize)

	binary.BigEndian.PutUint32(prevTagSize, TagHeaderSize+size)
	_, err := w.Write(prevTagSize)
	return err
}
