package pool

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Serializer gob-encodes values through pooled buffers. It is safe for
// concurrent use.
type Serializer struct {
	buffers *BufferPool
}

func NewSerializer() *Serializer {
	return &Serializer{
		buffers: NewBufferPool(1024, 64*1024),
	}
}

// Serialize returns a copy of the encoding of v that the caller owns.
func (s *Serializer) Serialize(v any) ([]byte, error) {
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (s *Serializer) Deserialize(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.Wrapf(err, "decode %T", v)
	}
	return nil
}
