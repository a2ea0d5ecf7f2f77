package writer

import (
	"testing"

	"github.com/eric2788/shortrec/pkg/media"
	"github.com/stretchr/testify/assert"
)

func TestInputReadiness(t *testing.T) {
	in := newInput(media.Audio, 2)
	s := &media.Sample{Kind: media.Audio, Payload: []byte{1}}

	assert.True(t, in.ready())
	assert.True(t, in.push(s))
	assert.True(t, in.ready())
	assert.True(t, in.push(s))
	assert.False(t, in.ready())
	assert.False(t, in.push(s), "a full input drops instead of blocking")

	<-in.queue
	assert.True(t, in.ready())
}
