package mediatime_test

import (
	"testing"
	"time"

	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/stretchr/testify/assert"
)

func TestAddSameScale(t *testing.T) {
	a := mediatime.New(100, 1000)
	b := mediatime.New(250, 1000)
	assert.Equal(t, mediatime.New(350, 1000), a.Add(b))
	assert.Equal(t, mediatime.New(-150, 1000), a.Sub(b))
}

func TestAddMixedScales(t *testing.T) {
	// 1/3 s + 1/2 s = 5/6 s, exactly
	a := mediatime.New(1, 3)
	b := mediatime.New(1, 2)
	sum := a.Add(b)
	assert.Equal(t, int32(6), sum.Scale)
	assert.Equal(t, int64(5), sum.Value)
}

func TestInvalidIsIdentity(t *testing.T) {
	a := mediatime.New(42, 44100)
	assert.Equal(t, a, a.Add(mediatime.Invalid))
	assert.Equal(t, a, mediatime.Invalid.Add(a))
	assert.Equal(t, a, a.Sub(mediatime.Invalid))
	assert.True(t, mediatime.Invalid.IsZero())
	assert.False(t, mediatime.Invalid.IsValid())
}

func TestRescaleRounds(t *testing.T) {
	// 1 sample at 44.1kHz in 90kHz ticks: 2.0408 -> 2
	assert.Equal(t, int64(2), mediatime.New(1, 44100).Ticks(90000))
	// half away from zero
	assert.Equal(t, int64(1), mediatime.New(1, 2).Ticks(1))
	assert.Equal(t, int64(-1), mediatime.New(-1, 2).Ticks(1))
}

func TestCompare(t *testing.T) {
	a := mediatime.New(1, 3)
	b := mediatime.New(333, 1000)
	assert.True(t, b.Before(a))
	assert.True(t, a.After(b))
	assert.Equal(t, 0, mediatime.New(2, 4).Compare(mediatime.New(1, 2)))
}

func TestDurationConversion(t *testing.T) {
	d := 4980 * time.Millisecond
	ts := mediatime.FromDuration(d)
	assert.Equal(t, d, ts.Duration())
	assert.InDelta(t, 4.98, ts.Seconds(), 1e-9)
	assert.Equal(t, mediatime.New(441, 44100), mediatime.FromSeconds(0.01, 44100))
}
