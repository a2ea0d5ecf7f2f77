package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eric2788/shortrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stage struct {
	name     string
	openErr  error
	failures int
	calls    int
	events   *[]string
}

func (s *stage) Open(ctx context.Context, log *logrus.Entry) error {
	*s.events = append(*s.events, "open "+s.name)
	return s.openErr
}

func (s *stage) Process(ctx context.Context, log *logrus.Entry, item string) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return item, errors.New(s.name + " failed")
	}
	return item + "/" + s.name, nil
}

func (s *stage) Close() error {
	*s.events = append(*s.events, "close "+s.name)
	return nil
}

func TestPipeRunsInOrder(t *testing.T) {
	var events []string
	a := &stage{name: "a", events: &events}
	b := &stage{name: "b", events: &events}
	pipe := pipeline.New(
		pipeline.NewProcessorInfo[string]("a", a),
		pipeline.NewProcessorInfo[string]("b", b),
	)
	assert.Equal(t, []string{"a", "b"}, pipe.Names())

	require.NoError(t, pipe.Open(context.Background()))
	out, err := pipe.Process(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, "in/a/b", out)

	pipe.Close()
	pipe.Close()
	assert.Equal(t, []string{"open a", "open b", "close b", "close a"}, events)

	_, err = pipe.Process(context.Background(), "in")
	assert.Error(t, err, "closed processors reject items")
}

func TestPipeOpenFailureClosesOpened(t *testing.T) {
	var events []string
	pipe := pipeline.New(
		pipeline.NewProcessorInfo[string]("a", &stage{name: "a", events: &events}),
		pipeline.NewProcessorInfo[string]("b", &stage{name: "b", events: &events, openErr: errors.New("boom")}),
		pipeline.NewProcessorInfo[string]("c", &stage{name: "c", events: &events}),
	)
	err := pipe.Open(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "open processor b"))
	assert.Equal(t, []string{"open a", "open b", "close a"}, events)
}

func TestErrorStrategies(t *testing.T) {
	var events []string

	stop := pipeline.New(pipeline.NewProcessorInfo[string]("s", &stage{name: "s", failures: 1, events: &events}))
	_, err := stop.Process(context.Background(), "in")
	assert.EqualError(t, err, "s failed")

	cont := pipeline.New(
		pipeline.NewProcessorInfo[string]("c", &stage{name: "c", failures: 1, events: &events},
			pipeline.WithErrorStrategy[string](pipeline.ContinueOnError)),
		pipeline.NewProcessorInfo[string]("n", &stage{name: "n", events: &events}),
	)
	out, err := cont.Process(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, "in/n", out)

	flaky := &stage{name: "r", failures: 2, events: &events}
	retry := pipeline.New(pipeline.NewProcessorInfo[string]("r", flaky,
		pipeline.WithErrorStrategy[string](pipeline.RetryOnError),
		pipeline.WithRetryOptions[string](3, 10*time.Millisecond)))
	out, err = retry.Process(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, "in/r", out)
	assert.Equal(t, 3, flaky.calls)

	broken := &stage{name: "x", failures: 10, events: &events}
	giveUp := pipeline.New(pipeline.NewProcessorInfo[string]("x", broken,
		pipeline.WithErrorStrategy[string](pipeline.RetryOnError),
		pipeline.WithRetryOptions[string](2, 10*time.Millisecond)))
	_, err = giveUp.Process(context.Background(), "in")
	assert.EqualError(t, err, "x failed")
	assert.Equal(t, 3, broken.calls)
}

func TestPipeStopsOnCancelledContext(t *testing.T) {
	var events []string
	s := &stage{name: "a", events: &events}
	pipe := pipeline.New(pipeline.NewProcessorInfo[string]("a", s))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipe.Process(ctx, "in")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.calls)
}

func TestErrorStrategyString(t *testing.T) {
	assert.Equal(t, "retry", pipeline.RetryOnError.String())
	assert.Equal(t, "unknown", pipeline.ErrorStrategy(9).String())
}
