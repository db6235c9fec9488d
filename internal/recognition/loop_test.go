package recognition

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRead = errors.New("stream ended")

// scriptedStream returns frames then errRead.
type scriptedStream struct {
	frames int
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.frames == 0 {
		return nil, errRead
	}
	s.frames--
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type scriptedSource struct {
	mu      sync.Mutex
	streams []*scriptedStream
	openErr []error
	opens   int
}

func (s *scriptedSource) Open(context.Context) (FrameStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.opens
	s.opens++
	if i < len(s.openErr) && s.openErr[i] != nil {
		return nil, s.openErr[i]
	}
	if i >= len(s.streams) {
		return &scriptedStream{}, nil
	}
	return s.streams[i], nil
}

type processorFunc func(ctx context.Context, img image.Image) ([]Recognition, error)

func (f processorFunc) Process(ctx context.Context, img image.Image) ([]Recognition, error) {
	return f(ctx, img)
}

func okProcessor() Processor {
	return processorFunc(func(context.Context, image.Image) ([]Recognition, error) {
		return []Recognition{{Region: image.Rect(0, 0, 1, 1)}}, nil
	})
}

func TestLoop_OpenFailureIsFatal(t *testing.T) {
	src := &scriptedSource{openErr: []error{errors.New("no camera")}}
	l := &Loop{CameraID: "cam", Source: src, Processor: okProcessor()}

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no camera")
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &scriptedStream{frames: 1000}
	var got int
	l := &Loop{
		CameraID:  "cam",
		Source:    &scriptedSource{streams: []*scriptedStream{stream}},
		Processor: okProcessor(),
		Handler: func(_ context.Context, f Frame) {
			got++
			assert.Equal(t, "cam", f.CameraID)
			assert.Len(t, f.Recognitions, 1)
			if got == 3 {
				cancel()
			}
		},
	}

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 3, got, "no frame handled after cancel")
	assert.True(t, stream.closed)
}

func TestLoop_SkipsFailedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	proc := processorFunc(func(context.Context, image.Image) ([]Recognition, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("bad frame")
		}
		return nil, nil
	})

	handled := 0
	l := &Loop{
		Source:    &scriptedSource{streams: []*scriptedStream{{frames: 100}}},
		Processor: proc,
		Handler: func(context.Context, Frame) {
			handled++
			if handled == 3 {
				cancel()
			}
		},
	}

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 5, calls)
	assert.Equal(t, 3, handled)
}

func TestLoop_ReopensThenGivesUp(t *testing.T) {
	first := &scriptedStream{frames: 2}
	second := &scriptedStream{frames: 1}
	src := &scriptedSource{streams: []*scriptedStream{first, second}}

	handled := 0
	l := &Loop{
		Source:      src,
		Processor:   okProcessor(),
		Handler:     func(context.Context, Frame) { handled++ },
		MaxRestarts: 2,
		Backoff:     time.Millisecond,
	}

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errRead)
	assert.Equal(t, 3, handled)
	// Initial open, reopen after first fails, reopen after second fails,
	// then two consecutive failures on empty streams exhaust the budget.
	assert.Equal(t, 4, src.opens)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestLoop_ReopenFailureIsFatal(t *testing.T) {
	src := &scriptedSource{
		streams: []*scriptedStream{{frames: 1}},
		openErr: []error{nil, errors.New("device gone")},
	}
	l := &Loop{Source: src, Processor: okProcessor(), MaxRestarts: 5}

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reopen source")
	assert.Equal(t, 2, src.opens)
}
