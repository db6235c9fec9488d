// Package ingest reads camera frames through FFmpeg.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/recognition"
)

// DefaultStartupTimeout bounds the wait for the first frame.
const DefaultStartupTimeout = 10 * time.Second

// ErrNoFrames is returned when FFmpeg starts but never produces a frame.
var ErrNoFrames = errors.New("no frames received from ffmpeg")

// Camera is an FFmpeg-backed frame source for RTSP/HTTP URLs, files and
// V4L2 devices (/dev/video*).
type Camera struct {
	URL            string
	FPS            int
	Width          int // 0 keeps the source width
	StartupTimeout time.Duration
	Binary         string
}

// Open starts FFmpeg and waits for the first frame, so a camera that cannot
// deliver fails here rather than on the first read.
func (c *Camera) Open(ctx context.Context) (recognition.FrameStream, error) {
	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(c.URL, c.FPS, c.Width)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "source", c.URL, "output", scanner.Text())
		}
	}()

	s := &ffmpegStream{cmd: cmd, cancel: cancel, frames: NewFrameReader(stdout)}

	timeout := c.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	first, err := s.readWithin(ctx, timeout)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", c.URL, err)
	}
	s.pending = first

	slog.Info("camera opened", "source", c.URL, "fps", c.FPS)
	return s, nil
}

// ffmpegArgs builds the command line for one source.
func ffmpegArgs(url string, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	case strings.HasPrefix(url, "/dev/video"):
		args = append(args, "-f", "v4l2")
	}

	filters := []string{}
	if fps > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", fps))
	}
	if width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-1", width))
	}

	args = append(args, "-i", url)
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

type ffmpegStream struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  *FrameReader
	pending []byte

	closeOnce sync.Once
}

func (s *ffmpegStream) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := s.pending
	s.pending = nil
	if data == nil {
		var err error
		if data, err = s.frames.ReadFrame(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *ffmpegStream) readWithin(ctx context.Context, d time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := s.frames.ReadFrame()
		ch <- result{data, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-ch:
		if errors.Is(r.err, io.EOF) {
			return nil, ErrNoFrames
		}
		return r.data, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w (waited %s)", ErrNoFrames, d)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ffmpegStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		werr := s.cmd.Wait()
		var exitErr *exec.ExitError
		if werr != nil && !errors.As(werr, &exitErr) {
			err = werr
		}
	})
	return err
}
