package ingest

import (
	"bufio"
	"fmt"
	"io"
)

// MaxFrameBytes caps a single JPEG frame.
const MaxFrameBytes = 10 << 20

// FrameReader splits a stream of concatenated JPEG images on SOI/EOI markers.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 512*1024)}
}

// ReadFrame returns the next complete JPEG. Bytes before a start marker are
// skipped. io.EOF means the stream ended cleanly between frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if err := f.findStart(); err != nil {
		return nil, err
	}

	data := []byte{0xFF, 0xD8}
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, unexpected(err)
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := f.r.ReadByte()
			if err != nil {
				return nil, unexpected(err)
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > MaxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}

func (f *FrameReader) findStart() error {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = f.r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
		if b == 0xFF {
			// FF FF D8: the second FF may open the marker.
			if err := f.r.UnreadByte(); err != nil {
				return err
			}
		}
	}
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
