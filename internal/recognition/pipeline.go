// Package recognition turns frames into per-face identity decisions.
package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

// DefaultMaxFrameWidth is the widest frame handed to the encoder.
const DefaultMaxFrameWidth = 1024

var ErrDecode = apperr.New(apperr.ErrValidation, "decode_error", "Invalid or corrupt image file")

// Encoder finds faces and their feature vectors in an image.
type Encoder interface {
	DetectAndEncode(ctx context.Context, img image.Image) ([]models.Face, error)
}

// Identifier decides who a feature vector belongs to.
type Identifier interface {
	Identify(probe []float32) (models.MatchResult, error)
}

// Recognition is one face in a frame and the decision for it. Region is in
// the coordinates of the frame passed to Process.
type Recognition struct {
	Region image.Rectangle   `json:"-"`
	Match  models.MatchResult `json:"match"`
}

// BBox returns Region as x1, y1, x2, y2.
func (r Recognition) BBox() [4]int {
	return [4]int{r.Region.Min.X, r.Region.Min.Y, r.Region.Max.X, r.Region.Max.Y}
}

type Pipeline struct {
	encoder  Encoder
	matcher  Identifier
	maxWidth int
}

// NewPipeline returns a pipeline. maxWidth <= 0 selects DefaultMaxFrameWidth.
func NewPipeline(encoder Encoder, matcher Identifier, maxWidth int) *Pipeline {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxFrameWidth
	}
	return &Pipeline{encoder: encoder, matcher: matcher, maxWidth: maxWidth}
}

// Process detects, encodes and matches every face in img. Results are in
// detection order.
func (p *Pipeline) Process(ctx context.Context, img image.Image) ([]Recognition, error) {
	start := time.Now()
	work, scale := downscale(img, p.maxWidth)
	observability.InferenceDuration.WithLabelValues("resize").Observe(time.Since(start).Seconds())

	faces, err := p.encoder.DetectAndEncode(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("detect and encode: %w", err)
	}
	observability.FacesDetected.Add(float64(len(faces)))

	start = time.Now()
	out := make([]Recognition, 0, len(faces))
	for _, f := range faces {
		match, err := p.matcher.Identify(f.Vector)
		if err != nil {
			return nil, fmt.Errorf("identify: %w", err)
		}
		if match.Known() {
			observability.FacesRecognized.Inc()
		} else {
			observability.FacesUnknown.Inc()
		}
		out = append(out, Recognition{
			Region: rescale(f.Region, work.Bounds(), scale, img.Bounds()),
			Match:  match,
		})
	}
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	return out, nil
}

// ProcessEncoded decodes a JPEG or PNG image and processes it.
func (p *Pipeline) ProcessEncoded(ctx context.Context, data []byte) ([]Recognition, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p.Process(ctx, img)
}

// downscale shrinks img to maxWidth keeping its aspect ratio. It returns the
// image to process and the factor applied (1 when unchanged).
func downscale(img image.Image, maxWidth int) (image.Image, float64) {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img, 1
	}
	scale := float64(maxWidth) / float64(b.Dx())
	h := max(int(float64(b.Dy())*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, scale
}

// rescale maps r from the processed image back onto the original frame by
// the inverse of scale, clamped to the frame.
func rescale(r, processed image.Rectangle, scale float64, frame image.Rectangle) image.Rectangle {
	if scale == 1 {
		return r.Intersect(frame)
	}
	r = r.Sub(processed.Min)
	inv := 1 / scale
	out := image.Rect(
		int(math.Round(float64(r.Min.X)*inv)),
		int(math.Round(float64(r.Min.Y)*inv)),
		int(math.Round(float64(r.Max.X)*inv)),
		int(math.Round(float64(r.Max.Y)*inv)),
	).Add(frame.Min)
	return out.Intersect(frame)
}
