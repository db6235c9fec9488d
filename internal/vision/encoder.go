// Package vision is the ONNX face encoder: RetinaFace finds faces and ArcFace
// turns each into a feature vector.
package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// Encoder detects and encodes faces. ONNX sessions hold fixed input
// tensors, so calls are serialised.
type Encoder struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewEncoder loads both models from cfg.ModelsDir. The ONNX runtime must
// already be initialised.
func NewEncoder(cfg config.VisionConfig) (*Encoder, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
	emb, err := NewEmbedder(embPath, cfg.EmbeddingDim)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Encoder{detector: det, embedder: emb}, nil
}

// Dim returns the length of produced vectors.
func (e *Encoder) Dim() int {
	return e.embedder.Dim()
}

// DetectAndEncode returns every face in img, most confident first, with its
// region in img's coordinates.
func (e *Encoder) DetectAndEncode(ctx context.Context, img image.Image) ([]models.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	dets, err := e.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]models.Face, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		region := d.Rect()
		crop := cropFace(img, region)
		if crop == nil {
			continue
		}

		start = time.Now()
		vec, err := e.embedder.Extract(crop)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, models.Face{Region: region, Vector: vec})
	}
	return faces, nil
}

// Close releases the ONNX sessions.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = apperr.New(apperr.ErrExternal, "encoder_unavailable", "Face encoder is not available")

// Unavailable stands in for Encoder when the models or runtime could not be
// loaded. Every call fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) DetectAndEncode(context.Context, image.Image) ([]models.Face, error) {
	return nil, ErrUnavailable
}
