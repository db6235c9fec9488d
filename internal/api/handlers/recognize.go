package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/pkg/dto"
)

// Recognizer runs detection and matching on an encoded image.
type Recognizer interface {
	ProcessEncoded(ctx context.Context, data []byte) ([]recognition.Recognition, error)
}

type RecognizeHandler struct {
	pipeline  Recognizer
	maxUpload int64
}

func NewRecognizeHandler(pipeline Recognizer, maxUpload int64) *RecognizeHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &RecognizeHandler{pipeline: pipeline, maxUpload: maxUpload}
}

// Recognize identifies every face in the photo form file. Boxes are in the
// uploaded image's pixel coordinates.
func (h *RecognizeHandler) Recognize(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	file, err := c.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "File too large", Code: "upload_too_large"})
			return
		}
		badRequest(c, "no_photo", "No photo selected")
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(c, err)
		return
	}

	recs, err := h.pipeline.ProcessEncoded(c.Request.Context(), data)
	if err != nil {
		writeError(c, err)
		return
	}

	faces := make([]dto.RecognizedFace, 0, len(recs))
	for _, r := range recs {
		faces = append(faces, dto.RecognizedFace{
			BBox:        r.BBox(),
			IdentityID:  r.Match.IdentityID,
			DisplayName: r.Match.DisplayName,
			Label:       r.Match.Label(),
			Distance:    r.Match.Distance,
			Confident:   r.Match.IsConfident,
		})
	}
	c.JSON(http.StatusOK, dto.RecognizeResponse{Faces: faces, Total: len(faces)})
}
