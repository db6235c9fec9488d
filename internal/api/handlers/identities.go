package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/enrollment"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

// DefaultMaxUploadBytes bounds an enrollment request body.
const DefaultMaxUploadBytes = 16 << 20

// Enroller is the registry the identity endpoints drive.
type Enroller interface {
	Enroll(ctx context.Context, req enrollment.Request, upload enrollment.Upload) (*models.Identity, error)
	Remove(ctx context.Context, identityID string) error
	List(ctx context.Context) ([]models.Identity, error)
}

// StageFunc places an uploaded photo somewhere enrollment can read it.
type StageFunc func(ctx context.Context, filename string, data []byte, contentType string) (enrollment.Upload, error)

type IdentityHandler struct {
	svc       Enroller
	maxUpload int64
	// Stage keeps uploads in memory when nil.
	Stage StageFunc
}

func NewIdentityHandler(svc Enroller, maxUpload int64) *IdentityHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &IdentityHandler{svc: svc, maxUpload: maxUpload}
}

// Create enrolls an identity from a multipart form carrying identity_id,
// display_name, contact_email, department and a photo file.
func (h *IdentityHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("File too large. Maximum upload size is %dMB", h.maxUpload>>20),
				Code:  "upload_too_large",
			})
			return
		}
		badRequest(c, "invalid_form", "Expected a multipart form")
		return
	}

	req := enrollment.Request{
		IdentityID:  c.PostForm("identity_id"),
		DisplayName: c.PostForm("display_name"),
		Email:       c.PostForm("contact_email"),
		Department:  c.PostForm("department"),
	}

	var upload enrollment.Upload
	file, err := c.FormFile("photo")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		badRequest(c, "invalid_form", "Could not read the uploaded photo")
		return
	case file.Filename != "":
		req.Filename = file.Filename
		upload, err = h.stage(c.Request.Context(), file)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	ident, err := h.svc.Enroll(c.Request.Context(), req, upload)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, identityResponse(*ident))
}

func (h *IdentityHandler) stage(ctx context.Context, file *multipart.FileHeader) (enrollment.Upload, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if h.Stage == nil {
		return enrollment.NewMemoryUpload(data), nil
	}
	return h.Stage(ctx, file.Filename, data, file.Header.Get("Content-Type"))
}

// List returns every identity ordered by display name.
func (h *IdentityHandler) List(c *gin.Context) {
	idents, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(idents))
	for _, id := range idents {
		resp = append(resp, identityResponse(id))
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp, Total: len(resp)})
}

// Delete removes an identity and its attendance history.
func (h *IdentityHandler) Delete(c *gin.Context) {
	if err := h.svc.Remove(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "Identity deleted successfully."})
}

func identityResponse(id models.Identity) dto.IdentityResponse {
	return dto.IdentityResponse{
		IdentityID:   id.IdentityID,
		DisplayName:  id.DisplayName,
		ContactEmail: id.ContactEmail,
		Department:   id.Department,
		EnrolledAt:   id.EnrolledAt.UTC().Format(time.RFC3339),
	}
}
