package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/attendance/internal/apperr"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.New(apperr.ErrValidation, "x", "x"), http.StatusBadRequest},
		{"not found wrapped", fmt.Errorf("get: %w", apperr.New(apperr.ErrNotFound, "x", "x")), http.StatusNotFound},
		{"conflict", apperr.ErrConflict, http.StatusConflict},
		{"external", apperr.New(apperr.ErrExternal, "x", "x"), http.StatusUnprocessableEntity},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), internalErrorMessage)
}

func TestWriteErrorUsesCodedMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, fmt.Errorf("%w: raw detail", apperr.New(apperr.ErrValidation, "bad_thing", "Bad thing")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Bad thing","code":"bad_thing"}`, rec.Body.String())
}
