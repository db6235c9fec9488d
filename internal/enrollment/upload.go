package enrollment

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// Upload is a photo handed over for enrollment. Discard is called exactly
// once when enrollment finishes, whatever the outcome.
type Upload interface {
	Bytes(ctx context.Context) ([]byte, error)
	Discard(ctx context.Context) error
}

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// AllowedFile reports whether filename has an accepted image extension.
func AllowedFile(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// MemoryUpload holds an upload in process memory.
type MemoryUpload struct {
	mu        sync.Mutex
	data      []byte
	discarded bool
}

func NewMemoryUpload(data []byte) *MemoryUpload {
	return &MemoryUpload{data: data}
}

func (u *MemoryUpload) Bytes(context.Context) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.data, nil
}

func (u *MemoryUpload) Discard(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data = nil
	u.discarded = true
	return nil
}

// Discarded reports whether Discard has run.
func (u *MemoryUpload) Discarded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discarded
}
