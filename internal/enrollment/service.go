// Package enrollment registers and removes identities and keeps the
// in-memory gallery consistent with the persistent store.
package enrollment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/index"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

// Store is the identity half of the persistent store.
type Store interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
	InsertIdentity(ctx context.Context, id models.Identity) error
	DeleteIdentity(ctx context.Context, identityID string) (int, error)
}

// Encoder finds faces and their feature vectors in an image.
type Encoder interface {
	DetectAndEncode(ctx context.Context, img image.Image) ([]models.Face, error)
}

// Notifier tells other processes the registry changed.
type Notifier interface {
	NotifyRegistryChanged(ctx context.Context) error
}

// Request is the profile half of an enrollment.
type Request struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"contact_email"`
	Department  string `json:"department"`
	Filename    string `json:"-"`
}

func (r *Request) normalize() {
	r.IdentityID = strings.TrimSpace(r.IdentityID)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.Email = strings.TrimSpace(r.Email)
	r.Department = strings.TrimSpace(r.Department)
}

// Validate checks the profile fields.
func (r Request) Validate() error {
	if r.IdentityID == "" || r.DisplayName == "" || r.Email == "" || r.Department == "" {
		return ErrMissingFields
	}
	for _, c := range r.IdentityID {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return ErrInvalidIdentityID
		}
	}
	if !strings.Contains(r.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

type Service struct {
	store    Store
	encoder  Encoder
	index    *index.Index
	notifier Notifier
	dim      int
	now      func() time.Time

	mu     sync.Mutex // serialises persist+rebuild
	reload singleflight.Group

	// Refresh generations: requested counts calls, completed is the
	// highest request a finished rebuild is known to cover.
	requested atomic.Uint64
	completed atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes registry changes after every enrollment and removal.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDimension fixes the feature vector length accepted from the encoder.
func WithDimension(dim int) Option {
	return func(s *Service) { s.dim = dim }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, encoder Encoder, idx *index.Index, opts ...Option) *Service {
	s := &Service{
		store:   store,
		encoder: encoder,
		index:   idx,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enroll validates the request, encodes the single face in the upload and
// persists the identity. The gallery reflects the new identity before Enroll
// returns. The upload is discarded on every path.
func (s *Service) Enroll(ctx context.Context, req Request, upload Upload) (*models.Identity, error) {
	if upload != nil {
		defer func() {
			if err := upload.Discard(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("discard upload", "identity_id", req.IdentityID, "error", err)
			}
		}()
	}

	id, err := s.enroll(ctx, req, upload)
	result := "ok"
	if err != nil {
		result = apperr.CodeOf(err)
		if result == "" {
			result = "error"
		}
	}
	observability.Enrollments.WithLabelValues(result).Inc()
	return id, err
}

func (s *Service) enroll(ctx context.Context, req Request, upload Upload) (*models.Identity, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, ErrNoPhoto
	}
	if req.Filename != "" && !AllowedFile(req.Filename) {
		return nil, ErrInvalidFileType
	}

	data, err := upload.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	faces, err := s.encoder.DetectAndEncode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	switch {
	case len(faces) == 0:
		return nil, ErrNoFaceDetected
	case len(faces) > 1:
		return nil, ErrMultipleFacesDetected
	}

	existing, err := s.store.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateIdentity
	}

	vec := faces[0].Vector
	if dim := s.dimension(); len(vec) == 0 || (dim > 0 && len(vec) != dim) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrEncodingFailure, len(vec), dim)
	}
	if !index.Finite(vec) {
		return nil, fmt.Errorf("%w: non-finite feature value", ErrEncodingFailure)
	}

	ident := models.Identity{
		IdentityID:    req.IdentityID,
		DisplayName:   req.DisplayName,
		ContactEmail:  req.Email,
		Department:    req.Department,
		FeatureVector: vec,
		EnrolledAt:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.InsertIdentity(ctx, ident); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	if err := s.rebuildLocked(ctx); err != nil {
		// The insert is committed, so the gallery must still pick it up.
		slog.Warn("rebuild gallery after enroll", "identity_id", ident.IdentityID, "error", err)
		if addErr := s.index.Add(ident); addErr != nil {
			slog.Error("add identity to gallery", "identity_id", ident.IdentityID, "error", addErr)
			s.undoInsert(ctx, ident.IdentityID)
			return nil, fmt.Errorf("update gallery: %w", err)
		}
		observability.GallerySize.Set(float64(s.index.Len()))
	}

	slog.Info("identity enrolled", "identity_id", ident.IdentityID, "department", ident.Department)
	s.notify(ctx)
	return &ident, nil
}

// Remove deletes an identity and its attendance history.
func (s *Service) Remove(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.store.DeleteIdentity(ctx, identityID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, identityID)
	}
	if err := s.rebuildLocked(ctx); err != nil {
		slog.Warn("rebuild gallery after remove", "identity_id", identityID, "error", err)
		s.index.Remove(identityID)
		observability.GallerySize.Set(float64(s.index.Len()))
	}

	slog.Info("identity removed", "identity_id", identityID)
	s.notify(ctx)
	return nil
}

// Reload rebuilds the gallery from the store.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

// Refresh is Reload with concurrent callers sharing one rebuild. A caller
// that joins a rebuild which began before its call waits for another pass,
// so changes committed before Refresh are always visible when it returns.
func (s *Service) Refresh(ctx context.Context) error {
	want := s.requested.Add(1)
	for {
		_, err, _ := s.reload.Do("reload", func() (any, error) {
			gen := s.requested.Load()
			if err := s.Reload(ctx); err != nil {
				return nil, err
			}
			s.completed.Store(gen)
			return nil, nil
		})
		if err != nil {
			return err
		}
		if s.completed.Load() >= want {
			return nil
		}
	}
}

// List returns every identity ordered by display name.
func (s *Service) List(ctx context.Context) ([]models.Identity, error) {
	ids, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return strings.ToLower(ids[i].DisplayName) < strings.ToLower(ids[j].DisplayName)
	})
	return ids, nil
}

func (s *Service) rebuildLocked(ctx context.Context) error {
	ids, err := s.store.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}
	if err := s.index.Rebuild(ids); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	observability.GallerySize.Set(float64(len(ids)))
	slog.Debug("gallery rebuilt", "identities", len(ids))
	return nil
}

// undoInsert deletes an identity whose enrollment could not complete.
func (s *Service) undoInsert(ctx context.Context, identityID string) {
	if _, err := s.store.DeleteIdentity(context.WithoutCancel(ctx), identityID); err != nil {
		slog.Error("undo enroll", "identity_id", identityID, "error", err)
	}
}

func (s *Service) dimension() int {
	if s.dim > 0 {
		return s.dim
	}
	return s.index.Dimension()
}

func (s *Service) notify(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRegistryChanged(ctx); err != nil {
		slog.Warn("notify registry changed", "error", err)
	}
}
