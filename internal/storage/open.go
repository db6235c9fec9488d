package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

// Store is the identity and attendance persistence both drivers provide.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	ListIdentities(ctx context.Context) ([]models.Identity, error)
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
	CountIdentities(ctx context.Context) (int, error)
	InsertIdentity(ctx context.Context, id models.Identity) error
	DeleteIdentity(ctx context.Context, identityID string) (int, error)

	FindAttendance(ctx context.Context, identityID string, day time.Time) (*models.AttendanceRecord, error)
	InsertAttendance(ctx context.Context, rec models.AttendanceRecord) error
	UpdateCheckout(ctx context.Context, identityID string, day, at time.Time) (bool, error)
	ListAttendanceSince(ctx context.Context, since time.Time) ([]models.AttendanceRecord, error)
	DeleteAttendanceFor(ctx context.Context, identityID string) (int, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the store selected by cfg.Driver. Postgres is migrated before
// it is returned.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		return NewMemoryStore(), nil
	case "", "postgres":
		db, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
