package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

func NewPostgresStoreDSN(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---

const identityColumns = `identity_id, display_name, contact_email, department, feature_vector, enrolled_at`

func scanIdentity(row pgx.Row) (models.Identity, error) {
	var (
		id  models.Identity
		vec pgvector.Vector
	)
	if err := row.Scan(&id.IdentityID, &id.DisplayName, &id.ContactEmail, &id.Department, &vec, &id.EnrolledAt); err != nil {
		return models.Identity{}, err
	}
	id.FeatureVector = vec.Slice()
	return id, nil
}

// ListIdentities returns every identity in enrollment order.
func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// GetIdentity returns nil, nil when the identity does not exist.
func (s *PostgresStore) GetIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	id, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE identity_id = $1`, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &id, nil
}

func (s *PostgresStore) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) InsertIdentity(ctx context.Context, id models.Identity) error {
	if id.EnrolledAt.IsZero() {
		id.EnrolledAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		id.IdentityID, id.DisplayName, id.ContactEmail, id.Department,
		pgvector.NewVector(id.FeatureVector), id.EnrolledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert identity %s: %w", id.IdentityID, ErrDuplicateKey)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// DeleteIdentity removes the identity and its attendance history in one
// transaction. It returns the number of identities removed.
func (s *PostgresStore) DeleteIdentity(ctx context.Context, identityID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin delete identity: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM attendance WHERE identity_id = $1`, identityID); err != nil {
		return 0, fmt.Errorf("delete attendance: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM identities WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("delete identity: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete identity: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Attendance ---

const attendanceColumns = `identity_id, day, check_in_time, check_out_time, status`

func scanAttendance(row pgx.Row) (models.AttendanceRecord, error) {
	var r models.AttendanceRecord
	if err := row.Scan(&r.IdentityID, &r.Day, &r.CheckInTime, &r.CheckOutTime, &r.Status); err != nil {
		return models.AttendanceRecord{}, err
	}
	r.Day = models.DateOf(r.Day, time.UTC)
	return r, nil
}

// FindAttendance returns nil, nil when no record exists for the day.
func (s *PostgresStore) FindAttendance(ctx context.Context, identityID string, day time.Time) (*models.AttendanceRecord, error) {
	r, err := scanAttendance(s.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE identity_id = $1 AND day = $2`,
		identityID, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, rec models.AttendanceRecord) error {
	if rec.Status == "" {
		rec.Status = models.StatusPresent
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (`+attendanceColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		rec.IdentityID, rec.Day, rec.CheckInTime, rec.CheckOutTime, rec.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert attendance %s: %w", rec.IdentityID, ErrDuplicateKey)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("insert attendance %s: %w", rec.IdentityID, ErrMissingReference)
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// UpdateCheckout sets the check-out time of an open record. It reports false
// when the record was already closed or does not exist.
func (s *PostgresStore) UpdateCheckout(ctx context.Context, identityID string, day, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance SET check_out_time = $3
		 WHERE identity_id = $1 AND day = $2 AND check_out_time IS NULL`,
		identityID, day, at)
	if err != nil {
		return false, fmt.Errorf("update checkout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAttendanceSince returns records on or after since, newest day first.
func (s *PostgresStore) ListAttendanceSince(ctx context.Context, since time.Time) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE day >= $1 ORDER BY day DESC, check_in_time DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceRecord
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteAttendanceFor(ctx context.Context, identityID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM attendance WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("delete attendance: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
