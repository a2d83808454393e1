// Package pgstore implements the engine's identity-store boundary on
// PostgreSQL. Schema changes ship as embedded goose migrations applied
// by Open.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nextwhatsapp/adminauth"
)

// Store is a PostgreSQL-backed adminauth.IdentityStore.
type Store struct {
	db *sql.DB
}

var _ adminauth.IdentityStore = (*Store)(nil)

// Open connects with the pgx stdlib driver, verifies the connection,
// and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection without running migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const accountColumns = `id, email, name, role, password_hash, phone,
	totp_enabled, totp_secret, failed_logins, locked, locked_until,
	last_login_at, last_login_ip, active`

func (s *Store) GetByEmail(ctx context.Context, email, role string) (*adminauth.Account, error) {
	query := `SELECT ` + accountColumns + `
		 FROM admin_accounts
		 WHERE lower(email) = lower($1) AND role = $2`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, email, role))
}

func (s *Store) GetByID(ctx context.Context, id string) (*adminauth.Account, error) {
	query := `SELECT ` + accountColumns + `
		 FROM admin_accounts
		 WHERE id = $1`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) scanAccount(row *sql.Row) (*adminauth.Account, error) {
	var (
		acct        adminauth.Account
		totpSecret  []byte
		lockedUntil sql.NullTime
		lastLoginAt sql.NullTime
	)
	err := row.Scan(
		&acct.ID, &acct.Email, &acct.Name, &acct.Role, &acct.PasswordHash,
		&acct.Phone, &acct.TwoFactorEnabled, &totpSecret, &acct.FailedLogins,
		&acct.Locked, &lockedUntil, &lastLoginAt, &acct.LastLoginIP, &acct.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, adminauth.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	acct.TOTPSecret = totpSecret
	if lockedUntil.Valid {
		acct.LockedUntil = lockedUntil.Time
	}
	if lastLoginAt.Valid {
		acct.LastLoginAt = lastLoginAt.Time
	}
	return &acct, nil
}

func (s *Store) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	query := `UPDATE admin_accounts
		 SET failed_logins = failed_logins + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING failed_logins`

	var count int
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, adminauth.ErrAccountNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string, at time.Time, ip string) error {
	query := `UPDATE admin_accounts
		 SET failed_logins = 0, locked = FALSE, locked_until = NULL,
		     last_login_at = $2, last_login_ip = $3, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id, at, ip)
}

func (s *Store) SetLock(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE admin_accounts
		 SET locked = TRUE, locked_until = $2, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id, until)
}

func (s *Store) ClearLock(ctx context.Context, id string) error {
	query := `UPDATE admin_accounts
		 SET locked = FALSE, locked_until = NULL, failed_logins = 0, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id)
}

func (s *Store) EnableTOTP(ctx context.Context, id string, secret []byte) error {
	query := `UPDATE admin_accounts
		 SET totp_enabled = TRUE, totp_secret = $2, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id, secret)
}

func (s *Store) DisableTOTP(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE admin_accounts
		 SET totp_enabled = FALSE, totp_secret = NULL, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return adminauth.ErrAccountNotFound
	}

	// Recovery codes only make sense while the factor is enabled.
	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_backup_codes WHERE admin_id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_backup_codes WHERE admin_id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO admin_backup_codes (admin_id, code_hash) VALUES ($1, $2)`,
			id, hash[:]); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ConsumeBackupCode deletes the matching row; the row count tells us
// whether the code was live. Two racing submissions of the same code
// can only delete it once.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM admin_backup_codes WHERE admin_id = $1 AND code_hash = $2`,
		id, hash[:])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdatePhone(ctx context.Context, id, phone string) error {
	query := `UPDATE admin_accounts
		 SET phone = $2, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id, phone)
}

func (s *Store) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE admin_accounts
		 SET active = FALSE, updated_at = now()
		 WHERE id = $1`
	return s.exec(ctx, query, id)
}

// CreateAccount inserts a new admin row and returns its generated ID.
// Provisioning tooling uses this; the engine itself never creates
// accounts.
func (s *Store) CreateAccount(ctx context.Context, email, name, role, passwordHash, phone string) (string, error) {
	query := `INSERT INTO admin_accounts (email, name, role, password_hash, phone)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`

	var id string
	if err := s.db.QueryRowContext(ctx, query, email, name, role, passwordHash, phone).Scan(&id); err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return adminauth.ErrAccountNotFound
	}
	return nil
}
