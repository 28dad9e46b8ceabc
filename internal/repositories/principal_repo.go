package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/vigil/internal/database"
	"github.com/BradenHooton/vigil/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PrincipalRepository implements the principal store over postgres.
type PrincipalRepository struct {
	db *database.DB
}

func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

const principalColumns = `id, email, password_hash, kind, active, failed_attempts, locked_until,
	second_factor_secret, second_factor_enabled, last_login_at, created_at, updated_at`

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(scanner rowScanner) (*models.Principal, error) {
	var p models.Principal

	err := scanner.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.Kind, &p.Active,
		&p.FailedAttempts, &p.LockedUntil,
		&p.SecondFactorSecret, &p.SecondFactorEnabled,
		&p.LastLoginAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM principals WHERE id = $1`, principalColumns)
	return scanPrincipal(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *PrincipalRepository) GetByLoginKey(ctx context.Context, email string) (*models.Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM principals WHERE email = $1`, principalColumns)
	return scanPrincipal(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	p.ID = uuid.New().String()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if p.Kind == "" {
		p.Kind = models.KindCustomer
	}

	query := fmt.Sprintf(`
		INSERT INTO principals (id, email, password_hash, kind, active, second_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s
	`, principalColumns)

	return scanPrincipal(r.db.Pool.QueryRow(ctx, query,
		p.ID, p.Email, p.PasswordHash, p.Kind, p.Active, p.SecondFactorEnabled, p.CreatedAt, p.UpdatedAt,
	))
}

// RecordFailedAttempt increments the failed-attempt counter and, in the same
// statement, sets the lock when the post-increment count reaches the
// threshold and no lock is currently active. Concurrent failures for the
// same principal serialize on the row, so exactly one of them observes the
// threshold crossing. Returns the post-increment count and the lock, if any.
func (r *PrincipalRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE principals
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE
		        WHEN failed_attempts + 1 >= $2 AND (locked_until IS NULL OR locked_until <= now())
		        THEN $3
		        ELSE locked_until
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`

	var attempts int
	var locked *time.Time
	err := r.db.Pool.QueryRow(ctx, query, id, threshold, lockUntil).Scan(&attempts, &locked)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	return attempts, locked, nil
}

func (r *PrincipalRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE principals
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PrincipalRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE principals SET last_login_at = $2, updated_at = now() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, at)
	return database.MapPostgresError(err)
}

func (r *PrincipalRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE principals SET password_hash = $2, updated_at = now() WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetSecondFactor persists the second-factor secret and flag together with
// the replacement backup-code set in one transaction, so a failed write can
// never leave a principal with a secret but no recovery codes.
func (r *PrincipalRepository) SetSecondFactor(ctx context.Context, id string, secret *string, enabled bool, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE principals
			SET second_factor_secret = $2, second_factor_enabled = $3, updated_at = now()
			WHERE id = $1
		`, id, secret, enabled)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, id); err != nil {
			return database.MapPostgresError(err)
		}

		for _, hash := range codeHashes {
			_, err := tx.Exec(ctx, `
				INSERT INTO backup_codes (id, principal_id, code_hash, created_at)
				VALUES ($1, $2, $3, now())
			`, uuid.New().String(), id, hash)
			if err != nil {
				return database.MapPostgresError(err)
			}
		}

		return nil
	})
}

func (r *PrincipalRepository) ListActiveBackupCodes(ctx context.Context, principalID string) ([]models.BackupCode, error) {
	query := `
		SELECT id, principal_id, code_hash, used_at, created_at
		FROM backup_codes
		WHERE principal_id = $1 AND used_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	codes := make([]models.BackupCode, 0)
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.PrincipalID, &c.CodeHash, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup codes: %w", err)
	}

	return codes, nil
}

// ConsumeBackupCode marks a single code used. The used_at guard makes
// consumption atomic: a replay of an already-consumed code reports
// ErrBackupCodeUsed no matter how the calls interleave.
func (r *PrincipalRepository) ConsumeBackupCode(ctx context.Context, codeID string) error {
	query := `UPDATE backup_codes SET used_at = now() WHERE id = $1 AND used_at IS NULL`

	result, err := r.db.Pool.Exec(ctx, query, codeID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrBackupCodeUsed
	}
	return nil
}
