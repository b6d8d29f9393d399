package sqliterepos

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	ErrOTPNotFound        = errors.New("no verification code was requested for this email")
	ErrOTPInvalid         = errors.New("invalid verification code")
	ErrOTPExpired         = errors.New("verification code has expired")
	ErrOTPTooManyAttempts = errors.New("too many attempts, request a new code")
)

type otpRecord struct {
	Email     string    `db:"email"`
	Purpose   string    `db:"purpose"`
	Code      string    `db:"code"`
	Attempts  int       `db:"attempts"`
	Consumed  bool      `db:"consumed"`
	ExpiresAt time.Time `db:"expires_at"`
}

// OTPRepository owns verification challenges. A challenge is single-use:
// consuming it succeeds at most once, and re-issuing replaces it.
type OTPRepository struct {
	db *sqlx.DB
}

func NewOTPRepository(db *sqlx.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// GenerateCode returns a random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", errors.Wrap(err, "generating code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue creates or replaces the challenge for (email, purpose).
func (repo *OTPRepository) Issue(ctx context.Context, email, purpose, code string, expiresAt time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO otps (email, purpose, code, attempts, consumed, expires_at)
		VALUES (?, ?, ?, 0, 0, ?)
		ON CONFLICT (email, purpose) DO UPDATE
		SET code = excluded.code, attempts = 0, consumed = 0, expires_at = excluded.expires_at`,
		email, purpose, code, expiresAt.UTC())
	return errors.Wrap(err, "issuing otp")
}

// Consume validates and burns the challenge. Wrong codes count against
// maxAttempts; expiry and attempt limits are enforced here, server-side.
func (repo *OTPRepository) Consume(ctx context.Context, email, purpose, code string, maxAttempts int) error {
	var rec otpRecord
	err := repo.db.GetContext(ctx, &rec,
		`SELECT * FROM otps WHERE email = ? AND purpose = ? AND consumed = 0`, email, purpose)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrOTPNotFound
		}
		return errors.Wrap(err, "finding otp")
	}

	if time.Now().UTC().After(rec.ExpiresAt) {
		return ErrOTPExpired
	}
	if rec.Attempts >= maxAttempts {
		return ErrOTPTooManyAttempts
	}
	if rec.Code != code {
		_, uerr := repo.db.ExecContext(ctx,
			`UPDATE otps SET attempts = attempts + 1 WHERE email = ? AND purpose = ?`, email, purpose)
		if uerr != nil {
			return errors.Wrap(uerr, "counting attempt")
		}
		return ErrOTPInvalid
	}

	_, err = repo.db.ExecContext(ctx,
		`UPDATE otps SET consumed = 1 WHERE email = ? AND purpose = ?`, email, purpose)
	return errors.Wrap(err, "consuming otp")
}

// WasVerified reports whether the challenge for (email, purpose) has been consumed.
func (repo *OTPRepository) WasVerified(ctx context.Context, email, purpose string) (bool, error) {
	var verified bool
	err := repo.db.GetContext(ctx, &verified,
		`SELECT EXISTS (SELECT 1 FROM otps WHERE email = ? AND purpose = ? AND consumed = 1)`, email, purpose)
	return verified, errors.Wrap(err, "checking otp verification")
}
