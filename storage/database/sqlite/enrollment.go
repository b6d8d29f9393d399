package sqliterepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/elimuhq/elimu/core/enroll"
)

var (
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrIllegalTransition   = errors.New("illegal enrollment status transition")
	ErrDuplicateEnrollment = errors.New("an enrollment for this course already exists")
)

type enrollmentRecord struct {
	ID             string      `db:"id"`
	UserID         string      `db:"user_id"`
	CourseSlug     string      `db:"course_slug"`
	Status         string      `db:"status"`
	PaymentStatus  string      `db:"payment_status"`
	IdempotencyKey null.String `db:"idempotency_key"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type EnrollmentRepository struct {
	db *sqlx.DB
}

func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// GetStatus returns the enrollment and payment status for (user, course).
func (repo *EnrollmentRepository) GetStatus(ctx context.Context, userID, courseSlug string) (enroll.Status, string, error) {
	var rec enrollmentRecord
	err := repo.db.GetContext(ctx, &rec,
		`SELECT * FROM enrollments WHERE user_id = ? AND course_slug = ?`, userID, courseSlug)
	if err != nil {
		if err == sql.ErrNoRows {
			return enroll.StatusNotEnrolled, "", ErrEnrollmentNotFound
		}
		return enroll.StatusNotEnrolled, "", errors.Wrap(err, "finding enrollment")
	}
	return enroll.Status(rec.Status), rec.PaymentStatus, nil
}

// FindByIdempotencyKey returns the enrollment a previous payment attempt with
// this key produced, so a retried call never creates a duplicate.
func (repo *EnrollmentRepository) FindByIdempotencyKey(ctx context.Context, key string) (enroll.Status, string, bool, error) {
	var rec enrollmentRecord
	err := repo.db.GetContext(ctx, &rec, `SELECT * FROM enrollments WHERE idempotency_key = ?`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return enroll.StatusNotEnrolled, "", false, nil
		}
		return enroll.StatusNotEnrolled, "", false, errors.Wrap(err, "finding enrollment by key")
	}
	return enroll.Status(rec.Status), rec.PaymentStatus, true, nil
}

// RecordPayment creates the enrollment a successful payment produces. Courses
// that require admin enrollment rest in payment_verification; others are
// activated right away.
func (repo *EnrollmentRepository) RecordPayment(ctx context.Context, userID, courseSlug, idempotencyKey string, requiresAdmin bool) (enroll.Status, error) {
	if _, _, err := repo.GetStatus(ctx, userID, courseSlug); err == nil {
		return enroll.StatusNotEnrolled, ErrDuplicateEnrollment
	} else if err != ErrEnrollmentNotFound {
		return enroll.StatusNotEnrolled, err
	}

	status := enroll.StatusActive
	if requiresAdmin {
		status = enroll.StatusPaymentVerification
	}
	if !enroll.StatusNotEnrolled.CanAdvanceTo(status) {
		return enroll.StatusNotEnrolled, ErrIllegalTransition
	}

	now := time.Now().UTC()
	rec := enrollmentRecord{
		ID:             uuid.New().String(),
		UserID:         userID,
		CourseSlug:     courseSlug,
		Status:         string(status),
		PaymentStatus:  "paid",
		IdempotencyKey: null.StringFrom(idempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO enrollments (id, user_id, course_slug, status, payment_status, idempotency_key, created_at, updated_at)
		VALUES (:id, :user_id, :course_slug, :status, :payment_status, :idempotency_key, :created_at, :updated_at)`,
		rec)
	if err != nil {
		return enroll.StatusNotEnrolled, errors.Wrap(err, "inserting enrollment")
	}
	return status, nil
}

// SetStatus moves an enrollment along its lifecycle, enforcing the monotonic
// transition rules (admin rejection resets to not_enrolled, which deletes).
func (repo *EnrollmentRepository) SetStatus(ctx context.Context, userID, courseSlug string, next enroll.Status) error {
	current, _, err := repo.GetStatus(ctx, userID, courseSlug)
	if err != nil {
		return err
	}
	if !current.CanAdvanceTo(next) {
		return ErrIllegalTransition
	}

	if next == enroll.StatusNotEnrolled {
		_, err = repo.db.ExecContext(ctx,
			`DELETE FROM enrollments WHERE user_id = ? AND course_slug = ?`, userID, courseSlug)
		return errors.Wrap(err, "deleting enrollment")
	}
	_, err = repo.db.ExecContext(ctx,
		`UPDATE enrollments SET status = ?, updated_at = ? WHERE user_id = ? AND course_slug = ?`,
		string(next), time.Now().UTC(), userID, courseSlug)
	return errors.Wrap(err, "updating enrollment")
}
