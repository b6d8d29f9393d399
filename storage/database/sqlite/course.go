package sqliterepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/course"
)

type courseRecord struct {
	ID                      string      `db:"id"`
	Slug                    string      `db:"slug"`
	Title                   string      `db:"title"`
	Description             string      `db:"description"`
	Price                   int64       `db:"price"`
	Currency                string      `db:"currency"`
	EnrollmentCount         int         `db:"enrollment_count"`
	ApprovalStatus          string      `db:"approval_status"`
	RequiresAdminEnrollment bool        `db:"requires_admin_enrollment"`
	OrganizationID          null.String `db:"organization_id"`
	CreatedAt               time.Time   `db:"created_at"`
}

func (r courseRecord) course() course.Course {
	c := course.Course{
		ID:                      r.ID,
		Slug:                    r.Slug,
		Title:                   r.Title,
		Description:             r.Description,
		Price:                   r.Price,
		Currency:                r.Currency,
		EnrollmentCount:         r.EnrollmentCount,
		ApprovalStatus:          r.ApprovalStatus,
		RequiresAdminEnrollment: r.RequiresAdminEnrollment,
		CreatedAt:               r.CreatedAt,
	}
	if r.OrganizationID.Valid {
		c.Organization = &auth.Organization{ID: r.OrganizationID.String}
	}
	return c
}

type CourseRepository struct {
	db *sqlx.DB
}

func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (repo *CourseRepository) Create(ctx context.Context, c course.Course) (course.Course, error) {
	rec := courseRecord{
		ID:                      uuid.New().String(),
		Slug:                    c.Slug,
		Title:                   c.Title,
		Description:             c.Description,
		Price:                   c.Price,
		Currency:                c.Currency,
		ApprovalStatus:          c.ApprovalStatus,
		RequiresAdminEnrollment: c.RequiresAdminEnrollment,
		CreatedAt:               time.Now().UTC(),
	}
	if rec.ApprovalStatus == "" {
		rec.ApprovalStatus = course.ApprovalDraft
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	if c.Organization != nil {
		rec.OrganizationID = null.StringFrom(c.Organization.ID)
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO courses (id, slug, title, description, price, currency, enrollment_count, approval_status, requires_admin_enrollment, organization_id, created_at)
		VALUES (:id, :slug, :title, :description, :price, :currency, 0, :approval_status, :requires_admin_enrollment, :organization_id, :created_at)`,
		rec)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return rec.course(), nil
}

func (repo *CourseRepository) GetBySlug(ctx context.Context, slug string) (course.Course, error) {
	var rec courseRecord
	if err := repo.db.GetContext(ctx, &rec, `SELECT * FROM courses WHERE slug = ?`, slug); err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return rec.course(), nil
}

func (repo *CourseRepository) SetApprovalStatus(ctx context.Context, slug, status string) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE courses SET approval_status = ? WHERE slug = ?`, status, slug)
	if err != nil {
		return errors.Wrap(err, "updating approval status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *CourseRepository) IncrementEnrollmentCount(ctx context.Context, slug string) error {
	_, err := repo.db.ExecContext(ctx,
		`UPDATE courses SET enrollment_count = enrollment_count + 1 WHERE slug = ?`, slug)
	return errors.Wrap(err, "incrementing enrollment count")
}

type OrganizationRepository struct {
	db *sqlx.DB
}

func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (repo *OrganizationRepository) Create(ctx context.Context, org auth.Organization) (auth.Organization, error) {
	org.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, contact_email, website) VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, org.ContactEmail, org.Website)
	if err != nil {
		return auth.Organization{}, errors.Wrap(err, "inserting organization")
	}
	return org, nil
}

func (repo *OrganizationRepository) GetByID(ctx context.Context, id string) (auth.Organization, error) {
	var org auth.Organization
	err := repo.db.QueryRowxContext(ctx,
		`SELECT id, name, contact_email, website FROM organizations WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &org.ContactEmail, &org.Website)
	if err != nil {
		if err == sql.ErrNoRows {
			return auth.Organization{}, errors.New("organization not found")
		}
		return auth.Organization{}, errors.Wrap(err, "finding organization")
	}
	return org, nil
}

func (repo *OrganizationRepository) List(ctx context.Context) ([]auth.Organization, error) {
	rows, err := repo.db.QueryxContext(ctx, `SELECT id, name, contact_email, website FROM organizations ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing organizations")
	}
	defer func() { _ = rows.Close() }()

	orgs := make([]auth.Organization, 0)
	for rows.Next() {
		var org auth.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.ContactEmail, &org.Website); err != nil {
			return nil, errors.Wrap(err, "scanning organization")
		}
		orgs = append(orgs, org)
	}
	return orgs, errors.Wrap(rows.Err(), "listing organizations")
}
