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
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("a user with this email already exists")
)

type userRecord struct {
	ID               string      `db:"id"`
	FullName         string      `db:"full_name"`
	Email            string      `db:"email"`
	Role             string      `db:"role"`
	PasswordHash     []byte      `db:"password_hash"`
	IsActive         bool        `db:"is_active"`
	OrganizationID   null.String `db:"organization_id"`
	MembershipStatus null.String `db:"membership_status"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r userRecord) user() auth.User {
	usr := auth.User{
		ID:               r.ID,
		FullName:         r.FullName,
		Email:            r.Email,
		Role:             r.Role,
		IsActive:         r.IsActive,
		MembershipStatus: r.MembershipStatus.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.OrganizationID.Valid {
		usr.Organization = &auth.Organization{ID: r.OrganizationID.String}
	}
	return usr
}

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (repo *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE email = ?)`, email)
	return exists, errors.Wrap(err, "checking email uniqueness")
}

func (repo *UserRepository) Create(ctx context.Context, usr auth.User, passwordHash []byte) (auth.User, error) {
	if exists, err := repo.EmailExists(ctx, usr.Email); err != nil {
		return auth.User{}, err
	} else if exists {
		return auth.User{}, ErrEmailExists
	}

	now := time.Now().UTC()
	rec := userRecord{
		ID:           uuid.New().String(),
		FullName:     usr.FullName,
		Email:        usr.Email,
		Role:         usr.Role,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if usr.Organization != nil {
		rec.OrganizationID = null.StringFrom(usr.Organization.ID)
	}
	rec.MembershipStatus = null.NewString(usr.MembershipStatus, usr.MembershipStatus != "")

	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO users (id, full_name, email, role, password_hash, is_active, organization_id, membership_status, created_at, updated_at)
		VALUES (:id, :full_name, :email, :role, :password_hash, :is_active, :organization_id, :membership_status, :created_at, :updated_at)`,
		rec)
	if err != nil {
		return auth.User{}, errors.Wrap(err, "inserting user")
	}
	return rec.user(), nil
}

func (repo *UserRepository) GetByEmail(ctx context.Context, email string) (auth.User, []byte, error) {
	var rec userRecord
	if err := repo.db.GetContext(ctx, &rec, `SELECT * FROM users WHERE email = ?`, email); err != nil {
		if err == sql.ErrNoRows {
			return auth.User{}, nil, ErrUserNotFound
		}
		return auth.User{}, nil, errors.Wrap(err, "finding user by email")
	}
	return rec.user(), rec.PasswordHash, nil
}

func (repo *UserRepository) GetByID(ctx context.Context, id string) (auth.User, error) {
	var rec userRecord
	if err := repo.db.GetContext(ctx, &rec, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return auth.User{}, ErrUserNotFound
		}
		return auth.User{}, errors.Wrap(err, "finding user by ID")
	}
	return rec.user(), nil
}

// SetMembershipStatus records an admin's accept/reject decision on a join request.
func (repo *UserRepository) SetMembershipStatus(ctx context.Context, userID, status string) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE users SET membership_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), userID)
	if err != nil {
		return errors.Wrap(err, "updating membership status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
