package auth

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/session"
)

// Roles
const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
	RoleAdmin   = "admin"
)

// OTP purposes
const (
	PurposeRegistration  = "registration"
	PurposePasswordReset = "password_reset"
)

// Membership statuses for users joining an existing organization.
const (
	MembershipPending  = "pending"
	MembershipApproved = "approved"
	MembershipRejected = "rejected"
)

var AllRoles = []string{RoleStudent, RoleTutor, RoleAdmin}

// Organization is a Knowledge Partner: a company/university/institute that
// supplies courses and tutors on the platform.
type Organization struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email,omitempty"`
	Website      string `json:"website,omitempty"`
}

type User struct {
	ID               string        `json:"id"`
	FullName         string        `json:"full_name"`
	Email            string        `json:"email"`
	Role             string        `json:"role"`
	IsActive         bool          `json:"is_active"`
	Organization     *Organization `json:"organization,omitempty"`
	MembershipStatus string        `json:"membership_status,omitempty"`
	CreatedAt        time.Time     `json:"created_at"` // UTC
	UpdatedAt        time.Time     `json:"updated_at"` // UTC
}

func (u *User) IsStudent() bool { return u.Role == RoleStudent }
func (u *User) IsTutor() bool   { return u.Role == RoleTutor }
func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }

// NewOrganization is the nested sub-form an admin registrant fills to create
// their Knowledge Partner.
type NewOrganization struct {
	Name         string `json:"name" validate:"required"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	Website      string `json:"website" validate:"required,url"`
}

// Registration is the draft collected by the registration form. It is mutated
// on every field edit and discarded on cancel or successful submission.
type Registration struct {
	FullName        string `json:"full_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"required,role"`

	// OrganizationID joins an existing organization (student/tutor);
	// Organization creates a new one (admin).
	OrganizationID string           `json:"organization_id,omitempty"`
	Organization   *NewOrganization `json:"organization,omitempty"`
}

// JoinsOrganization reports whether the registrant asked to join an existing
// organization, which makes the terminal state pending_approval.
func (r *Registration) JoinsOrganization() bool { return r.OrganizationID != "" }

func (r *Registration) Validate(validate *validator.Validate) error {
	r.FullName = core.CleanString(r.FullName)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.OrganizationID = core.CleanString(r.OrganizationID)
	if r.Organization != nil {
		r.Organization.Name = core.CleanString(r.Organization.Name)
		r.Organization.ContactEmail = core.CleanString(r.Organization.ContactEmail, true /* lower */)
		r.Organization.Website = core.CleanString(r.Organization.Website)
	}
	return validate.Struct(r)
}

// Backend is the slice of the external REST API the auth flows depend on.
type Backend interface {
	RequestCode(ctx context.Context, email, purpose string) error
	VerifyCode(ctx context.Context, email, code, purpose string) (User, session.Tokens, error)
	Register(ctx context.Context, reg Registration) (User, error)
	Login(ctx context.Context, email, password string) (User, session.Tokens, error)
}
