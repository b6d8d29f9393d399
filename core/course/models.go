package course

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
)

var ErrNotFound = errors.New("course not found")

// Approval statuses for instructor-authored courses.
const (
	ApprovalDraft     = "draft"
	ApprovalPending   = "pending_approval"
	ApprovalPublished = "published"
)

type Course struct {
	ID              string             `json:"id"`
	Slug            string             `json:"slug"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Price           int64              `json:"price"` // minor units
	Currency        string             `json:"currency"`
	EnrollmentCount int                `json:"enrollment_count"`
	ApprovalStatus  string             `json:"approval_status"`
	Organization    *auth.Organization `json:"organization,omitempty"`
	CreatedAt       time.Time          `json:"created_at"` // UTC

	// RequiresAdminEnrollment marks courses whose enrollment needs an admin's
	// approval even after payment: payment_verification is then a legitimate
	// resting state.
	RequiresAdminEnrollment bool `json:"requires_admin_enrollment"`
}

func (c *Course) IsFree() bool { return c.Price == 0 }

// Backend is the catalog/instructor slice of the external REST API.
type Backend interface {
	Course(ctx context.Context, slug string) (Course, error)
	Organizations(ctx context.Context) ([]auth.Organization, error)
	SubmitForApproval(ctx context.Context, slug string) error
}

type Service struct {
	backend Backend
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (svc *Service) Get(ctx context.Context, slug string) (Course, error) {
	return svc.backend.Course(ctx, core.CleanString(slug, true /* lower */))
}

// Organizations lists the Knowledge Partners available for the registration
// organization picker.
func (svc *Service) Organizations(ctx context.Context) ([]auth.Organization, error) {
	return svc.backend.Organizations(ctx)
}

// SubmitForApproval queues an instructor's course for admin review.
func (svc *Service) SubmitForApproval(ctx context.Context, slug string) error {
	return errors.Wrap(svc.backend.SubmitForApproval(ctx, core.CleanString(slug, true /* lower */)), "submitting for approval")
}
