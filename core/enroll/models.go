package enroll

import "context"

// Status is a learner's relationship to a course, as owned by the backend.
type Status string

const (
	StatusNotEnrolled         Status = "not_enrolled"
	StatusPending             Status = "pending"
	StatusPaymentVerification Status = "payment_verification"
	StatusActive              Status = "active"
	StatusCompleted           Status = "completed"
)

var statusRank = map[Status]int{
	StatusNotEnrolled:         0,
	StatusPending:             1,
	StatusPaymentVerification: 1,
	StatusActive:              2,
	StatusCompleted:           3,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether next is a legal transition from s. Transitions
// are monotonic along not_enrolled -> pending/payment_verification -> active
// -> completed, except for explicit admin rejection, modeled as a reset to
// not_enrolled.
func (s Status) CanAdvanceTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == StatusNotEnrolled {
		return true // admin rejection resets
	}
	return statusRank[next] >= statusRank[s]
}

// Kind tags a StatusView as trusted or provisional.
type Kind int

const (
	// Confirmed means the value came from the backend.
	Confirmed Kind = iota
	// Optimistic means the client set the value ahead of confirmation (e.g.
	// right after a payment callback) and it must be reconciled against a
	// subsequent fetch.
	Optimistic
)

func (k Kind) String() string {
	if k == Optimistic {
		return "optimistic"
	}
	return "confirmed"
}

// StatusView is the status as the UI should display it, tagged so callers can
// distinguish trusted from provisional values.
type StatusView struct {
	Kind   Kind
	Status Status
}

func ConfirmedView(s Status) StatusView  { return StatusView{Kind: Confirmed, Status: s} }
func OptimisticView(s Status) StatusView { return StatusView{Kind: Optimistic, Status: s} }

// PaymentDetails is what the payment form collects.
type PaymentDetails struct {
	CourseSlug  string `json:"course" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"` // minor units
	Currency    string `json:"currency" validate:"required,len=3"`
	Method      string `json:"method" validate:"required,oneof=card mobile_money"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"required_if=Method mobile_money"`
}

type PaymentResult struct {
	Reference     string `json:"reference"`
	Status        Status `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// Backend is the slice of the external REST API the enrollment flow uses.
type Backend interface {
	// EnrollmentStatus is read-only; callers fail open to not_enrolled.
	EnrollmentStatus(ctx context.Context, courseSlug string) (Status, error)
	// SubmitPayment carries an idempotency key so a retried call cannot
	// create a duplicate payment.
	SubmitPayment(ctx context.Context, details PaymentDetails, idempotencyKey string) (PaymentResult, error)
}
