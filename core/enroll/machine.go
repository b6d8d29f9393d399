package enroll

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
)

var (
	ErrLoginRequired   = errors.New("login required")
	ErrPaymentInFlight = errors.New("a payment is already being submitted")
	ErrAlreadyEnrolled = errors.New("already enrolled in this course")
)

// AuthGate is the slice of the session gate the machine needs.
type AuthGate interface {
	IsAuthenticated() bool
}

// Machine tracks one course's enrollment for the duration of a page view.
// The status cache is scoped to this instance and never advances locally
// without backend confirmation: SubmitPayment only sets a provisional
// payment_verification view, and Refresh reconciles it.
type Machine struct {
	backend  Backend
	gate     AuthGate
	validate *validator.Validate
	logger   core.Logger

	courseSlug string

	mu            sync.Mutex
	view          StatusView
	loginRequired bool
	inFlight      bool
	paymentKey    string
}

func NewMachine(backend Backend, gate AuthGate, validate *validator.Validate, logger core.Logger, courseSlug string) *Machine {
	return &Machine{
		backend:    backend,
		gate:       gate,
		validate:   validate,
		logger:     logger,
		courseSlug: courseSlug,
		view:       ConfirmedView(StatusNotEnrolled),
	}
}

func (m *Machine) View() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// LoginRequired reports whether a login prompt should be shown.
func (m *Machine) LoginRequired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginRequired
}

// Refresh fetches the authoritative status. Any error (403/404/network) fails
// open to not_enrolled: absence of enrollment is the safe default, so the
// error is logged, never propagated.
func (m *Machine) Refresh(ctx context.Context) StatusView {
	if !m.gate.IsAuthenticated() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.view = ConfirmedView(StatusNotEnrolled)
		return m.view
	}

	status, err := m.backend.EnrollmentStatus(ctx, m.courseSlug)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil || !status.Valid() {
		if err != nil {
			m.logger.Warn("enrollment status fetch failed, assuming not_enrolled", err)
		}
		m.view = OptimisticView(StatusNotEnrolled)
		return m.view
	}
	m.view = ConfirmedView(status)
	if status != StatusNotEnrolled {
		m.paymentKey = "" // settled; next payment is a new attempt
	}
	return m.view
}

// Initiate is the "Enroll Now" action. Without a session it surfaces the login
// prompt and issues no backend call; with one it re-checks the status and
// reports whether proceeding to payment makes sense.
func (m *Machine) Initiate(ctx context.Context) error {
	if !m.gate.IsAuthenticated() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.loginRequired = true
		return ErrLoginRequired
	}
	view := m.Refresh(ctx)
	if view.Status != StatusNotEnrolled {
		return ErrAlreadyEnrolled
	}
	return nil
}

// ResumeAfterLogin clears the login prompt and re-checks the status before
// any decision to proceed to payment.
func (m *Machine) ResumeAfterLogin(ctx context.Context) StatusView {
	m.mu.Lock()
	m.loginRequired = false
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// SubmitPayment submits the payment form. The triggering control must stay
// disabled while a call is outstanding; a concurrent call returns
// ErrPaymentInFlight so a double click cannot issue two payment requests.
// On success the view becomes a provisional payment_verification; approval
// may be admin-gated, so active is never inferred from payment success.
func (m *Machine) SubmitPayment(ctx context.Context, details PaymentDetails) (PaymentResult, error) {
	if !m.gate.IsAuthenticated() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.loginRequired = true
		return PaymentResult{}, ErrLoginRequired
	}

	details.CourseSlug = m.courseSlug
	if err := m.validate.Struct(details); err != nil {
		return PaymentResult{}, err
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return PaymentResult{}, ErrPaymentInFlight
	}
	m.inFlight = true
	// one key per payment attempt, reused on retry of the same attempt
	if m.paymentKey == "" {
		m.paymentKey = uuid.New().String()
	}
	key := m.paymentKey
	m.mu.Unlock()

	res, err := m.backend.SubmitPayment(ctx, details, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	if err != nil {
		return PaymentResult{}, errors.Wrap(err, "submitting payment")
	}
	m.view = OptimisticView(StatusPaymentVerification)
	return res, nil
}
