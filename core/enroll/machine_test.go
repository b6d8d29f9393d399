package enroll

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/elimuhq/elimu/core"
)

type fakeBackend struct {
	statusCalls int
	status      Status
	statusErr   error

	paymentCalls   int
	paymentErr     error
	paymentResult  PaymentResult
	seenKeys       []string
	paymentStarted chan struct{}
	paymentRelease chan struct{}
}

var _ Backend = (*fakeBackend)(nil)

func (b *fakeBackend) EnrollmentStatus(ctx context.Context, courseSlug string) (Status, error) {
	b.statusCalls++
	return b.status, b.statusErr
}

func (b *fakeBackend) SubmitPayment(ctx context.Context, details PaymentDetails, idempotencyKey string) (PaymentResult, error) {
	b.paymentCalls++
	b.seenKeys = append(b.seenKeys, idempotencyKey)
	if b.paymentStarted != nil {
		b.paymentStarted <- struct{}{}
		<-b.paymentRelease
	}
	if b.paymentErr != nil {
		return PaymentResult{}, b.paymentErr
	}
	return b.paymentResult, nil
}

type fakeGate struct {
	authed bool
}

func (g *fakeGate) IsAuthenticated() bool { return g.authed }

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

func machineSetup(backend *fakeBackend, authed bool) *Machine {
	validate, _ := core.NewValidator()
	return NewMachine(backend, &fakeGate{authed: authed}, validate, nopLogger{}, "intro-to-go")
}

func validPayment() PaymentDetails {
	return PaymentDetails{
		Amount:   49900,
		Currency: "USD",
		Method:   "card",
	}
}

func Test_Machine_anonymousRefreshSkipsBackend(t *testing.T) {
	backend := &fakeBackend{status: StatusActive}
	m := machineSetup(backend, false)

	view := m.Refresh(context.Background())
	assert.Equal(t, ConfirmedView(StatusNotEnrolled), view)
	assert.Zero(t, backend.statusCalls)
}

func Test_Machine_fetchFailureFailsOpen(t *testing.T) {
	backend := &fakeBackend{statusErr: core.NewAPIError(500, "boom")}
	m := machineSetup(backend, true)

	view := m.Refresh(context.Background())
	assert.Equal(t, OptimisticView(StatusNotEnrolled), view)

	// an invalid status the backend should never send is treated the same
	backend.statusErr = nil
	backend.status = Status("wat")
	assert.Equal(t, OptimisticView(StatusNotEnrolled), m.Refresh(context.Background()))
}

func Test_Machine_initiateWithoutSession(t *testing.T) {
	backend := &fakeBackend{}
	m := machineSetup(backend, false)

	err := m.Initiate(context.Background())
	assert.Equal(t, ErrLoginRequired, errors.Cause(err))
	assert.True(t, m.LoginRequired())
	// no network call of any kind was made
	assert.Zero(t, backend.statusCalls)
	assert.Zero(t, backend.paymentCalls)

	// after login, resume re-checks the status
	m.gate.(*fakeGate).authed = true
	backend.status = StatusNotEnrolled
	view := m.ResumeAfterLogin(context.Background())
	assert.False(t, m.LoginRequired())
	assert.Equal(t, ConfirmedView(StatusNotEnrolled), view)
	assert.Equal(t, 1, backend.statusCalls)
}

func Test_Machine_initiateWhenAlreadyEnrolled(t *testing.T) {
	backend := &fakeBackend{status: StatusActive}
	m := machineSetup(backend, true)

	err := m.Initiate(context.Background())
	assert.Equal(t, ErrAlreadyEnrolled, errors.Cause(err))
	assert.Equal(t, ConfirmedView(StatusActive), m.View())
}

func Test_Machine_paymentSetsProvisionalStatus(t *testing.T) {
	backend := &fakeBackend{
		paymentResult: PaymentResult{Reference: "ref1", Status: StatusPaymentVerification},
	}
	m := machineSetup(backend, true)

	res, err := m.SubmitPayment(context.Background(), validPayment())
	assert.NoError(t, err)
	assert.Equal(t, "ref1", res.Reference)

	// payment success never implies active, only a provisional verification view
	assert.Equal(t, OptimisticView(StatusPaymentVerification), m.View())

	// a later confirmed fetch reconciles the provisional view
	backend.status = StatusActive
	assert.Equal(t, ConfirmedView(StatusActive), m.Refresh(context.Background()))
}

func Test_Machine_retryReusesIdempotencyKey(t *testing.T) {
	backend := &fakeBackend{paymentErr: core.NewAPIError(502, "gateway down")}
	m := machineSetup(backend, true)
	ctx := context.Background()

	_, err := m.SubmitPayment(ctx, validPayment())
	assert.Error(t, err)

	backend.paymentErr = nil
	backend.paymentResult = PaymentResult{Reference: "ref1", Status: StatusPaymentVerification}
	_, err = m.SubmitPayment(ctx, validPayment())
	assert.NoError(t, err)

	if assert.Len(t, backend.seenKeys, 2) {
		assert.Equal(t, backend.seenKeys[0], backend.seenKeys[1])
		assert.NotEmpty(t, backend.seenKeys[0])
	}
}

func Test_Machine_doubleSubmitIssuesOneRequest(t *testing.T) {
	backend := &fakeBackend{
		paymentStarted: make(chan struct{}),
		paymentRelease: make(chan struct{}),
		paymentResult:  PaymentResult{Reference: "ref1", Status: StatusPaymentVerification},
	}
	m := machineSetup(backend, true)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.SubmitPayment(ctx, validPayment())
		done <- err
	}()
	<-backend.paymentStarted // first call is now outstanding

	_, err := m.SubmitPayment(ctx, validPayment())
	assert.Equal(t, ErrPaymentInFlight, errors.Cause(err))

	close(backend.paymentRelease)
	assert.NoError(t, <-done)
	assert.Equal(t, 1, backend.paymentCalls)
}

func Test_Machine_invalidPaymentDetails(t *testing.T) {
	backend := &fakeBackend{}
	m := machineSetup(backend, true)

	tests := []struct {
		name string
		edit func(*PaymentDetails)
	}{
		{"zero amount", func(d *PaymentDetails) { d.Amount = 0 }},
		{"bad currency", func(d *PaymentDetails) { d.Currency = "DOLLARS" }},
		{"unknown method", func(d *PaymentDetails) { d.Method = "crypto" }},
		{"mobile money without phone", func(d *PaymentDetails) { d.Method = "mobile_money" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details := validPayment()
			tt.edit(&details)
			_, err := m.SubmitPayment(context.Background(), details)
			assert.Error(t, err)
		})
	}
	assert.Zero(t, backend.paymentCalls)
}
