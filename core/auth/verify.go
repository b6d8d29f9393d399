package auth

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/session"
)

// VerifyState is the verification primitive's state:
// idle -> code_requested -> verified. invalid/expired answers from the backend
// keep the machine in code_requested so the code can be re-entered or resent.
type VerifyState int

const (
	VerifyIdle VerifyState = iota
	VerifyCodeRequested
	VerifyVerified
)

func (s VerifyState) String() string {
	switch s {
	case VerifyIdle:
		return "idle"
	case VerifyCodeRequested:
		return "code_requested"
	case VerifyVerified:
		return "verified"
	}
	return "unknown"
}

var (
	nowFunc = time.Now // mockable

	codeRegex = regexp.MustCompile(`^\d{6}$`)

	ErrCooldown        = errors.New("a code was sent recently, wait before requesting another")
	ErrCallInFlight    = errors.New("a request is already in progress")
	ErrAlreadyVerified = errors.New("challenge already verified")
	ErrNoChallenge     = errors.New("no code has been requested yet")
)

// Verifier exchanges an email and a one-time code for a verified result.
// The right code is unknowable locally, so the only client-side check is
// syntactic (6 digits); the server stays the authority on expiry. A local
// cooldown keeps us from hammering the resend endpoint.
type Verifier struct {
	backend  Backend
	purpose  string
	cooldown time.Duration

	mu       sync.Mutex
	state    VerifyState
	email    string
	lastSent time.Time
	inFlight bool
	lastErr  string
}

func NewVerifier(backend Backend, purpose string, cooldown time.Duration) *Verifier {
	return &Verifier{backend: backend, purpose: purpose, cooldown: cooldown}
}

func (v *Verifier) State() VerifyState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// LastError returns the message to surface for the most recent failure.
func (v *Verifier) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// RequestCode asks the backend to send a code to email. Subsequent calls are
// resends and are subject to the cooldown.
func (v *Verifier) RequestCode(ctx context.Context, email string) error {
	v.mu.Lock()
	if v.inFlight {
		v.mu.Unlock()
		return ErrCallInFlight
	}
	if v.state == VerifyVerified {
		v.mu.Unlock()
		return ErrAlreadyVerified
	}
	if !v.lastSent.IsZero() && nowFunc().Sub(v.lastSent) < v.cooldown {
		v.mu.Unlock()
		return ErrCooldown
	}
	v.inFlight = true
	v.mu.Unlock()

	err := v.backend.RequestCode(ctx, email, v.purpose)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = false
	if err != nil {
		v.lastErr = core.UserMessage(err)
		return errors.Wrap(err, "requesting code")
	}
	v.state = VerifyCodeRequested
	v.email = email
	v.lastSent = nowFunc()
	v.lastErr = ""
	return nil
}

// VerifyCode exchanges the entered code. On success the backend may return
// session tokens, which the caller must persist. A challenge is single-use:
// once verified it cannot be replayed.
func (v *Verifier) VerifyCode(ctx context.Context, code string) (User, session.Tokens, error) {
	v.mu.Lock()
	if v.inFlight {
		v.mu.Unlock()
		return User{}, session.Tokens{}, ErrCallInFlight
	}
	switch v.state {
	case VerifyVerified:
		v.mu.Unlock()
		return User{}, session.Tokens{}, ErrAlreadyVerified
	case VerifyIdle:
		v.mu.Unlock()
		return User{}, session.Tokens{}, ErrNoChallenge
	}
	if !codeRegex.MatchString(code) {
		v.lastErr = "enter the 6-digit code from your email"
		v.mu.Unlock()
		return User{}, session.Tokens{}, core.NewValidationError(nil,
			core.FieldError{Field: "otp_code", Error: "must be a 6-digit code"})
	}
	email := v.email
	v.inFlight = true
	v.mu.Unlock()

	usr, tokens, err := v.backend.VerifyCode(ctx, email, code, v.purpose)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = false
	if err != nil {
		// stay in code_requested: the user may re-enter or resend
		v.lastErr = core.UserMessage(err)
		return User{}, session.Tokens{}, errors.Wrap(err, "verifying code")
	}
	v.state = VerifyVerified
	v.lastErr = ""
	return usr, tokens, nil
}

// ResendAvailableIn reports how long until another code may be requested.
func (v *Verifier) ResendAvailableIn() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lastSent.IsZero() {
		return 0
	}
	remaining := v.cooldown - nowFunc().Sub(v.lastSent)
	if remaining < 0 {
		return 0
	}
	return remaining
}
