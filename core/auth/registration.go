package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/session"
)

// State is the closed set of registration flow states:
// filling -> verifying_email -> submitting -> success | pending_approval.
type State interface {
	regState()
	Name() string
}

type (
	// Filling collects the draft; leaving it requires local validation to pass.
	Filling struct{}

	// VerifyingEmail delegates to the verification primitive for Email.
	VerifyingEmail struct {
		Email string
	}

	// Submitting pushes the verified draft to the backend; failures keep the
	// machine here pending retry.
	Submitting struct{}

	// Success means the account is usable immediately.
	Success struct {
		User User
	}

	// PendingApproval means the registrant asked to join an organization and
	// awaits an admin's accept/reject decision.
	PendingApproval struct {
		User         User
		Organization Organization
	}
)

func (Filling) regState()         {}
func (VerifyingEmail) regState()  {}
func (Submitting) regState()      {}
func (Success) regState()         {}
func (PendingApproval) regState() {}

func (Filling) Name() string         { return "filling" }
func (VerifyingEmail) Name() string  { return "verifying_email" }
func (Submitting) Name() string      { return "submitting" }
func (Success) Name() string         { return "success" }
func (PendingApproval) Name() string { return "pending_approval" }

func errInvalidTransition(op string, s State) error {
	return errors.Errorf("%s not allowed in state %q", op, s.Name())
}

// Flow orchestrates one registration attempt. It owns the draft and the
// verification challenge; the page-level container owns the Flow.
type Flow struct {
	validate *validator.Validate
	backend  Backend
	gate     *session.Gate
	verifier *Verifier

	mu        sync.Mutex
	state     State
	draft     Registration
	chosenOrg *Organization
	formErr   string
	inFlight  bool
}

func NewFlow(validate *validator.Validate, backend Backend, gate *session.Gate, cooldown time.Duration) *Flow {
	return &Flow{
		validate: validate,
		backend:  backend,
		gate:     gate,
		verifier: NewVerifier(backend, PurposeRegistration, cooldown),
		state:    Filling{},
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) Draft() Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// FormError returns the form-level error from the last failed backend call.
func (f *Flow) FormError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.formErr
}

// SetDraft replaces the draft. Only allowed while filling.
func (f *Flow) SetDraft(reg Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.(Filling); !ok {
		return errInvalidTransition("editing the draft", f.state)
	}
	f.draft = reg
	return nil
}

// ChooseOrganization selects an existing organization to join. The chosen
// organization is remembered so pending_approval can display its name.
func (f *Flow) ChooseOrganization(org Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.(Filling); !ok {
		return errInvalidTransition("choosing an organization", f.state)
	}
	f.draft.OrganizationID = org.ID
	f.chosenOrg = &org
	return nil
}

// BeginVerification validates the draft and requests a code for its email.
// Validation failures are local and recoverable: the machine stays in filling
// and the error carries field-level messages.
func (f *Flow) BeginVerification(ctx context.Context) error {
	f.mu.Lock()
	if _, ok := f.state.(Filling); !ok {
		f.mu.Unlock()
		return errInvalidTransition("starting verification", f.state)
	}
	draft := f.draft
	if err := draft.Validate(f.validate); err != nil {
		f.mu.Unlock()
		return err
	}
	f.draft = draft // keep cleaned values
	f.mu.Unlock()

	if err := f.verifier.RequestCode(ctx, draft.Email); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = VerifyingEmail{Email: draft.Email}
	f.formErr = ""
	return nil
}

// ResendCode re-requests a code, subject to the verifier's cooldown.
func (f *Flow) ResendCode(ctx context.Context) error {
	f.mu.Lock()
	st, ok := f.state.(VerifyingEmail)
	cur := f.state
	f.mu.Unlock()
	if !ok {
		return errInvalidTransition("resending the code", cur)
	}
	return f.verifier.RequestCode(ctx, st.Email)
}

// ConfirmCode verifies the entered code. On success the machine advances to
// submitting and any returned tokens are persisted through the session gate.
// A persist failure does not block the advance: the challenge is already
// consumed server-side and the tokens are an optional side effect, so it is
// recorded as a form error instead.
func (f *Flow) ConfirmCode(ctx context.Context, code string) error {
	f.mu.Lock()
	if _, ok := f.state.(VerifyingEmail); !ok {
		f.mu.Unlock()
		return errInvalidTransition("confirming the code", f.state)
	}
	f.mu.Unlock()

	_, tokens, err := f.verifier.VerifyCode(ctx, code)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Submitting{}
	f.formErr = ""
	if err := f.gate.Persist(tokens); err != nil {
		f.formErr = core.UserMessage(err)
	}
	return nil
}

// Submit creates the account from the verified draft. Backend failures
// (network or validation) keep the machine in submitting for retry; no partial
// account state is assumed to exist client-side.
func (f *Flow) Submit(ctx context.Context) (State, error) {
	f.mu.Lock()
	if _, ok := f.state.(Submitting); !ok {
		st := f.state
		f.mu.Unlock()
		return st, errInvalidTransition("submitting", st)
	}
	if f.inFlight {
		f.mu.Unlock()
		return Submitting{}, ErrCallInFlight
	}
	f.inFlight = true
	draft := f.draft
	f.mu.Unlock()

	usr, err := f.backend.Register(ctx, draft)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if err != nil {
		f.formErr = core.UserMessage(err)
		return f.state, errors.Wrap(err, "submitting registration")
	}
	f.formErr = ""
	if draft.JoinsOrganization() {
		org := Organization{ID: draft.OrganizationID}
		if f.chosenOrg != nil {
			org = *f.chosenOrg
		} else if usr.Organization != nil {
			org = *usr.Organization
		}
		f.state = PendingApproval{User: usr, Organization: org}
	} else {
		f.state = Success{User: usr}
	}
	f.draft = Registration{} // discard the draft
	return f.state, nil
}

// Reset discards the draft and challenge, returning to filling (modal close).
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Filling{}
	f.draft = Registration{}
	f.chosenOrg = nil
	f.formErr = ""
	f.verifier = NewVerifier(f.backend, PurposeRegistration, f.verifier.cooldown)
}

// Verifier exposes the underlying challenge (cooldown timer, last error).
func (f *Flow) Verifier() *Verifier { return f.verifier }
