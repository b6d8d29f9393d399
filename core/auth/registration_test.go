package auth

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/session"
)

// memStore is a minimal in-memory session.Store.
type memStore struct {
	tokens session.Tokens
}

func (s *memStore) Load() (session.Tokens, error) { return s.tokens, nil }
func (s *memStore) Save(t session.Tokens) error   { s.tokens = t; return nil }
func (s *memStore) Clear() error                  { s.tokens = session.Tokens{}; return nil }

// failStore rejects every write.
type failStore struct{ memStore }

func (s *failStore) Save(session.Tokens) error { return errors.New("disk full") }

func flowSetup(t *testing.T, backend Backend) (*Flow, *memStore) {
	t.Helper()
	validate, translator := core.NewValidator()
	RegisterValidators(validate, translator)

	store := &memStore{}
	gate := session.NewGate(store, func(ctx context.Context, email, password string) (session.Tokens, error) {
		return session.Tokens{}, errors.New("not used")
	})
	return NewFlow(validate, backend, gate, time.Second), store
}

func validDraft() Registration {
	return Registration{
		FullName:        "Jane Doe",
		Email:           "a@b.com",
		Password:        "S3cret!pass",
		PasswordConfirm: "S3cret!pass",
		Role:            RoleStudent,
	}
}

func Test_Flow_invalidDraftStaysFilling(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	flow, _ := flowSetup(t, backend)

	tests := []struct {
		name  string
		edit  func(*Registration)
		field string
	}{
		{"missing name", func(r *Registration) { r.FullName = "" }, "full_name"},
		{"missing email", func(r *Registration) { r.Email = "" }, "email"},
		{"bad email", func(r *Registration) { r.Email = "nope" }, "email"},
		{"password mismatch", func(r *Registration) { r.PasswordConfirm = "Different1!" }, "password_confirm"},
		{"bad role", func(r *Registration) { r.Role = "superuser" }, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := validDraft()
			tt.edit(&reg)
			assert.NoError(t, flow.SetDraft(reg))

			err := flow.BeginVerification(ctx)
			vErrs, ok := errors.Cause(err).(validator.ValidationErrors)
			if assert.True(t, ok, "want ValidationErrors, got %v", err) {
				fields := make([]string, 0, len(vErrs))
				for _, vErr := range vErrs {
					fields = append(fields, vErr.Field())
				}
				assert.Contains(t, fields, tt.field)
			}
			assert.Equal(t, "filling", flow.State().Name())
			assert.Zero(t, backend.requestCodeCalls)
		})
	}
}

func Test_Flow_studentHappyPath(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		verifyTokens: session.Tokens{Access: "acc", Refresh: "ref"},
	}
	flow, store := flowSetup(t, backend)

	assert.NoError(t, flow.SetDraft(validDraft()))
	assert.NoError(t, flow.BeginVerification(ctx))
	st, ok := flow.State().(VerifyingEmail)
	if assert.True(t, ok) {
		assert.Equal(t, "a@b.com", st.Email)
	}

	// draft edits are rejected mid-verification
	assert.Error(t, flow.SetDraft(validDraft()))

	assert.NoError(t, flow.ConfirmCode(ctx, "123456"))
	assert.IsType(t, Submitting{}, flow.State())
	// tokens returned by verification were persisted
	assert.Equal(t, "acc", store.tokens.Access)

	state, err := flow.Submit(ctx)
	assert.NoError(t, err)
	success, ok := state.(Success)
	if assert.True(t, ok) {
		assert.Equal(t, "a@b.com", success.User.Email)
	}
	// the draft is discarded after success
	assert.Empty(t, flow.Draft().Email)
}

func Test_Flow_joinOrganizationPendsApproval(t *testing.T) {
	ctx := context.Background()
	org := Organization{ID: "org1", Name: "Acme Institute"}
	backend := &fakeBackend{
		registerUser: User{
			ID: "u2", FullName: "Jane Doe", Email: "a@b.com", Role: RoleTutor,
			MembershipStatus: MembershipPending,
		},
	}
	flow, _ := flowSetup(t, backend)

	reg := validDraft()
	reg.Role = RoleTutor
	assert.NoError(t, flow.SetDraft(reg))
	assert.NoError(t, flow.ChooseOrganization(org))

	assert.NoError(t, flow.BeginVerification(ctx))
	assert.NoError(t, flow.ConfirmCode(ctx, "123456"))

	state, err := flow.Submit(ctx)
	assert.NoError(t, err)
	pending, ok := state.(PendingApproval)
	if assert.True(t, ok) {
		assert.Equal(t, "Acme Institute", pending.Organization.Name)
		assert.Equal(t, MembershipPending, pending.User.MembershipStatus)
	}
}

func Test_Flow_submitFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		registerErr: core.NewAPIError(400, "a user with this email already exists"),
	}
	flow, _ := flowSetup(t, backend)

	assert.NoError(t, flow.SetDraft(validDraft()))
	assert.NoError(t, flow.BeginVerification(ctx))
	assert.NoError(t, flow.ConfirmCode(ctx, "123456"))

	_, err := flow.Submit(ctx)
	assert.Error(t, err)
	assert.IsType(t, Submitting{}, flow.State())
	assert.Equal(t, "a user with this email already exists", flow.FormError())

	// retry succeeds without redoing verification
	backend.registerErr = nil
	state, err := flow.Submit(ctx)
	assert.NoError(t, err)
	assert.IsType(t, Success{}, state)
	assert.Empty(t, flow.FormError())
	assert.Equal(t, 2, backend.registerCalls)
}

func Test_Flow_persistFailureDoesNotStrandVerification(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		verifyTokens: session.Tokens{Access: "acc", Refresh: "ref"},
	}
	validate, translator := core.NewValidator()
	RegisterValidators(validate, translator)

	store := &failStore{}
	gate := session.NewGate(store, func(ctx context.Context, email, password string) (session.Tokens, error) {
		return session.Tokens{}, errors.New("not used")
	})
	flow := NewFlow(validate, backend, gate, time.Second)

	assert.NoError(t, flow.SetDraft(validDraft()))
	assert.NoError(t, flow.BeginVerification(ctx))

	// the code is accepted even though the session store is broken; the
	// challenge is single-use, so the machine must not stay in verifying_email
	assert.NoError(t, flow.ConfirmCode(ctx, "123456"))
	assert.IsType(t, Submitting{}, flow.State())
	assert.NotEmpty(t, flow.FormError())

	// submission proceeds without a fresh challenge
	state, err := flow.Submit(ctx)
	assert.NoError(t, err)
	assert.IsType(t, Success{}, state)
	assert.Equal(t, 1, backend.verifyCodeCalls)
}

func Test_Flow_resetDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	flow, _ := flowSetup(t, backend)

	assert.NoError(t, flow.SetDraft(validDraft()))
	assert.NoError(t, flow.BeginVerification(ctx))

	flow.Reset()
	assert.Equal(t, "filling", flow.State().Name())
	assert.Empty(t, flow.Draft().Email)
	assert.Equal(t, VerifyIdle, flow.Verifier().State())

	// a fresh attempt starts over
	assert.NoError(t, flow.SetDraft(validDraft()))
	assert.NoError(t, flow.BeginVerification(ctx))
	assert.Equal(t, 2, backend.requestCodeCalls)
}
