package sandboxapi

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	sqliterepos "github.com/elimuhq/elimu/storage/database/sqlite"
)

var errInvalidCredentials = "invalid credentials"

type authApi struct {
	srv *server
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *server) {
	api := authApi{srv: srv}

	ag := g.Group("/auth")
	ag.POST("/resend-otp", api.resendOTP)
	ag.POST("/verify-otp", api.verifyOTP)
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
	ag.GET("/me", api.me, jwt)
}

type (
	otpRequest struct {
		Email   string `json:"email" validate:"required,email"`
		Purpose string `json:"purpose" validate:"required,oneof=registration password_reset"`
	}

	verifyOTPRequest struct {
		Email   string `json:"email" validate:"required,email"`
		Code    string `json:"otp_code" validate:"required,len=6,numeric"`
		Purpose string `json:"purpose" validate:"required,oneof=registration password_reset"`
	}

	loginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	authResponse struct {
		User   auth.User   `json:"user"`
		Tokens interface{} `json:"tokens,omitempty"`
	}
)

// Handlers

func (api *authApi) resendOTP(ctx echo.Context) error {
	var data otpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to otpRequest")
	}
	data.Email = core.CleanString(data.Email, true /* lower */)
	if err := api.srv.validate.Struct(&data); err != nil {
		return err
	}

	code, err := sqliterepos.GenerateCode()
	if err != nil {
		return err
	}
	conf := api.srv.opts.Conf
	expiresAt := nowUTC().Add(conf.OTP.Expiry)
	if err := api.srv.opts.OTPs.Issue(ctx.Request().Context(), data.Email, data.Purpose, code, expiresAt); err != nil {
		return err
	}

	api.srv.opts.MailSvc.SendMessages(&core.EmailMessage{
		To:          []mail.Address{{Address: data.Email}},
		Subject:     fmt.Sprintf("%s verification code", conf.AppName),
		TextContent: fmt.Sprintf("Your verification code is %s. It expires in %s.", code, conf.OTP.Expiry),
	})

	return ctx.JSON(http.StatusOK, echo.Map{"message": "verification code sent"})
}

func (api *authApi) verifyOTP(ctx echo.Context) error {
	var data verifyOTPRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to verifyOTPRequest")
	}
	data.Email = core.CleanString(data.Email, true /* lower */)
	if err := api.srv.validate.Struct(&data); err != nil {
		return err
	}

	conf := api.srv.opts.Conf
	err := api.srv.opts.OTPs.Consume(ctx.Request().Context(), data.Email, data.Purpose, data.Code, conf.OTP.MaxAttempts)
	switch errors.Cause(err) {
	case nil:
	case sqliterepos.ErrOTPNotFound, sqliterepos.ErrOTPInvalid, sqliterepos.ErrOTPExpired, sqliterepos.ErrOTPTooManyAttempts:
		return core.NewValidationError(nil, core.FieldError{Field: "otp_code", Error: err.Error()})
	default:
		return errors.Wrap(err, "consuming otp")
	}

	resp := authResponse{}
	usr, _, err := api.srv.opts.Users.GetByEmail(ctx.Request().Context(), data.Email)
	if err == nil {
		resp.User = usr
		tokens, err := generateTokens(conf, usr)
		if err != nil {
			return err
		}
		resp.Tokens = tokens
	} else if errors.Cause(err) != sqliterepos.ErrUserNotFound {
		// registration verifies before the account exists; anything else is fatal
		return errors.Wrap(err, "finding user by email")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *authApi) register(ctx echo.Context) error {
	var data auth.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	if err := data.Validate(api.srv.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	verified, err := api.srv.opts.OTPs.WasVerified(rctx, data.Email, auth.PurposeRegistration)
	if err != nil {
		return err
	}
	if !verified {
		return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "email has not been verified"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(data.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hashing password")
	}

	usr := auth.User{
		FullName: data.FullName,
		Email:    data.Email,
		Role:     data.Role,
	}
	switch {
	case data.JoinsOrganization():
		org, err := api.srv.opts.Orgs.GetByID(rctx, data.OrganizationID)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "organization_id", Error: "unknown organization"})
		}
		usr.Organization = &org
		usr.MembershipStatus = auth.MembershipPending
	case data.Organization != nil:
		org, err := api.srv.opts.Orgs.Create(rctx, auth.Organization{
			Name:         data.Organization.Name,
			ContactEmail: data.Organization.ContactEmail,
			Website:      data.Organization.Website,
		})
		if err != nil {
			return errors.Wrap(err, "creating organization")
		}
		usr.Organization = &org
		usr.MembershipStatus = auth.MembershipApproved
	}

	usr, err = api.srv.opts.Users.Create(rctx, usr, hash)
	if err != nil {
		if errors.Cause(err) == sqliterepos.ErrEmailExists {
			return core.NewValidationError(nil, core.FieldError{Field: "email", Error: err.Error()})
		}
		return errors.Wrap(err, "creating user")
	}
	if data.JoinsOrganization() && usr.Organization != nil {
		// hydrate the org name for the join confirmation screen
		if org, err := api.srv.opts.Orgs.GetByID(rctx, usr.Organization.ID); err == nil {
			usr.Organization = &org
		}
	}

	return ctx.JSON(http.StatusCreated, authResponse{User: usr})
}

func (api *authApi) login(ctx echo.Context) error {
	var data loginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to loginRequest")
	}
	data.Email = core.CleanString(data.Email, true /* lower */)
	if err := api.srv.validate.Struct(&data); err != nil {
		return err
	}

	usr, hash, err := api.srv.opts.Users.GetByEmail(ctx.Request().Context(), data.Email)
	if err != nil {
		if errors.Cause(err) == sqliterepos.ErrUserNotFound {
			return core.NewValidationError(errors.New(errInvalidCredentials))
		}
		return errors.Wrap(err, "finding user by email")
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(data.Password)) != nil {
		return core.NewValidationError(errors.New(errInvalidCredentials))
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}

	tokens, err := generateTokens(api.srv.opts.Conf, usr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, authResponse{User: usr, Tokens: tokens})
}

func (api *authApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}
