package sandboxapi

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/session"
	sqliterepos "github.com/elimuhq/elimu/storage/database/sqlite"
)

const contextUserKey = "user"

func nowUTC() time.Time { return time.Now().UTC() }

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

func getUserClaims(conf *core.Config, usr auth.User, refresh bool) *Claims {
	now := time.Now()
	delta := conf.Server.JWTExpirationDelta
	if refresh {
		delta += conf.Server.JWTRefreshExpirationDelta
	}
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(delta)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:   usr.Email,
		Role:    usr.Role,
		Refresh: refresh,
	}
}

// generateTokens signs the access/refresh pair for usr.
func generateTokens(conf *core.Config, usr auth.User) (session.Tokens, error) {
	sign := func(claims *Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		ss, err := token.SignedString(conf.SecretKey)
		return ss, errors.Wrap(err, "signing token")
	}

	access, err := sign(getUserClaims(conf, usr, false))
	if err != nil {
		return session.Tokens{}, err
	}
	refresh, err := sign(getUserClaims(conf, usr, true))
	if err != nil {
		return session.Tokens{}, err
	}
	return session.Tokens{Access: access, Refresh: refresh}, nil
}

func parseToken(conf *core.Config, tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return conf.SecretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, errUnauthorized
	}
	return claims, nil
}

// jwtMiddleware authenticates requests from the Authorization bearer header
// and stores the user in the echo context.
func jwtMiddleware(conf *core.Config, users *sqliterepos.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			header := ctx.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return errMissingToken
			}
			claims, err := parseToken(conf, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return err
			}
			if claims.Refresh {
				// refresh tokens are for the token-refresh exchange only
				return errUnauthorized
			}
			usr, err := users.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == sqliterepos.ErrUserNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

func getContextUser(ctx echo.Context) (auth.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(auth.User); ok {
		return usr, nil
	}
	return auth.User{}, errUnauthorized
}
