package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/course"
	"github.com/elimuhq/elimu/core/enroll"
	"github.com/elimuhq/elimu/core/session"
)

// Client implements the auth, enrollment and catalog backend ports over the
// REST API at the configured base URL.
type Client struct {
	base   string
	http   *http.Client
	store  session.Store
	logger core.Logger
}

// interface compliance checks
var (
	_ auth.Backend   = (*Client)(nil)
	_ enroll.Backend = (*Client)(nil)
	_ course.Backend = (*Client)(nil)
)

func NewClient(conf *core.Config, store session.Store, logger core.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(conf.API.BaseURL, "/"),
		http:   &http.Client{Timeout: conf.API.Timeout},
		store:  store,
		logger: logger,
	}
}

// apiMessage is the error body shape the backend uses; fields are tried in
// order and the first non-empty one is surfaced.
type apiMessage struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Err     string `json:"error"`
}

func (m apiMessage) text() string {
	for _, s := range []string{m.Message, m.Detail, m.Err} {
		if s != "" {
			return s
		}
	}
	return ""
}

type request struct {
	method string
	path   string
	query  url.Values
	body   interface{}
	out    interface{}
	authed bool
	header http.Header
}

func (c *Client) do(ctx context.Context, req request) error {
	var body bytes.Buffer
	if req.body != nil {
		if err := json.NewEncoder(&body).Encode(req.body); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	u := c.base + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, &body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.authed {
		if tokens, err := c.store.Load(); err == nil && !tokens.IsZero() {
			httpReq.Header.Set("Authorization", "Bearer "+tokens.Access)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "calling api")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var msg apiMessage
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		text := msg.text()
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return core.NewAPIError(resp.StatusCode, text)
	}

	if req.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
			return errors.Wrap(err, "decoding response body")
		}
	}
	return nil
}

// auth endpoints

type authResponse struct {
	User   auth.User      `json:"user"`
	Tokens session.Tokens `json:"tokens"`
}

func (c *Client) RequestCode(ctx context.Context, email, purpose string) error {
	body := map[string]string{"email": email, "purpose": purpose}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/resend-otp/", body: body})
}

func (c *Client) VerifyCode(ctx context.Context, email, code, purpose string) (auth.User, session.Tokens, error) {
	body := map[string]string{"email": email, "otp_code": code, "purpose": purpose}
	var out authResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/verify-otp/", body: body, out: &out}); err != nil {
		return auth.User{}, session.Tokens{}, err
	}
	return out.User, out.Tokens, nil
}

func (c *Client) Register(ctx context.Context, reg auth.Registration) (auth.User, error) {
	var out authResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/register/", body: reg, out: &out}); err != nil {
		return auth.User{}, err
	}
	return out.User, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.User, session.Tokens, error) {
	body := map[string]string{"email": email, "password": password}
	var out authResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login/", body: body, out: &out}); err != nil {
		return auth.User{}, session.Tokens{}, err
	}
	return out.User, out.Tokens, nil
}

// GateLogin adapts Login for the session gate.
func (c *Client) GateLogin() session.LoginFunc {
	return func(ctx context.Context, email, password string) (session.Tokens, error) {
		_, tokens, err := c.Login(ctx, email, password)
		return tokens, err
	}
}

// catalog endpoints

func (c *Client) Course(ctx context.Context, slug string) (course.Course, error) {
	var out course.Course
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/courses/" + url.PathEscape(slug), out: &out}); err != nil {
		if apiErr, ok := core.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, err
	}
	return out, nil
}

func (c *Client) Organizations(ctx context.Context) ([]auth.Organization, error) {
	var out []auth.Organization
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/organizations/", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitForApproval(ctx context.Context, slug string) error {
	path := "/api/courses/instructor/courses/" + url.PathEscape(slug) + "/submit-approval/"
	return c.do(ctx, request{method: http.MethodPost, path: path, authed: true})
}

// enrollment endpoints

func (c *Client) EnrollmentStatus(ctx context.Context, courseSlug string) (enroll.Status, error) {
	q := make(url.Values)
	q.Set("course", courseSlug)
	var out struct {
		Status        string `json:"status"`
		PaymentStatus string `json:"payment_status"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/payments/enrollment-status", query: q, out: &out, authed: true})
	if err != nil {
		return enroll.StatusNotEnrolled, err
	}
	return enroll.Status(out.Status), nil
}

func (c *Client) SubmitPayment(ctx context.Context, details enroll.PaymentDetails, idempotencyKey string) (enroll.PaymentResult, error) {
	header := make(http.Header)
	header.Set("Idempotency-Key", idempotencyKey)
	var out enroll.PaymentResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/payments/initiate/",
		body:   details,
		out:    &out,
		authed: true,
		header: header,
	})
	if err != nil {
		return enroll.PaymentResult{}, err
	}
	return out, nil
}
