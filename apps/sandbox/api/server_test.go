package sandboxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/course"
	"github.com/elimuhq/elimu/core/enroll"
	"github.com/elimuhq/elimu/core/session"
	emailsvc "github.com/elimuhq/elimu/services/email"
	logsvc "github.com/elimuhq/elimu/services/logger"
	"github.com/elimuhq/elimu/storage/database"
	sqliterepos "github.com/elimuhq/elimu/storage/database/sqlite"
)

var codeRegex = regexp.MustCompile(`\d{6}`)

type testServer struct {
	Server
	conf    *core.Config
	users   *sqliterepos.UserRepository
	otps    *sqliterepos.OTPRepository
	orgs    *sqliterepos.OrganizationRepository
	courses *sqliterepos.CourseRepository
}

func serverSetup(t *testing.T) *testServer {
	t.Helper()
	emailsvc.ClearSentMessages()

	conf := core.NewTestConfig()
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("serverSetup() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("serverSetup() failed: %v", err)
	}

	ts := &testServer{
		conf:    conf,
		users:   sqliterepos.NewUserRepository(db),
		otps:    sqliterepos.NewOTPRepository(db),
		orgs:    sqliterepos.NewOrganizationRepository(db),
		courses: sqliterepos.NewCourseRepository(db),
	}
	ts.Server = NewServer(&Options{
		Conf:           conf,
		Logger:         logsvc.NewStdLogger("TEST"),
		MailSvc:        emailsvc.NewConsoleServiceMock(conf),
		Users:          ts.users,
		OTPs:           ts.otps,
		Orgs:           ts.orgs,
		Courses:        ts.courses,
		Enrollments:    sqliterepos.NewEnrollmentRepository(db),
		DisableReqLogs: true,
	})
	return ts
}

func (ts *testServer) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("request() failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

// verifyEmail runs the resend-otp + verify-otp exchange and returns the code
// that was mailed out.
func (ts *testServer) verifyEmail(t *testing.T, email string) string {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/api/auth/resend-otp", "", echo.Map{
		"email": email, "purpose": auth.PurposeRegistration,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	msg, ok := emailsvc.LastSentMessage()
	if !assert.True(t, ok, "no email was sent") {
		t.FailNow()
	}
	code := codeRegex.FindString(msg.TextContent)
	assert.NotEmpty(t, code)

	rec = ts.request(t, http.MethodPost, "/api/auth/verify-otp", "", echo.Map{
		"email": email, "otp_code": code, "purpose": auth.PurposeRegistration,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	return code
}

func validRegistration(email string) echo.Map {
	return echo.Map{
		"full_name":        "Jane Doe",
		"email":            email,
		"password":         "S3cret!pass",
		"password_confirm": "S3cret!pass",
		"role":             auth.RoleStudent,
	}
}

func Test_registrationEndToEnd(t *testing.T) {
	ts := serverSetup(t)

	// registering without a verified email is refused
	rec := ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration("a@b.com"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email has not been verified")

	ts.verifyEmail(t, "a@b.com")

	rec = ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration("a@b.com"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		User auth.User `json:"user"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a@b.com", resp.User.Email)
	assert.True(t, resp.User.IsActive)

	// duplicate registration is a field error
	rec = ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration("a@b.com"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")

	// and the account can log in
	rec = ts.request(t, http.MethodPost, "/api/auth/login", "", echo.Map{
		"email": "a@b.com", "password": "S3cret!pass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var loginResp struct {
		User   auth.User      `json:"user"`
		Tokens session.Tokens `json:"tokens"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	assert.NotEmpty(t, loginResp.Tokens.Access)
	assert.NotEmpty(t, loginResp.Tokens.Refresh)
}

func Test_verifyOTP_wrongCode(t *testing.T) {
	ts := serverSetup(t)

	rec := ts.request(t, http.MethodPost, "/api/auth/resend-otp", "", echo.Map{
		"email": "a@b.com", "purpose": auth.PurposeRegistration,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/auth/verify-otp", "", echo.Map{
		"email": "a@b.com", "otp_code": "000000", "purpose": auth.PurposeRegistration,
	})
	// the success path mails a real random code; 000000 colliding would be a
	// one-in-a-million flake, accept it by re-checking the body
	if rec.Code != http.StatusOK {
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "otp_code")
	}
}

func Test_login_badCredentials(t *testing.T) {
	ts := serverSetup(t)
	ts.verifyEmail(t, "a@b.com")
	rec := ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration("a@b.com"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	for _, body := range []echo.Map{
		{"email": "a@b.com", "password": "wrong"},
		{"email": "nobody@b.com", "password": "S3cret!pass"},
	} {
		rec := ts.request(t, http.MethodPost, "/api/auth/login", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid credentials")
	}
}

func Test_refreshTokenCannotAccessAPI(t *testing.T) {
	ts := serverSetup(t)
	ts.verifyEmail(t, "a@b.com")
	rec := ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration("a@b.com"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/auth/login", "", echo.Map{
		"email": "a@b.com", "password": "S3cret!pass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tokens session.Tokens `json:"tokens"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// the access token authenticates
	rec = ts.request(t, http.MethodGet, "/api/auth/me", resp.Tokens.Access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the refresh token does not, even though it is validly signed
	rec = ts.request(t, http.MethodGet, "/api/auth/me", resp.Tokens.Refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_joinOrganizationIsPending(t *testing.T) {
	ts := serverSetup(t)
	org, err := ts.orgs.Create(context.Background(), auth.Organization{
		Name: "Acme Institute", ContactEmail: "c@acme.test", Website: "https://acme.test",
	})
	assert.NoError(t, err)

	ts.verifyEmail(t, "tutor@b.com")
	body := validRegistration("tutor@b.com")
	body["role"] = auth.RoleTutor
	body["organization_id"] = org.ID

	rec := ts.request(t, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		User auth.User `json:"user"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, auth.MembershipPending, resp.User.MembershipStatus)
	if assert.NotNil(t, resp.User.Organization) {
		assert.Equal(t, "Acme Institute", resp.User.Organization.Name)
	}
}

func registerAndLogin(t *testing.T, ts *testServer, email string) string {
	t.Helper()
	ts.verifyEmail(t, email)
	rec := ts.request(t, http.MethodPost, "/api/auth/register", "", validRegistration(email))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/auth/login", "", echo.Map{
		"email": email, "password": "S3cret!pass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tokens session.Tokens `json:"tokens"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Tokens.Access
}

func seedCourse(t *testing.T, ts *testServer, slug string, requiresAdmin bool) course.Course {
	t.Helper()
	crs, err := ts.courses.Create(context.Background(), course.Course{
		Slug: slug, Title: "Test Course", Price: 49900, Currency: "USD",
		ApprovalStatus: course.ApprovalPublished, RequiresAdminEnrollment: requiresAdmin,
	})
	if err != nil {
		t.Fatalf("seedCourse() failed: %v", err)
	}
	return crs
}

func Test_enrollmentStatus(t *testing.T) {
	ts := serverSetup(t)
	seedCourse(t, ts, "intro-to-go", false)
	token := registerAndLogin(t, ts, "a@b.com")

	// gated: no token means 401
	rec := ts.request(t, http.MethodGet, "/api/payments/enrollment-status?course=intro-to-go", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// not being enrolled is a 200, not an error
	rec = ts.request(t, http.MethodGet, "/api/payments/enrollment-status?course=intro-to-go", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp enrollmentStatusResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(enroll.StatusNotEnrolled), resp.Status)

	rec = ts.request(t, http.MethodGet, "/api/payments/enrollment-status", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_paymentFlow(t *testing.T) {
	ts := serverSetup(t)
	seedCourse(t, ts, "intro-to-go", false)
	token := registerAndLogin(t, ts, "a@b.com")

	payment := echo.Map{
		"course": "intro-to-go", "amount": 49900, "currency": "USD", "method": "card",
	}

	// the idempotency key is mandatory
	rec := ts.request(t, http.MethodPost, "/api/payments/initiate", token, payment)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Idempotency-Key")

	pay := func(key string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		assert.NoError(t, json.NewEncoder(&buf).Encode(payment))
		req := httptest.NewRequest(http.MethodPost, "/api/payments/initiate", &buf)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}

	rec = pay("key-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	var res enroll.PaymentResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, enroll.StatusActive, res.Status)

	// replaying the same key returns the original outcome, no double charge
	rec = pay("key-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, enroll.StatusActive, res.Status)

	// a fresh key for the same course is a duplicate enrollment
	rec = pay("key-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already enrolled")

	// the enrollment shows up in the status endpoint and the catalog count
	rec = ts.request(t, http.MethodGet, "/api/payments/enrollment-status?course=intro-to-go", token, nil)
	var statusResp enrollmentStatusResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statusResp))
	assert.Equal(t, string(enroll.StatusActive), statusResp.Status)

	crs, err := ts.courses.GetBySlug(context.Background(), "intro-to-go")
	assert.NoError(t, err)
	assert.Equal(t, 1, crs.EnrollmentCount)
}

func Test_paymentAdminGatedCourse(t *testing.T) {
	ts := serverSetup(t)
	seedCourse(t, ts, "advanced-distributed-systems", true)
	token := registerAndLogin(t, ts, "a@b.com")

	var buf bytes.Buffer
	assert.NoError(t, json.NewEncoder(&buf).Encode(echo.Map{
		"course": "advanced-distributed-systems", "amount": 49900, "currency": "USD", "method": "card",
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/payments/initiate", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res enroll.PaymentResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	// payment success does not activate an admin-gated enrollment
	assert.Equal(t, enroll.StatusPaymentVerification, res.Status)
}

func Test_courseCatalog(t *testing.T) {
	ts := serverSetup(t)
	seedCourse(t, ts, "intro-to-go", false)

	rec := ts.request(t, http.MethodGet, "/api/courses/intro-to-go", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var crs course.Course
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &crs))
	assert.Equal(t, "intro-to-go", crs.Slug)

	rec = ts.request(t, http.MethodGet, "/api/courses/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_submitForApproval(t *testing.T) {
	ts := serverSetup(t)
	token := registerAndLogin(t, ts, "student@b.com") // student, not tutor

	ctx := context.Background()
	_, err := ts.courses.Create(ctx, course.Course{
		Slug: "draft-course", Title: "Draft", Price: 1000, Currency: "USD",
	})
	assert.NoError(t, err)

	// students cannot submit courses
	rec := ts.request(t, http.MethodPost, "/api/courses/instructor/courses/draft-course/submit-approval", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// a tutor can
	ts.verifyEmail(t, "tutor@b.com")
	body := validRegistration("tutor@b.com")
	body["role"] = auth.RoleTutor
	rec = ts.request(t, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.request(t, http.MethodPost, "/api/auth/login", "", echo.Map{
		"email": "tutor@b.com", "password": "S3cret!pass",
	})
	var loginResp struct {
		Tokens session.Tokens `json:"tokens"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))

	rec = ts.request(t, http.MethodPost, "/api/courses/instructor/courses/draft-course/submit-approval", loginResp.Tokens.Access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	crs, err := ts.courses.GetBySlug(ctx, "draft-course")
	assert.NoError(t, err)
	assert.Equal(t, course.ApprovalPending, crs.ApprovalStatus)

	// resubmitting a non-draft course is refused
	rec = ts.request(t, http.MethodPost, "/api/courses/instructor/courses/draft-course/submit-approval", loginResp.Tokens.Access, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
