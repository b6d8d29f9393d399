package sandboxapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/course"
	"github.com/elimuhq/elimu/core/enroll"
	sqliterepos "github.com/elimuhq/elimu/storage/database/sqlite"
)

type paymentApi struct {
	srv *server
}

func registerPaymentAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *server) {
	api := paymentApi{srv: srv}

	pg := g.Group("/payments", jwt)
	pg.GET("/enrollment-status", api.enrollmentStatus)
	pg.POST("/initiate", api.initiate)
}

type enrollmentStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// Handlers

func (api *paymentApi) enrollmentStatus(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	slug := core.CleanString(ctx.QueryParam("course"), true /* lower */)
	if slug == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "course", Error: "this field is required"})
	}

	status, payStatus, err := api.srv.opts.Enrollments.GetStatus(ctx.Request().Context(), usr.ID, slug)
	if err != nil {
		if errors.Cause(err) == sqliterepos.ErrEnrollmentNotFound {
			// not being enrolled is a status, not an error
			return ctx.JSON(http.StatusOK, enrollmentStatusResponse{Status: string(enroll.StatusNotEnrolled)})
		}
		return errors.Wrap(err, "finding enrollment")
	}
	return ctx.JSON(http.StatusOK, enrollmentStatusResponse{Status: string(status), PaymentStatus: payStatus})
}

func (api *paymentApi) initiate(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	key := ctx.Request().Header.Get("Idempotency-Key")
	if key == "" {
		return core.NewValidationError(errors.New("Idempotency-Key header is required"))
	}

	var data enroll.PaymentDetails
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PaymentDetails")
	}
	data.CourseSlug = core.CleanString(data.CourseSlug, true /* lower */)
	if err := api.srv.validate.Struct(&data); err != nil {
		return err
	}

	rctx := ctx.Request().Context()

	// a retried attempt with the same key replays the original outcome
	if status, payStatus, found, err := api.srv.opts.Enrollments.FindByIdempotencyKey(rctx, key); err != nil {
		return errors.Wrap(err, "finding enrollment by key")
	} else if found {
		return ctx.JSON(http.StatusOK, enroll.PaymentResult{
			Reference:     key,
			Status:        status,
			PaymentStatus: payStatus,
		})
	}

	crs, err := api.srv.opts.Courses.GetBySlug(rctx, data.CourseSlug)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "course_slug", Error: "unknown course"})
		}
		return errors.Wrap(err, "finding course")
	}
	if data.Amount != crs.Price || data.Currency != crs.Currency {
		return core.NewValidationError(errors.New("payment does not match the course price"))
	}

	status, err := api.srv.opts.Enrollments.RecordPayment(rctx, usr.ID, crs.Slug, key, crs.RequiresAdminEnrollment)
	if err != nil {
		if errors.Cause(err) == sqliterepos.ErrDuplicateEnrollment {
			return core.NewValidationError(errors.New("you are already enrolled in this course"))
		}
		return errors.Wrap(err, "recording payment")
	}
	if err := api.srv.opts.Courses.IncrementEnrollmentCount(rctx, crs.Slug); err != nil {
		api.srv.opts.Logger.Warn("incrementing enrollment count", err)
	}

	return ctx.JSON(http.StatusOK, enroll.PaymentResult{
		Reference:     key,
		Status:        status,
		PaymentStatus: "paid",
	})
}
