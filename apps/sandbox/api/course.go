package sandboxapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/course"
)

type courseApi struct {
	srv *server
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *server) {
	api := courseApi{srv: srv}

	g.GET("/organizations", api.queryOrganizations)

	cg := g.Group("/courses")
	cg.GET("/:slug", api.retrieve)
	cg.POST("/instructor/courses/:slug/submit-approval", api.submitForApproval, jwt)
}

// Handlers

func (api *courseApi) retrieve(ctx echo.Context) error {
	slug := core.CleanString(ctx.Param("slug"), true /* lower */)
	crs, err := api.srv.opts.Courses.GetBySlug(ctx.Request().Context(), slug)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding course")
	}
	if crs.Organization != nil {
		if org, oerr := api.srv.opts.Orgs.GetByID(ctx.Request().Context(), crs.Organization.ID); oerr == nil {
			crs.Organization = &org
		}
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) queryOrganizations(ctx echo.Context) error {
	orgs, err := api.srv.opts.Orgs.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing organizations")
	}
	return ctx.JSON(http.StatusOK, orgs)
}

func (api *courseApi) submitForApproval(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if !(usr.IsTutor() || usr.IsAdmin()) {
		return errHttpForbidden
	}

	slug := core.CleanString(ctx.Param("slug"), true /* lower */)
	crs, err := api.srv.opts.Courses.GetBySlug(ctx.Request().Context(), slug)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding course")
	}
	if crs.ApprovalStatus != course.ApprovalDraft {
		return core.NewValidationError(errors.New("only draft courses can be submitted for approval"))
	}

	if err := api.srv.opts.Courses.SetApprovalStatus(ctx.Request().Context(), slug, course.ApprovalPending); err != nil {
		return errors.Wrap(err, "submitting course for approval")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"message": "course submitted for approval"})
}
