package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/elimuhq/elimu/apps/sandbox/api"
	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/course"
	emailsvc "github.com/elimuhq/elimu/services/email"
	logsvc "github.com/elimuhq/elimu/services/logger"
	"github.com/elimuhq/elimu/storage/database"
	sqliterepos "github.com/elimuhq/elimu/storage/database/sqlite"
)

func main() {
	conf := core.NewConfig()

	var logger core.Logger
	std := log.New(os.Stdout, "SANDBOX : ", log.LstdFlags|log.Lshortfile)
	if conf.RollbarToken != "" {
		logger = logsvc.NewRollbarLogger(std, conf)
	} else {
		logger = logsvc.NewStdLogger("SANDBOX")
	}

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(database.Migrate(db))

	// set up services
	var mailSvc core.EmailService
	switch {
	case conf.Debug:
		mailSvc = emailsvc.NewConsoleService(conf)
	case conf.Email.SendgridAPIKey != "":
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	default:
		mailSvc = emailsvc.NewSMTPService(conf, logger)
	}

	users := sqliterepos.NewUserRepository(db)
	otps := sqliterepos.NewOTPRepository(db)
	orgs := sqliterepos.NewOrganizationRepository(db)
	courses := sqliterepos.NewCourseRepository(db)
	enrollments := sqliterepos.NewEnrollmentRepository(db)

	if conf.Debug {
		seedDemoData(conf, logger, orgs, courses)
	}

	// start API server
	app := sandboxapi.NewServer(&sandboxapi.Options{
		Conf:        conf,
		Logger:      logger,
		MailSvc:     mailSvc,
		Users:       users,
		OTPs:        otps,
		Orgs:        orgs,
		Courses:     courses,
		Enrollments: enrollments,
	})

	go app.Start()
	logger.Info("sandbox API listening", conf.Server.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-app.ShutdownChan():
		logger.Error("shutting down after an unrecoverable error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Error("stopping server", err)
	}
}

// seedDemoData inserts a Knowledge Partner and a couple of courses so a fresh
// sandbox has something to browse. Inserts are skipped when they already exist.
func seedDemoData(
	conf *core.Config,
	logger core.Logger,
	orgs *sqliterepos.OrganizationRepository,
	courses *sqliterepos.CourseRepository,
) {
	ctx := context.Background()

	existing, err := orgs.List(ctx)
	if err != nil || len(existing) > 0 {
		return
	}

	org, err := orgs.Create(ctx, auth.Organization{
		Name:         "Acme Institute",
		ContactEmail: "hello@acme.test",
		Website:      "https://acme.test",
	})
	if err != nil {
		logger.Warn("seeding organization", err)
		return
	}

	seeds := []course.Course{
		{
			Slug:        "intro-to-go",
			Title:       "Introduction to Go",
			Description: "Build your first services in Go.",
			Price:       49900,
			Currency:    "USD",
		},
		{
			Slug:                    "advanced-distributed-systems",
			Title:                   "Advanced Distributed Systems",
			Description:             "Consensus, replication and the gory details.",
			Price:                   99900,
			Currency:                "USD",
			RequiresAdminEnrollment: true,
		},
	}
	for i := range seeds {
		seeds[i].ApprovalStatus = course.ApprovalPublished
		seeds[i].Organization = &org
		if _, err := courses.Create(ctx, seeds[i]); err != nil {
			logger.Warn("seeding course", seeds[i].Slug, err)
		}
	}
	logger.Info("seeded demo catalog", conf.Env)
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
