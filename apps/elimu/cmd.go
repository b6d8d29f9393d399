package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/auth"
	"github.com/elimuhq/elimu/core/course"
	"github.com/elimuhq/elimu/core/enroll"
	"github.com/elimuhq/elimu/core/session"
	"github.com/elimuhq/elimu/services/restclient"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")

	success = color.New(color.FgGreen).PrintfFunc()
	warning = color.New(color.FgYellow).PrintfFunc()
)

type commandLine struct {
	conf   *core.Config
	client *restclient.Client
	gate   *session.Gate
	logger core.Logger
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  register                      - register a new account (interactive)")
	fmt.Println("  login -email EMAIL            - log in; the password is prompted next")
	fmt.Println("  logout                        - clear the stored session")
	fmt.Println("  whoami                        - show session state")
	fmt.Println("  orgs                          - list Knowledge Partners")
	fmt.Println("  course -slug SLUG             - show a course")
	fmt.Println("  status -slug SLUG             - show your enrollment status for a course")
	fmt.Println("  enroll -slug SLUG             - enroll in a course (pays with a test card)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	loginCmd := flag.NewFlagSet("login", flag.ExitOnError)
	loginEmail := loginCmd.String("email", "", "The account's email. The password will be prompted next.")

	courseCmd := flag.NewFlagSet("course", flag.ExitOnError)
	courseSlug := courseCmd.String("slug", "", "The course slug.")

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusSlug := statusCmd.String("slug", "", "The course slug.")

	enrollCmd := flag.NewFlagSet("enroll", flag.ExitOnError)
	enrollSlug := enrollCmd.String("slug", "", "The course slug.")

	switch args[1] {
	case "register":
		return cli.register(ctx)
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginEmail)
	case "logout":
		return cli.logout()
	case "whoami":
		return cli.whoami()
	case "orgs":
		return cli.organizations(ctx)
	case "course":
		if err := courseCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *courseSlug == "" {
			courseCmd.Usage()
			return errHelp
		}
		return cli.course(ctx, *courseSlug)
	case "status":
		if err := statusCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statusSlug == "" {
			statusCmd.Usage()
			return errHelp
		}
		return cli.status(ctx, *statusSlug)
	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *enrollSlug == "" {
			enrollCmd.Usage()
			return errHelp
		}
		return cli.enroll(ctx, *enrollSlug)
	default:
		cli.printUsage()
		return errHelp
	}
}

// Commands

func (cli *commandLine) register(ctx context.Context) error {
	validate, translator := core.NewValidator()
	auth.RegisterValidators(validate, translator)
	flow := auth.NewFlow(validate, cli.client, cli.gate, cli.conf.OTP.ResendCooldown)

	reader := bufio.NewReader(os.Stdin)
	reg := auth.Registration{
		FullName: prompt(reader, "Full name"),
		Email:    prompt(reader, "Email"),
		Role:     prompt(reader, "Role (student/tutor/admin)"),
	}
	pwd, err := promptPassword("Password")
	if err != nil {
		return err
	}
	reg.Password = pwd
	reg.PasswordConfirm, err = promptPassword("Confirm password")
	if err != nil {
		return err
	}

	if orgID := prompt(reader, "Organization ID to join (blank for none)"); orgID != "" {
		reg.OrganizationID = orgID
	} else if reg.Role == auth.RoleAdmin {
		reg.Organization = &auth.NewOrganization{
			Name:         prompt(reader, "Organization name"),
			ContactEmail: prompt(reader, "Organization contact email"),
			Website:      prompt(reader, "Organization website"),
		}
	}

	if err := flow.SetDraft(reg); err != nil {
		return err
	}
	if err := flow.BeginVerification(ctx); err != nil {
		return describeFormError(err, translator)
	}
	fmt.Printf("A verification code was sent to %s.\n", reg.Email)

	for {
		code := prompt(reader, "Verification code (or 'resend')")
		if code == "resend" {
			if err := flow.ResendCode(ctx); err != nil {
				if errors.Cause(err) == auth.ErrCooldown {
					warning("wait %s before requesting another code\n", flow.Verifier().ResendAvailableIn().Round(time.Second))
					continue
				}
				return err
			}
			fmt.Println("Code resent.")
			continue
		}
		if err := flow.ConfirmCode(ctx, code); err != nil {
			warning("%s\n", core.UserMessage(err))
			continue
		}
		break
	}

	state, err := flow.Submit(ctx)
	if err != nil {
		if msg := flow.FormError(); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	switch st := state.(type) {
	case auth.Success:
		success("Welcome, %s! Your account is ready.\n", st.User.FullName)
	case auth.PendingApproval:
		success("Thanks %s! Your request to join %s awaits an admin's approval.\n",
			st.User.FullName, st.Organization.Name)
	}
	return nil
}

func (cli *commandLine) login(ctx context.Context, email string) error {
	pwd, err := promptPassword("Password")
	if err != nil {
		return err
	}
	if err := cli.gate.Login(ctx, email, pwd); err != nil {
		return errors.New(core.UserMessage(errors.Cause(err)))
	}
	success("Logged in as %s.\n", email)
	return nil
}

func (cli *commandLine) logout() error {
	if err := cli.gate.Logout(); err != nil {
		return err
	}
	success("Logged out.\n")
	return nil
}

func (cli *commandLine) whoami() error {
	if !cli.gate.IsAuthenticated() {
		warning("No active session.\n")
		return nil
	}
	fmt.Println("Session active.")
	if exp, err := cli.gate.AccessExpiry(); err == nil {
		fmt.Printf("Access token expires at %s.\n", exp.Local())
	}
	return nil
}

func (cli *commandLine) organizations(ctx context.Context) error {
	orgs, err := cli.client.Organizations(ctx)
	if err != nil {
		return errors.New(core.UserMessage(err))
	}
	if len(orgs) == 0 {
		fmt.Println("No organizations yet.")
		return nil
	}
	for _, org := range orgs {
		fmt.Printf("%s  %s  %s\n", org.ID, org.Name, org.Website)
	}
	return nil
}

func (cli *commandLine) course(ctx context.Context, slug string) error {
	svc := course.NewService(cli.client)
	crs, err := svc.Get(ctx, slug)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return errors.Errorf("no course with slug %q", slug)
		}
		return errors.New(core.UserMessage(err))
	}
	fmt.Printf("%s (%s)\n", crs.Title, crs.Slug)
	fmt.Println(crs.Description)
	if crs.IsFree() {
		fmt.Println("Price: free")
	} else {
		fmt.Printf("Price: %d %s\n", crs.Price, crs.Currency)
	}
	if crs.Organization != nil {
		fmt.Printf("By: %s\n", crs.Organization.Name)
	}
	fmt.Printf("Enrolled: %d\n", crs.EnrollmentCount)
	return nil
}

func (cli *commandLine) status(ctx context.Context, slug string) error {
	validate, _ := core.NewValidator()
	machine := enroll.NewMachine(cli.client, cli.gate, validate, cli.logger, core.CleanString(slug, true))
	view := machine.Refresh(ctx)
	fmt.Printf("Enrollment: %s (%s)\n", view.Status, view.Kind)
	return nil
}

func (cli *commandLine) enroll(ctx context.Context, slug string) error {
	slug = core.CleanString(slug, true)

	validate, _ := core.NewValidator()
	machine := enroll.NewMachine(cli.client, cli.gate, validate, cli.logger, slug)

	if err := machine.Initiate(ctx); err != nil {
		switch errors.Cause(err) {
		case enroll.ErrLoginRequired:
			return errors.New("you must log in first: elimu login -email EMAIL")
		case enroll.ErrAlreadyEnrolled:
			warning("You are already enrolled in this course (%s).\n", machine.View().Status)
			return nil
		}
		return err
	}

	svc := course.NewService(cli.client)
	crs, err := svc.Get(ctx, slug)
	if err != nil {
		return errors.New(core.UserMessage(err))
	}

	reader := bufio.NewReader(os.Stdin)
	details := enroll.PaymentDetails{
		Amount:   crs.Price,
		Currency: crs.Currency,
		Method:   prompt(reader, "Payment method (card/mobile_money)"),
	}
	if details.Method == "mobile_money" {
		details.PhoneNumber = prompt(reader, "Phone number")
	}

	res, err := machine.SubmitPayment(ctx, details)
	if err != nil {
		return errors.New(core.UserMessage(errors.Cause(err)))
	}
	success("Payment accepted (ref %s). Enrollment is %s pending confirmation.\n",
		res.Reference, machine.View().Status)
	return nil
}

// Helpers

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// describeFormError renders validation failures field by field.
func describeFormError(err error, translator ut.Translator) error {
	switch vErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		for field, msg := range core.TranslateFieldErrors(vErr, translator) {
			warning("%s: %s\n", field, msg)
		}
		return errors.New("please fix the fields above and retry")
	case *core.ValidationError:
		for _, fld := range vErr.Fields {
			warning("%s: %s\n", fld.Field, fld.Error)
		}
		return errors.New("please fix the fields above and retry")
	}
	return errors.New(core.UserMessage(err))
}
