package emailsvc

import (
	"fmt"
	"net/mail"
	"net/smtp"

	jwemail "github.com/jordan-wright/email"

	"github.com/elimuhq/elimu/core"
)

type smtpService struct {
	addr       string
	auth       smtp.Auth
	from       mail.Address
	subjPrefix string
	logger     core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

// NewSMTPService sends through a plain SMTP relay (e.g. a local mailcatcher).
func NewSMTPService(conf *core.Config, logger core.Logger) *smtpService {
	var auth smtp.Auth
	if conf.Email.SMTPUsername != "" {
		auth = smtp.PlainAuth("", conf.Email.SMTPUsername, conf.Email.SMTPPassword, conf.Email.SMTPHost)
	}
	return &smtpService{
		addr:       fmt.Sprintf("%s:%d", conf.Email.SMTPHost, conf.Email.SMTPPort),
		auth:       auth,
		from:       conf.DefaultFrom(),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

func (svc smtpService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if msg.HasRecipients() && msg.HasContent() {
				svc.send(*msg)
			}
		}()
	}
}

func (svc smtpService) send(msg core.EmailMessage) {
	e := jwemail.NewEmail()
	e.From = svc.from.String()
	e.To = svc.formatAddresses(msg.To)
	e.Cc = svc.formatAddresses(msg.Cc)
	e.Bcc = svc.formatAddresses(msg.Bcc)
	e.Subject = svc.subjPrefix + msg.Subject
	e.Text = []byte(msg.TextContent)
	if msg.HTMLContent != "" {
		e.HTML = []byte(msg.HTMLContent)
	}

	if err := e.Send(svc.addr, svc.auth); err != nil {
		svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
	}
}

func (svc smtpService) formatAddresses(addrs []mail.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
