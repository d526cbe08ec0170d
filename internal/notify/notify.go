package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"catalogsync/internal/assert"
	"catalogsync/internal/catalog"
	"catalogsync/internal/report"
	"catalogsync/internal/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("catalogsync/notify")

const (
	report_send = "notify.send"
	report_sent = "notify.sent"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"from"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

// Enabled reports whether there is anywhere to send a summary to.
func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && len(c.To) > 0
}

func (c SmtpConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

type sendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

func send(mail *email.Email, addr string, auth smtp.Auth) error {
	return mail.Send(addr, auth)
}

// Notifier mails run summaries.
type Notifier struct {
	config SmtpConfig
	send   sendFunc
	tel    telemetry.API
}

func NewNotifier(config SmtpConfig, tel telemetry.API) *Notifier {
	assert.NotNil(tel)
	return &Notifier{
		config: config,
		send:   send,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

func subject(s catalog.RunSummary) string {
	return fmt.Sprintf(
		"catalogsync %s: %d added, %d updated, %d failed, %d delisted",
		s.State, s.Added, s.Updated, len(s.Failed), len(s.Delisted),
	)
}

// Message builds the e-mail for a run summary, the text part holds the same
// tables the CLI prints.
func Message(config SmtpConfig, s catalog.RunSummary) *email.Email {
	var body bytes.Buffer
	fmt.Fprintf(&body, "Catalog sync run %s finished in state %s.\n\n", s.RunID, s.State)
	report.Summary(&body, s)

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("catalogsync <%s>", config.EmailAddress)
	mail.To = config.To
	mail.Subject = subject(s)
	mail.Text = body.Bytes()
	return mail
}

// Notify sends the summary, servers that do not support AUTH are retried
// without it.
func (n *Notifier) Notify(ctx context.Context, s catalog.RunSummary) error {
	ctx, span := tracer.Start(ctx, "Notify")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", s.RunID))

	mail := Message(n.config, s)

	err := n.send(
		mail,
		n.config.addr(),
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, n.config.addr(), nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		n.tel.ReportBroken(report_send, err, s.RunID)
		return err
	}

	n.tel.ReportDebug(report_sent, s.RunID, n.config.To)
	return nil
}
