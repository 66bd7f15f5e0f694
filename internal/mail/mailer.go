package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"marketplace/internal/config"
	"marketplace/internal/util"
)

// Mailer is the outbound notification collaborator. Delivery failures are
// hard errors; retry policy belongs to the implementation, not the caller.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, templateID string, payload map[string]interface{}) error
}

// Template IDs understood by the SMTP mailer.
const (
	TemplateUserActivation       = "user-activation-mail"
	TemplateSellerActivation     = "seller-activation-mail"
	TemplateUserForgotPassword   = "forgot-password-user-mail"
	TemplateSellerForgotPassword = "forgot-password-seller-mail"
)

var templates = map[string]*template.Template{
	TemplateUserActivation: template.Must(template.New(TemplateUserActivation).Parse(
		`<p>Hi {{.name}},</p><p>Your verification code is <b>{{.otp}}</b>. It expires in 5 minutes.</p>`)),
	TemplateSellerActivation: template.Must(template.New(TemplateSellerActivation).Parse(
		`<p>Hi {{.name}},</p><p>Your seller account verification code is <b>{{.otp}}</b>. It expires in 5 minutes.</p>`)),
	TemplateUserForgotPassword: template.Must(template.New(TemplateUserForgotPassword).Parse(
		`<p>Hi {{.name}},</p><p>Use code <b>{{.otp}}</b> to reset your password. It expires in 5 minutes.</p>`)),
	TemplateSellerForgotPassword: template.Must(template.New(TemplateSellerForgotPassword).Parse(
		`<p>Hi {{.name}},</p><p>Use code <b>{{.otp}}</b> to reset your seller account password. It expires in 5 minutes.</p>`)),
}

// SMTPMailer delivers templated mail over SMTP.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

func (m *SMTPMailer) Send(ctx context.Context, recipient, subject, templateID string, payload map[string]interface{}) error {
	tmpl, ok := templates[templateID]
	if !ok {
		return fmt.Errorf("unknown mail template: %s", templateID)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, payload); err != nil {
		return fmt.Errorf("failed to render mail template %s: %w", templateID, err)
	}

	msg := &email.Email{
		To:      []string{recipient},
		From:    m.cfg.From,
		Subject: subject,
		HTML:    body.Bytes(),
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := msg.Send(addr, auth); err != nil {
		m.logger.Error("Failed to send mail",
			util.String("template", templateID),
			util.ErrorField(err))
		return fmt.Errorf("failed to send mail: %w", err)
	}

	m.logger.Debug("Mail sent", util.String("template", templateID))
	return nil
}
