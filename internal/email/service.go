// Package email sends moderation outcome e-mails over SMTP.
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"

	mail "github.com/go-mail/mail/v2"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	StartTLS bool
	AppName  string
	SiteURL  string
}

// Sender delivers composed messages. *mail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*mail.Message) error
}

// Service provides email sending
type Service struct {
	config Config
	sender Sender
}

// NewService creates a new email service
func NewService(config Config) *Service {
	if config.Port == 0 {
		config.Port = 587
	}
	dialer := mail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	if config.StartTLS {
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
		dialer.TLSConfig = &tls.Config{ServerName: config.Host}
	}
	return NewServiceWithSender(config, dialer)
}

func NewServiceWithSender(config Config, sender Sender) *Service {
	if config.AppName == "" {
		config.AppName = "Marketplace"
	}
	return &Service{config: config, sender: sender}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	m := mail.NewMessage()
	if s.config.FromName != "" {
		m.SetAddressHeader("From", s.config.From, s.config.FromName)
	} else {
		m.SetHeader("From", s.config.From)
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", "Please view this email in an HTML-capable email client.")
	m.AddAlternative("text/html", htmlBody)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// OutcomeData feeds the approval and rejection templates.
type OutcomeData struct {
	AppName       string
	RecipientName string
	EntityLabel   string
	Title         string
	Reason        string
	Comments      string
	URL           string
}

func (s *Service) SendApprovalEmail(to string, data OutcomeData) error {
	data.AppName = s.config.AppName
	html, err := renderTemplate(approvalTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval template: %w", err)
	}
	subject := fmt.Sprintf("Your %s submission has been approved", data.EntityLabel)
	return s.SendHTMLEmail([]string{to}, subject, html)
}

func (s *Service) SendRejectionEmail(to string, data OutcomeData) error {
	data.AppName = s.config.AppName
	html, err := renderTemplate(rejectionTemplate, data)
	if err != nil {
		return fmt.Errorf("render rejection template: %w", err)
	}
	subject := fmt.Sprintf("Your %s submission needs changes", data.EntityLabel)
	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1f7a4d; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1f7a4d; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .note { background: #f4f6f8; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

var approvalTemplate = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}: submission approved</title>
    <style>` + layoutStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <p>Hi {{if .RecipientName}}{{.RecipientName}}{{else}}there{{end}},</p>
    <p>Good news: your {{.EntityLabel}} submission <strong>{{.Title}}</strong> has been approved and is now live.</p>
    {{if .Comments}}<div class="note"><strong>Reviewer notes:</strong> {{.Comments}}</div>{{end}}
    {{if .URL}}<p><a href="{{.URL}}" class="button">View listing</a></p>{{end}}
    <div class="footer"><p>You are receiving this because you submitted a listing to {{.AppName}}.</p></div>
</body>
</html>`))

var rejectionTemplate = template.Must(template.New("rejection").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}: submission not approved</title>
    <style>` + layoutStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <p>Hi {{if .RecipientName}}{{.RecipientName}}{{else}}there{{end}},</p>
    <p>Your {{.EntityLabel}} submission <strong>{{.Title}}</strong> was not approved.</p>
    <div class="note"><strong>Reason:</strong> {{.Reason}}</div>
    {{if .Comments}}<p>{{.Comments}}</p>{{end}}
    <p>You can submit a corrected listing at any time.</p>
    <div class="footer"><p>You are receiving this because you submitted a listing to {{.AppName}}.</p></div>
</body>
</html>`))
