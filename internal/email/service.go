// Package email sends site notices over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) sender() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("email has no recipients")
	}

	boundary := "boundary-kiritara"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.sender())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// LeadData fills the new-lead notice.
type LeadData struct {
	SiteName           string
	Name               string
	Email              string
	Phone              string
	InvestmentInterest string
	Message            string
	ReceivedAt         time.Time
}

// SendLeadNotice tells the sales inbox about a new contact submission.
func (s *Service) SendLeadNotice(to []string, lead LeadData) error {
	if lead.SiteName == "" {
		lead.SiteName = "Kiritara Resorts"
	}
	subject := fmt.Sprintf("New investment inquiry from %s", lead.Name)

	html, err := renderTemplate(leadNoticeTemplate, lead)
	if err != nil {
		return fmt.Errorf("render lead notice: %w", err)
	}
	text := fmt.Sprintf("%s <%s>, %s\nInterest: %s\n\n%s",
		lead.Name, lead.Email, lead.Phone, lead.InvestmentInterest, lead.Message)

	return s.SendHTMLEmail(to, subject, text, html)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const leadNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New inquiry for {{.SiteName}}</title>
    <style>
        body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; color: #1f2933; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #b8860b; padding-bottom: 10px; margin-bottom: 20px; }
        td { padding: 4px 12px 4px 0; vertical-align: top; }
        .label { color: #616e7c; }
        .message { background: #f5f2eb; padding: 12px; border-radius: 4px; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #616e7c; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.SiteName}}</h1>
    </div>

    <h2>New investment inquiry</h2>

    <table>
        <tr><td class="label">Name</td><td>{{.Name}}</td></tr>
        <tr><td class="label">Email</td><td>{{.Email}}</td></tr>
        <tr><td class="label">Phone</td><td>{{.Phone}}</td></tr>
        <tr><td class="label">Interest</td><td>{{.InvestmentInterest}}</td></tr>
        <tr><td class="label">Received</td><td>{{.ReceivedAt.Format "2006-01-02 15:04 MST"}}</td></tr>
    </table>

    {{if .Message}}<p class="message">{{.Message}}</p>{{end}}

    <div class="footer">
        <p>Follow up from the admin dashboard under Submissions.</p>
    </div>
</body>
</html>`
