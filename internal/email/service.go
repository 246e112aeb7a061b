// Package email sends Casedesk's transactional mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"casedesk/api/internal/util"
)

const appName = "Casedesk"

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
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

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

// SendHTMLEmail sends a multipart/alternative message with a plain-text part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("email has no recipients")
	}

	boundary := newBoundary()
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func newBoundary() string {
	return "casedesk-" + util.RandomHex(12)
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// AppointmentData describes a scheduled meeting with a client.
type AppointmentData struct {
	AppName    string
	ClientName string
	Title      string
	When       string
	Mode       string
	Location   string
	MeetingURL string
	Notes      string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL}
	html, err := renderTemplate("verification", data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nVerify your %s account: %s\n\nThis link expires in 24 hours.", userName, appName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := renderTemplate("password_reset", data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your password: %s\n\nThis link expires in 1 hour.", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", text, html)
}

func (s *Service) SendAppointmentConfirmation(to string, data AppointmentData) error {
	data.AppName = appName
	html, err := renderTemplate("appointment", data)
	if err != nil {
		return fmt.Errorf("render appointment template: %w", err)
	}
	where := data.Location
	if data.MeetingURL != "" {
		where = data.MeetingURL
	}
	text := fmt.Sprintf("Hi %s,\n\nYour appointment %q is scheduled for %s.\nWhere: %s", data.ClientName, data.Title, data.When, where)
	return s.SendHTMLEmail([]string{to}, "Appointment confirmed: "+data.Title, text, html)
}

func (s *Service) SendAppointmentCancellation(to string, data AppointmentData) error {
	data.AppName = appName
	html, err := renderTemplate("appointment_cancelled", data)
	if err != nil {
		return fmt.Errorf("render cancellation template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nYour appointment %q on %s has been cancelled.", data.ClientName, data.Title, data.When)
	return s.SendHTMLEmail([]string{to}, "Appointment cancelled: "+data.Title, text, html)
}

var emailTemplates = template.Must(template.New("email").Parse(layoutTemplate + verificationTemplate + passwordResetTemplate + appointmentTemplate + cancelledTemplate))

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutTemplate = `{{define "header"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; color: #222; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1f3a5f; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1f3a5f; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #1f3a5f; }
        .details td { padding: 4px 12px 4px 0; vertical-align: top; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
{{end}}{{define "footer"}}
</body>
</html>{{end}}`

const verificationTemplate = `{{define "verification"}}{{template "header" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Please verify your email address to activate your client portal account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer"><p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p></div>
{{template "footer" .}}{{end}}`

const passwordResetTemplate = `{{define "password_reset"}}{{template "header" .}}
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p class="link">{{.ResetURL}}</p>
    <p><strong>Important:</strong> This reset link will expire in 1 hour.</p>
    <div class="footer"><p>If you didn't request a password reset, your password will remain unchanged.</p></div>
{{template "footer" .}}{{end}}`

const appointmentTemplate = `{{define "appointment"}}{{template "header" .}}
    <h2>Appointment confirmed</h2>
    <p>Hi {{.ClientName}},</p>
    <p>Your appointment has been scheduled.</p>
    <table class="details">
        <tr><td><strong>Subject</strong></td><td>{{.Title}}</td></tr>
        <tr><td><strong>When</strong></td><td>{{.When}}</td></tr>
        {{if .MeetingURL}}<tr><td><strong>Join</strong></td><td><a class="link" href="{{.MeetingURL}}">{{.MeetingURL}}</a></td></tr>
        {{else if .Location}}<tr><td><strong>Where</strong></td><td>{{.Location}}</td></tr>{{end}}
    </table>
    {{if .Notes}}<p>{{.Notes}}</p>{{end}}
    <div class="footer"><p>Need to reschedule? Reply to this email or contact the office.</p></div>
{{template "footer" .}}{{end}}`

const cancelledTemplate = `{{define "appointment_cancelled"}}{{template "header" .}}
    <h2>Appointment cancelled</h2>
    <p>Hi {{.ClientName}},</p>
    <p>Your appointment <strong>{{.Title}}</strong> on {{.When}} has been cancelled.</p>
{{template "footer" .}}{{end}}`
