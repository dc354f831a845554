package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"notify-service/internal/config"
	"notify-service/internal/domain/service"
)

// Template names accepted by sendEmail
const (
	Confirm = "confirm"
	Reset   = "reset"
	Welcome = "welcome"
)

// ErrUnknownTemplate is returned for a name with no template
var ErrUnknownTemplate = errors.New("unknown email template")

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

type Renderer struct {
	cfg       *config.EmailConfig
	templates map[string]emailTemplate
}

var _ service.TemplateRenderer = (*Renderer)(nil)

// NewRenderer creates a new template renderer. Files named <template>.html in
// cfg.TemplatesPath replace the built-in bodies.
func NewRenderer(cfg *config.EmailConfig) (*Renderer, error) {
	r := &Renderer{
		cfg:       cfg,
		templates: make(map[string]emailTemplate),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load email templates: %w", err)
	}

	return r, nil
}

// loadTemplates loads all email templates
func (r *Renderer) loadTemplates() error {
	defaults := map[string]struct{ subject, body string }{
		Confirm: {defaultConfirmSubject, defaultConfirmTemplate},
		Reset:   {defaultResetSubject, defaultResetTemplate},
		Welcome: {defaultWelcomeSubject, defaultWelcomeTemplate},
	}

	for name, def := range defaults {
		subject, err := texttemplate.New(name + "_subject").Parse(def.subject)
		if err != nil {
			return fmt.Errorf("failed to parse %s subject: %w", name, err)
		}

		body, err := template.ParseFiles(filepath.Join(r.cfg.TemplatesPath, name+".html"))
		if err != nil {
			body, err = template.New(name).Parse(def.body)
			if err != nil {
				return fmt.Errorf("failed to parse default %s template: %w", name, err)
			}
		}

		r.templates[name] = emailTemplate{subject: subject, body: body}
	}

	return nil
}

// Render renders the subject and body of template name.
// Recognized variables: token, code, firstName, email.
func (r *Renderer) Render(name string, vars map[string]any) (string, string, error) {
	tmpl, ok := r.templates[strings.ToLower(name)]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	data := r.templateData(strings.ToLower(name), vars)

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to execute %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}

	return strings.TrimSpace(subject.String()), body.String(), nil
}

func (r *Renderer) templateData(name string, vars map[string]any) map[string]any {
	data := map[string]any{
		"ProductName":  r.cfg.ProductName,
		"SupportEmail": r.cfg.SupportEmail,
		"FirstName":    str(vars, "firstName"),
		"Email":        str(vars, "email"),
		"Code":         str(vars, "code"),
	}

	base := strings.TrimRight(r.cfg.FrontendURL, "/")
	switch name {
	case Confirm:
		data["Link"] = fmt.Sprintf("%s/confirm-account?token=%s", base, url.QueryEscape(str(vars, "token")))
	case Welcome:
		data["Link"] = base + "/dashboard"
	}

	return data
}

func str(vars map[string]any, key string) string {
	v, ok := vars[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

const (
	defaultConfirmSubject = `Confirm your email address - {{.ProductName}}`
	defaultResetSubject   = `Your password reset code - {{.ProductName}}`
	defaultWelcomeSubject = `Welcome to {{.ProductName}}{{if .FirstName}}, {{.FirstName}}{{end}}!`
)

// Default email templates
const defaultConfirmTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Confirm Your Email</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #4CAF50;">Confirm your email address</h2>
        <p>Please confirm your email address by clicking the button below:</p>
        <div style="text-align: center; margin: 30px 0;">
            <a href="{{.Link}}" style="background-color: #4CAF50; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Confirm Email</a>
        </div>
        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all; color: #666;">{{.Link}}</p>
        <p>If you didn't create an account, please ignore this email.</p>
        <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
        <p style="color: #999; font-size: 12px;">Questions? Contact {{.SupportEmail}}.</p>
    </div>
</body>
</html>
`

const defaultResetTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset Your Password</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #FF5722;">Reset your password</h2>
        <p>We received a password reset request{{if .Email}} for {{.Email}}{{end}}. Use the code below to continue:</p>
        <div style="text-align: center; margin: 30px 0; font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</div>
        <p>If you didn't request a password reset, please ignore this email.</p>
        <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated email, please do not reply.</p>
    </div>
</body>
</html>
`

const defaultWelcomeTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2196F3;">Welcome{{if .FirstName}}, {{.FirstName}}{{end}}!</h2>
        <p>Your {{.ProductName}} account is ready.</p>
        <div style="text-align: center; margin: 30px 0;">
            <a href="{{.Link}}" style="background-color: #2196F3; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Open Dashboard</a>
        </div>
        <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated email, please do not reply.</p>
    </div>
</body>
</html>
`
