// Package mail renders and delivers transactional email.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

const tagline = "Talk-to-My-Lawyer Platform"

// Mailer sends the account lifecycle emails.
type Mailer interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
	SendCommissionNotification(ctx context.Context, to, name string, commission float64, referredEmail string) error
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds the values templates link to.
type Config struct {
	ClientURL    string
	SupportEmail string
	// ResetExpiry is shown in the password reset email.
	ResetExpiry time.Duration
}

type templateData struct {
	Heading       string
	Tagline       string
	Name          string
	ActionURL     string
	ExpiresIn     string
	Commission    string
	ReferredEmail string
	SupportEmail  string
}

// Composer renders templates and hands them to a Sender.
type Composer struct {
	cfg    Config
	sender Sender
	pages  map[string]*template.Template
}

var _ Mailer = (*Composer)(nil)

// NewComposer parses the embedded templates.
func NewComposer(cfg Config, sender Sender) (*Composer, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	cfg.ClientURL = strings.TrimRight(strings.TrimSpace(cfg.ClientURL), "/")
	if cfg.ResetExpiry <= 0 {
		cfg.ResetExpiry = time.Hour
	}

	pages := make(map[string]*template.Template, 3)
	for _, name := range []string{"welcome", "password_reset", "commission"} {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Composer{cfg: cfg, sender: sender, pages: pages}, nil
}

func (c *Composer) render(page string, data templateData) (string, error) {
	tmpl, ok := c.pages[page]
	if !ok {
		return "", fmt.Errorf("unknown template %q", page)
	}
	data.Tagline = tagline
	data.SupportEmail = c.cfg.SupportEmail
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s: %w", page, err)
	}
	return buf.String(), nil
}

func (c *Composer) deliver(ctx context.Context, to, subject, page string, data templateData) error {
	body, err := c.render(page, data)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, Message{To: to, Subject: subject, HTML: body})
}

// SendWelcome greets a newly registered account.
func (c *Composer) SendWelcome(ctx context.Context, to, name string) error {
	return c.deliver(ctx, to, "Welcome to Talk-to-My-Lawyer!", "welcome", templateData{
		Heading:   "Welcome to Talk-to-My-Lawyer!",
		Name:      name,
		ActionURL: c.cfg.ClientURL,
	})
}

// SendPasswordReset delivers the reset link for token.
func (c *Composer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	return c.deliver(ctx, to, "Password Reset Request - Talk-to-My-Lawyer", "password_reset", templateData{
		Heading:   "Password Reset Request",
		Name:      name,
		ActionURL: ResetURL(c.cfg.ClientURL, token),
		ExpiresIn: humanDuration(c.cfg.ResetExpiry),
	})
}

// SendCommissionNotification tells a remote employee about a referral.
func (c *Composer) SendCommissionNotification(ctx context.Context, to, name string, commission float64, referredEmail string) error {
	return c.deliver(ctx, to, "New Commission Earned - Talk-to-My-Lawyer", "commission", templateData{
		Heading:       "Commission Earned!",
		Name:          name,
		ActionURL:     c.cfg.ClientURL,
		Commission:    fmt.Sprintf("$%.2f", commission),
		ReferredEmail: referredEmail,
	})
}

// ResetURL builds the client link for a reset token.
func ResetURL(clientURL, token string) string {
	return strings.TrimRight(clientURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
