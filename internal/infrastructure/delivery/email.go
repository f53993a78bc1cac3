package delivery

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// EmailChannel sends the briefing as an HTML email through an SMTP relay.
type EmailChannel struct {
	host     string
	port     int
	from     string
	to       string
	username string
	password string

	// send is swapped out in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

var _ ports.DeliveryChannel = (*EmailChannel)(nil)

// NewEmailChannel wires the SMTP relay settings.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		to:       cfg.To,
		username: cfg.Username,
		password: cfg.Password,
		send:     smtp.SendMail,
	}
}

// Name identifies the channel in owner configs and run records.
func (c *EmailChannel) Name() string { return "email" }

// Deliver renders the briefing to HTML and mails it.
func (c *EmailChannel) Deliver(_ context.Context, owner domain.Owner, b domain.Briefing) error {
	to := owner.Email
	if to == "" {
		to = c.to
	}
	if c.host == "" || c.from == "" || to == "" {
		return fmt.Errorf("email channel misconfigured")
	}

	body, err := renderHTML(b)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Your feed briefing, %s", b.GeneratedAt.Format("Jan 2"))
	msg := buildMessage(c.from, to, subject, body)

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.send(addr, auth, c.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
