package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

var ErrNoRecipients = errors.New("no recipients")

type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string // empty disables authentication
	Password string
	Subject  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTP struct {
	cfg  SMTPConfig
	send sendFunc
	now  func() time.Time
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("smtp address %q: %w", cfg.Addr, err)
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is empty")
	}
	if cfg.Subject == "" {
		cfg.Subject = "rem: job notification"
	}
	return &SMTP{
		cfg:  cfg,
		send: smtp.SendMail,
		now:  time.Now,
	}, nil
}

// Send delivers a plain text mail. net/smtp has no context support, so ctx
// only prevents starting a send after cancellation.
func (n *SMTP) Send(ctx context.Context, recipients []string, message string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host, _, _ := net.SplitHostPort(n.cfg.Addr)
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}
	if err := n.send(n.cfg.Addr, auth, n.cfg.From, recipients, n.compose(recipients, message)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", n.cfg.Addr, err)
	}
	return nil
}

func (n *SMTP) compose(recipients []string, message string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.cfg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
