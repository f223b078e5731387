// Package mailer provides passwordless.SendEmailFunc implementations.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTP sends emails through an SMTP server.
type SMTP struct {
	// Addr of the server, "host:port".
	Addr string

	// Username and Password for PLAIN authentication. Authentication is
	// skipped if Username is empty.
	Username string
	Password string

	// From is the sender address.
	From string

	// sendMail is smtp.SendMail, replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Send implements passwordless.SendEmailFunc.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if i := strings.LastIndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(s.Addr, auth, s.From, []string{to}, message(s.From, to, subject, body)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func message(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// Log returns a send function writing emails to log instead of sending them.
// Meant for development, the logged bodies contain entry links.
func Log(log *zap.Logger) func(ctx context.Context, to, subject, body string) error {
	log = log.Named("mailer")
	return func(ctx context.Context, to, subject, body string) error {
		log.Info("email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.String("body", body),
		)
		return nil
	}
}
