package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSender sends notifications via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

// Name identifies the channel in metrics
func (s *SMTPSender) Name() string { return "smtp" }

// Send emails the event to every configured address
func (s *SMTPSender) Send(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := s.sendMail(addr, auth, s.from, s.to, s.buildMessage(ev)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(ev *Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", ev.Title())
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(ev.Summary(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
