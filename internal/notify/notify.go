package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/observability"
)

// Message is one outbound notification. Recipient is an email address
// or user identifier depending on the sender.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers notifications. Delivery failures never fail the
// workflow that triggered them; callers log and continue.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log instead of delivering them.
// It is the default when no SMTP host is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("notification",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	observability.NotificationTotal.WithLabelValues("log", "sent").Inc()
	return nil
}

// SMTPSender delivers notifications over plain SMTP.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.Recipient}, []byte(b.String())); err != nil {
		observability.NotificationTotal.WithLabelValues("smtp", "failed").Inc()
		return fmt.Errorf("smtp send to %s: %w", msg.Recipient, err)
	}
	observability.NotificationTotal.WithLabelValues("smtp", "sent").Inc()
	return nil
}
