package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/inkpost/api/pkg/config"
)

// Mailer dispatches verification codes to users. Delivery is fire-and-forget
// per request: a failure surfaces to the caller and is never retried.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// SMTPMailer sends OTP mail through a plain-auth SMTP relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   *slog.Logger
}

// NewSMTP constructs an SMTPMailer from config.
func NewSMTP(cfg config.APIConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.MailFrom,
		logger:   logger,
	}
}

// SendOTP delivers the verification code to the recipient.
func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string) error {
	body := buildOTPMessage(m.from, to, code)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.from, []string{to}, body)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			m.logger.Error("otp mail delivery failed", "to", to, "error", err)
			return err
		}
	}
	m.logger.Info("otp mail sent", "to", to)
	return nil
}

func buildOTPMessage(from, to, code string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your One-Time Password (OTP) for Email Verification\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Your One-Time Password (OTP) for email verification is: %s\r\n\r\n", code)
	b.WriteString("This OTP is valid for 10 minutes. Please do not share it with anyone.\r\n")
	b.WriteString("If you did not request this, you can safely ignore this email.\r\n")
	return []byte(b.String())
}

// LogMailer writes the code to the log instead of sending mail. Used in
// development when no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendOTP logs the code.
func (m *LogMailer) SendOTP(_ context.Context, to, code string) error {
	m.logger.Info("otp issued (mail disabled)", "to", to, "otp", code)
	return nil
}
