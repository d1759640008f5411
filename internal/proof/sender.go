package proof

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// ErrNoRecipients is returned when a proof has nobody to go to
var ErrNoRecipients = errors.New("at least one recipient is required")

// Options configures the submission server proofs are sent through
type Options struct {
	Addr      string
	Username  string
	Password  string
	From      string
	LocalName string
	Timeout   time.Duration
	// InsecureSkipVerify disables certificate checks on STARTTLS
	InsecureSkipVerify bool
}

// Sender submits proofs to an SMTP server
type Sender struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSender creates a proof sender
func NewSender(opts Options, logger *slog.Logger) *Sender {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LocalName == "" {
		opts.LocalName = "localhost"
	}
	return &Sender{
		opts:   opts,
		logger: logger.With("component", "proof"),
		now:    time.Now,
	}
}

// Send delivers msg to every address in to
func (s *Sender) Send(ctx context.Context, to []string, msg Message) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	data, err := BuildMessage(s.opts.From, to, msg, s.now())
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: s.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.opts.Addr, err)
	}
	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(s.opts.LocalName); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(s.opts.Addr)
		tlsConfig := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if s.opts.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.opts.Username, s.opts.Password)); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := c.SendMail(s.opts.From, to, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to send proof: %w", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Debug("QUIT failed", "error", err)
	}

	s.logger.Info("proof sent", "to", to, "subject", msg.Subject)
	return nil
}

// BuildMessage assembles an RFC 5322 multipart/alternative message
func BuildMessage(from string, to []string, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), extractDomain(from)))
	buf.WriteString("X-Copymode-Proof: yes\r\n")

	boundary := uuid.New().String()
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString(fmt.Sprintf("Content-Type: %s\r\n", p.contentType))
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
		buf.WriteString("\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		buf.WriteString("\r\n")
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes(), nil
}

func extractDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return strings.Trim(email[i+1:], "> ")
	}
	return "localhost"
}
