package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/email"
)

// SMTPSender sends mail through authenticated submission accounts
type SMTPSender struct {
	hostname string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSMTPSender creates an SMTP submission sender. The hostname is used for
// Message-ID generation.
func NewSMTPSender(hostname string, timeout time.Duration, logger *slog.Logger) *SMTPSender {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		hostname: hostname,
		timeout:  timeout,
		logger:   logger,
	}
}

// Send dispatches the message through the account's submission endpoint.
// Port 465 uses implicit TLS, everything else STARTTLS.
func (s *SMTPSender) Send(ctx context.Context, account *crm.MailAccount, msg *Message) (*SendResult, error) {
	if account == nil {
		return nil, ErrNoAccount
	}
	if email.ExtractDomain(msg.To) == "" {
		return nil, &SendError{Temporary: false, Message: fmt.Sprintf("invalid recipient address %q", msg.To)}
	}

	messageID := s.generateMessageID(account)
	data, err := buildMIME(account, msg, messageID)
	if err != nil {
		return nil, &SendError{Temporary: false, Message: fmt.Sprintf("failed to build message: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.submit(account, msg.To, data)
	}()

	select {
	case <-ctx.Done():
		return nil, &SendError{Temporary: true, Message: "send timed out"}
	case err := <-done:
		if err != nil {
			return nil, classify(err)
		}
	}

	s.logger.Debug("message submitted",
		"account", account.Email,
		"to", msg.To,
		"message_id", messageID,
	)
	return &SendResult{MessageID: messageID}, nil
}

func (s *SMTPSender) submit(account *crm.MailAccount, to string, data []byte) error {
	tlsConfig := &tls.Config{ServerName: account.Host}

	var (
		client *smtp.Client
		err    error
	)
	if account.Port == 465 {
		client, err = smtp.DialTLS(account.Addr(), tlsConfig)
	} else {
		client, err = smtp.DialStartTLS(account.Addr(), tlsConfig)
	}
	if err != nil {
		return err
	}
	defer client.Close()

	if account.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", account.Username, account.Password)); err != nil {
			return err
		}
	}

	if err := client.SendMail(account.Email, []string{to}, bytes.NewReader(data)); err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) generateMessageID(account *crm.MailAccount) string {
	domain := email.ExtractDomainOrDefault(account.Email, s.hostname)
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// classify maps transport errors to SendError. 4xx SMTP codes and network
// errors are temporary; 5xx codes are permanent.
func classify(err error) *SendError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &SendError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   err.Error(),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &SendError{Temporary: true, Message: err.Error()}
	}
	return &SendError{Temporary: true, Message: err.Error()}
}

// buildMIME assembles an RFC 5322 message: multipart/alternative for the
// bodies, wrapped in multipart/mixed when attachments are present.
func buildMIME(account *crm.MailAccount, msg *Message, messageID string) ([]byte, error) {
	var buf bytes.Buffer

	from := account.Email
	if account.DisplayName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", account.DisplayName), account.Email)
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	if msg.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", msg.InReplyTo)
		fmt.Fprintf(&buf, "References: %s\r\n", msg.InReplyTo)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		return appendAlternative(&buf, msg)
	}

	mixed := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	altHeader := textproto.MIMEHeader{}
	var alt bytes.Buffer
	if _, err := appendAlternative(&alt, msg); err != nil {
		return nil, err
	}
	// appendAlternative emits its own Content-Type header line first
	headerLine, body, _ := strings.Cut(alt.String(), "\r\n\r\n")
	altHeader.Set("Content-Type", strings.TrimPrefix(headerLine, "Content-Type: "))
	part, err := mixed.CreatePart(altHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		header := textproto.MIMEHeader{}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))

		part, err := mixed.CreatePart(header)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Content)
		for len(encoded) > 0 {
			n := min(76, len(encoded))
			if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:n]); err != nil {
				return nil, err
			}
			encoded = encoded[n:]
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// appendAlternative writes a multipart/alternative body (or a single part
// when only one body is present) including its Content-Type header.
func appendAlternative(buf *bytes.Buffer, msg *Message) ([]byte, error) {
	switch {
	case msg.Text != "" && msg.HTML != "":
		alt := multipart.NewWriter(buf)
		fmt.Fprintf(buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", alt.Boundary())

		textPart, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
		if err != nil {
			return nil, err
		}
		if _, err := textPart.Write([]byte(msg.Text)); err != nil {
			return nil, err
		}
		htmlPart, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
		if err != nil {
			return nil, err
		}
		if _, err := htmlPart.Write([]byte(msg.HTML)); err != nil {
			return nil, err
		}
		if err := alt.Close(); err != nil {
			return nil, err
		}
	case msg.HTML != "":
		fmt.Fprintf(buf, "Content-Type: text/html; charset=utf-8\r\n\r\n%s", msg.HTML)
	default:
		fmt.Fprintf(buf, "Content-Type: text/plain; charset=utf-8\r\n\r\n%s", msg.Text)
	}
	return buf.Bytes(), nil
}
