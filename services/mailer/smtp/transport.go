package smtp

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"pulsar-mailer/shared/config"
	"pulsar-mailer/shared/logger"
)

// ErrTransportUnavailable means connection retries were exhausted. It
// is fatal for the remainder of the run.
var ErrTransportUnavailable = errors.New("smtp transport unavailable")

// Session represents one authenticated SMTP session
type Session interface {
	Send(from string, to string, message []byte) error
	Close() error
}

// Dialer establishes SMTP sessions. Swapped for a stub in tests and in
// dry-run mode.
type Dialer interface {
	Dial() (Session, error)
}

// Transport owns the SMTP session lifecycle: bounded connection
// retries, one authenticated session reused across messages, and a
// single reconnect retry when a session dies mid-send.
type Transport struct {
	dialer  Dialer
	log     *logger.Logger
	config  *config.SMTPConfig
	from    string
	session Session
}

// NewTransport creates a transport around the given dialer
func NewTransport(dialer Dialer, cfg *config.SMTPConfig, from string, log *logger.Logger) *Transport {
	return &Transport{
		dialer: dialer,
		log:    log,
		config: cfg,
		from:   from,
	}
}

// NewSMTPTransport creates a transport that dials a real SMTP server
func NewSMTPTransport(cfg *config.SMTPConfig, from, fromName string, log *logger.Logger) *Transport {
	return NewTransport(&netDialer{config: cfg}, cfg, formatFrom(from, fromName), log)
}

// Connect establishes an authenticated session, retrying up to
// RetryAttempts times with RetryDelay between attempts. Exhausting the
// retries surfaces ErrTransportUnavailable.
func (t *Transport) Connect() error {
	if t.session != nil {
		return nil
	}

	attempts := t.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && t.config.RetryDelay > 0 {
			time.Sleep(t.config.RetryDelay)
		}

		session, err := t.dialer.Dial()
		if err == nil {
			t.session = session
			return nil
		}
		lastErr = err

		t.log.WithFields(map[string]interface{}{
			"attempt":  attempt,
			"attempts": attempts,
			"error":    err.Error(),
		}).Warn("SMTP connection attempt failed")
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrTransportUnavailable, attempts, lastErr)
}

// Send delivers one message over the current session. If the session
// reports a disconnection mid-send, exactly one fresh session is
// established and the message retried once before the failure is
// surfaced. The batch is never restarted.
func (t *Transport) Send(to, subject, body string, isHTML bool) error {
	if err := t.Connect(); err != nil {
		return err
	}

	message := buildMessage(t.from, to, subject, body, isHTML)

	err := t.session.Send(t.from, to, message)
	if err == nil {
		return nil
	}
	if !isDisconnectError(err) {
		return fmt.Errorf("failed to send to %s: %w", to, err)
	}

	t.log.WithFields(map[string]interface{}{
		"recipient": to,
		"error":     err.Error(),
	}).Warn("SMTP session lost mid-send, reconnecting")

	t.closeSession()
	if err := t.Connect(); err != nil {
		return err
	}

	if err := t.session.Send(t.from, to, message); err != nil {
		return fmt.Errorf("failed to send to %s after reconnect: %w", to, err)
	}
	return nil
}

// Close quits the current session, if any
func (t *Transport) Close() error {
	if t.session == nil {
		return nil
	}
	err := t.session.Close()
	t.session = nil
	return err
}

func (t *Transport) closeSession() {
	if t.session != nil {
		_ = t.session.Close()
		t.session = nil
	}
}

// netDialer dials a real SMTP server. Transport security negotiation
// and authentication happen once per session, not per message.
type netDialer struct {
	config *config.SMTPConfig
}

func (d *netDialer) Dial() (Session, error) {
	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)

	var (
		conn net.Conn
		err  error
	)
	if d.config.UseSSL {
		dialer := &net.Dialer{Timeout: d.config.SendTimeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: d.config.Host})
	} else {
		conn, err = net.DialTimeout("tcp", addr, d.config.SendTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, d.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if d.config.UseTLS && !d.config.UseSSL {
		if err := client.StartTLS(&tls.Config{ServerName: d.config.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if d.config.Username != "" {
		auth := smtp.PlainAuth("", d.config.Username, d.config.Password, d.config.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return &netSession{client: client, conn: conn, timeout: d.config.SendTimeout}, nil
}

// netSession wraps an authenticated smtp.Client
type netSession struct {
	client  *smtp.Client
	conn    net.Conn
	timeout time.Duration
}

func (s *netSession) Send(from, to string, message []byte) error {
	if s.timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	}

	fromAddr := extractAddress(from)
	if err := s.client.Mail(fromAddr); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := s.client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	writer, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data transmission: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish data transmission: %w", err)
	}
	return nil
}

func (s *netSession) Close() error {
	if err := s.client.Quit(); err != nil {
		return s.client.Close()
	}
	return nil
}

// DryRunDialer hands out sessions that log instead of delivering.
// Selected by the dry-run configuration flag.
type DryRunDialer struct {
	Log *logger.Logger
}

// Dial returns a session that records sends without network traffic
func (d *DryRunDialer) Dial() (Session, error) {
	return &dryRunSession{log: d.Log}, nil
}

type dryRunSession struct {
	log *logger.Logger
}

func (s *dryRunSession) Send(from, to string, message []byte) error {
	s.log.WithFields(map[string]interface{}{
		"from":  from,
		"to":    to,
		"bytes": len(message),
	}).Info("Dry run: message not delivered")
	return nil
}

func (s *dryRunSession) Close() error {
	return nil
}

// buildMessage builds the raw RFC 5322 message for a single recipient
func buildMessage(from, to, subject, body string, isHTML bool) []byte {
	var msg bytes.Buffer

	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	if isHTML {
		msg.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	} else {
		msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	}
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	return msg.Bytes()
}

func formatFrom(email, name string) string {
	if name != "" {
		return fmt.Sprintf("%s <%s>", name, email)
	}
	return email
}

func extractAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.LastIndex(from, ">"); end > start {
			return from[start+1 : end]
		}
	}
	return from
}

// isDisconnectError reports whether a send failure looks like a lost
// session rather than a server rejection.
func isDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	disconnectErrors := []string{
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"i/o timeout",
		"eof",
		"connection closed",
	}
	for _, marker := range disconnectErrors {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	// 421 means the server is closing the transmission channel.
	return strings.Contains(errStr, "421 ")
}
