package smtp

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"pulsar-mailer/shared/config"
	"pulsar-mailer/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession records sends and fails according to a script of errors,
// one per Send call (nil means success).
type stubSession struct {
	sendErrs []error
	sends    int
	closed   bool
	messages [][]byte
}

func (s *stubSession) Send(from, to string, message []byte) error {
	s.messages = append(s.messages, message)
	var err error
	if s.sends < len(s.sendErrs) {
		err = s.sendErrs[s.sends]
	}
	s.sends++
	return err
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

// stubDialer hands out scripted sessions, failing the first dialErrs dials
type stubDialer struct {
	dialErrs int
	dials    int
	sessions []*stubSession
}

func (d *stubDialer) Dial() (Session, error) {
	d.dials++
	if d.dials <= d.dialErrs {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	session := &stubSession{}
	if n := d.dials - d.dialErrs; n <= len(d.sessions) {
		session = d.sessions[n-1]
	}
	return session, nil
}

func testConfig(attempts int) *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:          "smtp.example.com",
		Port:          587,
		RetryAttempts: attempts,
		RetryDelay:    0,
	}
}

func TestConnectSucceedsAfterTransientFailures(t *testing.T) {
	// Two refused dials, then a working session: three attempts total.
	dialer := &stubDialer{dialErrs: 2}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	err := transport.Connect()

	require.NoError(t, err)
	assert.Equal(t, 3, dialer.dials)
}

func TestConnectExhaustsRetries(t *testing.T) {
	dialer := &stubDialer{dialErrs: 100}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	err := transport.Connect()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, 3, dialer.dials)
}

func TestConnectReusesSession(t *testing.T) {
	dialer := &stubDialer{}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	require.NoError(t, transport.Connect())
	require.NoError(t, transport.Connect())

	assert.Equal(t, 1, dialer.dials)
}

func TestSendDeliversMessage(t *testing.T) {
	session := &stubSession{}
	dialer := &stubDialer{sessions: []*stubSession{session}}
	transport := NewTransport(dialer, testConfig(1), "sender@example.com", logger.Discard())

	err := transport.Send("maria@example.com", "Olá", "corpo", false)

	require.NoError(t, err)
	require.Len(t, session.messages, 1)
	message := string(session.messages[0])
	assert.Contains(t, message, "To: maria@example.com\r\n")
	assert.Contains(t, message, "Subject: Olá\r\n")
	assert.Contains(t, message, "Content-Type: text/plain; charset=utf-8\r\n")
	assert.Contains(t, message, "corpo")
}

func TestSendHTMLContentType(t *testing.T) {
	session := &stubSession{}
	dialer := &stubDialer{sessions: []*stubSession{session}}
	transport := NewTransport(dialer, testConfig(1), "sender@example.com", logger.Discard())

	require.NoError(t, transport.Send("maria@example.com", "Olá", "<p>corpo</p>", true))

	assert.Contains(t, string(session.messages[0]), "Content-Type: text/html; charset=utf-8\r\n")
}

func TestSendRetriesOnceAfterDisconnect(t *testing.T) {
	dead := &stubSession{sendErrs: []error{io.EOF}}
	fresh := &stubSession{}
	dialer := &stubDialer{sessions: []*stubSession{dead, fresh}}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	err := transport.Send("maria@example.com", "Olá", "corpo", false)

	require.NoError(t, err)
	assert.Equal(t, 1, dead.sends)
	assert.True(t, dead.closed)
	assert.Equal(t, 1, fresh.sends)
	assert.Equal(t, 2, dialer.dials)
}

func TestSendDisconnectRetryFailureSurfaces(t *testing.T) {
	dead := &stubSession{sendErrs: []error{io.EOF}}
	alsoDead := &stubSession{sendErrs: []error{errors.New("550 mailbox unavailable")}}
	dialer := &stubDialer{sessions: []*stubSession{dead, alsoDead}}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	err := transport.Send("maria@example.com", "Olá", "corpo", false)

	// Exactly one reconnect retry; its failure is final.
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, 1, alsoDead.sends)
}

func TestSendServerRejectionDoesNotReconnect(t *testing.T) {
	session := &stubSession{sendErrs: []error{errors.New("550 mailbox unavailable")}}
	dialer := &stubDialer{sessions: []*stubSession{session}}
	transport := NewTransport(dialer, testConfig(3), "sender@example.com", logger.Discard())

	err := transport.Send("maria@example.com", "Olá", "corpo", false)

	require.Error(t, err)
	assert.Equal(t, 1, dialer.dials)
	assert.False(t, session.closed)
}

func TestSendReconnectExhaustionIsTransportUnavailable(t *testing.T) {
	dead := &stubSession{sendErrs: []error{io.EOF}}
	dialer := &stubDialer{sessions: []*stubSession{dead}}
	transport := NewTransport(dialer, testConfig(2), "sender@example.com", logger.Discard())

	require.NoError(t, transport.Connect())
	// Every dial after the first one fails.
	dialer.dialErrs = 100

	err := transport.Send("maria@example.com", "Olá", "corpo", false)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestCloseQuitsSession(t *testing.T) {
	session := &stubSession{}
	dialer := &stubDialer{sessions: []*stubSession{session}}
	transport := NewTransport(dialer, testConfig(1), "sender@example.com", logger.Discard())

	require.NoError(t, transport.Connect())
	require.NoError(t, transport.Close())

	assert.True(t, session.closed)
	assert.NoError(t, transport.Close())
}

func TestFormatFrom(t *testing.T) {
	assert.Equal(t, "Equipe <no-reply@example.com>", formatFrom("no-reply@example.com", "Equipe"))
	assert.Equal(t, "no-reply@example.com", formatFrom("no-reply@example.com", ""))
}

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "no-reply@example.com", extractAddress("Equipe <no-reply@example.com>"))
	assert.Equal(t, "no-reply@example.com", extractAddress("no-reply@example.com"))
}

func TestIsDisconnectError(t *testing.T) {
	assert.True(t, isDisconnectError(io.EOF))
	assert.True(t, isDisconnectError(errors.New("write: broken pipe")))
	assert.True(t, isDisconnectError(errors.New("read: connection reset by peer")))
	assert.True(t, isDisconnectError(errors.New("421 service not available, closing transmission channel")))
	assert.False(t, isDisconnectError(nil))
	assert.False(t, isDisconnectError(errors.New("550 mailbox unavailable")))
}
