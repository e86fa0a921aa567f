package logging

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mailer delivers a fully formed RFC 5322 message.
type Mailer interface {
	Send(from string, to []string, msg []byte) error
}

// DefaultSMTPTimeout bounds a single delivery attempt of SMTPMailer.
const DefaultSMTPTimeout = 10 * time.Second

const (
	mailQueueSize   = 64
	mailSyncTimeout = 30 * time.Second
)

// SMTPMailer sends mail through an unauthenticated SMTP relay.
type SMTPMailer struct {
	Addr    string
	Timeout time.Duration
}

// NewSMTPMailer returns a mailer for server, defaulting to port 25.
func NewSMTPMailer(server string) *SMTPMailer {
	addr := server
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(server, "25")
	}
	return &SMTPMailer{Addr: addr, Timeout: DefaultSMTPTimeout}
}

// Send implements Mailer. The whole exchange, from dial to QUIT, must finish
// within Timeout.
func (m *SMTPMailer) Send(from string, to []string, msg []byte) error {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}

	conn, err := net.DialTimeout("tcp", m.Addr, timeout)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	host, _, _ := net.SplitHostPort(m.Addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// WithErrorMail tees error-and-above entries of logger into mail sent to
// recipient. Mail is handed to a background sender so a slow relay never
// blocks the caller; entries are dropped when the queue is full and delivery
// failures are ignored. Sync on the returned logger waits for queued mail.
func WithErrorMail(logger *zap.Logger, mailer Mailer, recipient string) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newMailCore(mailer, recipient))
	}))
}

type mailJob struct {
	msg  []byte
	done chan struct{}
}

// mailQueue is shared by a mailCore and every core derived from it through
// With.
type mailQueue struct {
	mailer    Mailer
	recipient string
	jobs      chan mailJob
}

func newMailQueue(mailer Mailer, recipient string) *mailQueue {
	q := &mailQueue{
		mailer:    mailer,
		recipient: recipient,
		jobs:      make(chan mailJob, mailQueueSize),
	}
	go q.run()
	return q
}

func (q *mailQueue) run() {
	for job := range q.jobs {
		if job.done != nil {
			close(job.done)
			continue
		}
		_ = q.mailer.Send(q.recipient, []string{q.recipient}, job.msg)
	}
}

func (q *mailQueue) enqueue(msg []byte) {
	select {
	case q.jobs <- mailJob{msg: msg}:
	default:
	}
}

// flush waits until every message queued before the call has been handed to
// the mailer.
func (q *mailQueue) flush(timeout time.Duration) error {
	done := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.jobs <- mailJob{done: done}:
	case <-timer.C:
		return errMailTimeout
	}
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errMailTimeout
	}
}

var errMailTimeout = errors.New("timed out waiting for error mail delivery")

type mailCore struct {
	queue       *mailQueue
	enc         zapcore.Encoder
	syncTimeout time.Duration
}

func newMailCore(mailer Mailer, recipient string) *mailCore {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return &mailCore{
		queue:       newMailQueue(mailer, recipient),
		enc:         zapcore.NewConsoleEncoder(encCfg),
		syncTimeout: mailSyncTimeout,
	}
}

func (c *mailCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.ErrorLevel
}

func (c *mailCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &mailCore{queue: c.queue, enc: c.enc.Clone(), syncTimeout: c.syncTimeout}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *mailCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *mailCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return nil
	}
	defer buf.Free()

	c.queue.enqueue(composeMessage(c.queue.recipient, ent, buf.Bytes()))
	if ent.Level > zapcore.ErrorLevel {
		// The process may be about to exit.
		_ = c.Sync()
	}
	return nil
}

func (c *mailCore) Sync() error {
	return c.queue.flush(c.syncTimeout)
}

func composeMessage(recipient string, ent zapcore.Entry, body []byte) []byte {
	subject := strings.ReplaceAll(ent.Message, "\n", " ")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", recipient)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: [anitya] %s: %s\r\n", ent.Level.CapitalString(), subject)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.Write(body)
	return msg.Bytes()
}
