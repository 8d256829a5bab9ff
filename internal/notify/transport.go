package notify

import (
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPTransport delivers mail through an SMTP relay.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport creates an SMTP transport. Credentials are optional.
func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sendMail: smtp.SendMail,
	}
}

// Deliver sends msg as a single-part HTML email.
func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	var auth smtp.Auth
	if t.username != "" {
		auth = smtp.PlainAuth("", t.username, t.password, t.host)
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	return t.sendMail(addr, auth, from.Address, []string{to.Address}, buildMIME(msg))
}

func buildMIME(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// QueuePublisher is the subset of the RabbitMQ producer used for mail.
type QueuePublisher interface {
	PublishToQueue(ctx context.Context, queue string, body interface{}) error
}

// QueueTransport hands messages to a mail worker through a durable queue.
type QueueTransport struct {
	publisher QueuePublisher
	queue     string
}

// NewQueueTransport creates a queue-backed transport.
func NewQueueTransport(publisher QueuePublisher, queue string) *QueueTransport {
	return &QueueTransport{publisher: publisher, queue: queue}
}

// Deliver enqueues msg.
func (t *QueueTransport) Deliver(ctx context.Context, msg Message) error {
	return t.publisher.PublishToQueue(ctx, t.queue, msg)
}
