package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/auction-engine/internal/utils"
)

// EmailQueueName is the durable queue holding outgoing emails.
const EmailQueueName = "email.outbox"

// defaultSendTimeout applies when NewAMQPMailer is given no timeout.
const defaultSendTimeout = 3 * time.Second

// AMQPMailer publishes EmailEvents to RabbitMQ.  Each Send dials its own
// connection and closes it before returning.  timeout bounds the whole
// send, so an unreachable broker costs a caller at most that long.
type AMQPMailer struct {
	url     string
	timeout time.Duration
	now     func() time.Time
}

// NewAMQPMailer returns a Mailer publishing to the broker at url.
func NewAMQPMailer(url string, timeout time.Duration) *AMQPMailer {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &AMQPMailer{url: url, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

// Send publishes one email.  Errors are logged and returned so the
// caller can choose to ignore them.  Messages are marked persistent.
func (m *AMQPMailer) Send(ctx context.Context, to, template string, data EmailData) error {
	body, err := json.Marshal(EmailEvent{
		To:       to,
		Template: template,
		Data:     data,
		QueuedAt: m.now().Format(time.RFC3339),
	})
	if err != nil {
		utils.Error("rabbitmq: marshal email failed", map[string]any{"error": err.Error()})
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// The dial deadline also covers the AMQP handshake; a broker that
	// accepts TCP but never answers fails here instead of hanging.
	conn, err := amqp.DialConfig(m.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(m.timeout),
	})
	if err != nil {
		utils.Error("rabbitmq: dial failed", map[string]any{"error": err.Error()})
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		utils.Error("rabbitmq: channel open failed", map[string]any{"error": err.Error()})
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		EmailQueueName, // name
		true,           // durable
		false,          // autoDelete
		false,          // exclusive
		false,          // noWait
		nil,            // args
	); err != nil {
		utils.Error("rabbitmq: queue declare failed", map[string]any{"error": err.Error()})
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",             // default exchange
		EmailQueueName, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		pub,
	); err != nil {
		utils.Error("rabbitmq: publish failed", map[string]any{"error": err.Error(), "template": template})
		return err
	}
	return nil
}
