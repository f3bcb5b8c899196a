package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/auction-engine/internal/utils"
)

// Consumer drains the email queue.  SMTP delivery is an external
// collaborator; rendered mails are appended to logDir/email.log.
type Consumer struct {
	url    string
	logDir string
}

func NewConsumer(url, logDir string) *Consumer {
	if logDir == "" {
		logDir = "logs"
	}
	return &Consumer{url: url, logDir: logDir}
}

// Run connects to RabbitMQ and consumes until ctx is cancelled,
// reconnecting with exponential backoff.  Processing errors are logged
// and the offending message is rejected so the loop keeps running.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			utils.Warn("email-consumer: failed to dial broker", map[string]any{"error": err.Error(), "retry_in": backoff.String()})
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		utils.Warn("email-consumer: consume loop ended, reconnecting", map[string]any{"error": fmt.Sprint(err)})
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		utils.Warn("email-consumer: set QoS failed", map[string]any{"error": err.Error()})
	}
	if _, err := ch.QueueDeclare(EmailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(EmailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				utils.Error("email-consumer: handle message failed", map[string]any{"error": err.Error()})
				_ = d.Nack(false, false) // do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev EmailEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	subject, text, err := Render(ev)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.logDir, "email.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] to=%s | template=%s | subject=%q | body=%q\n", ev.QueuedAt, ev.To, ev.Template, subject, text)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Render produces the subject and plain text body of an email.
func Render(ev EmailEvent) (subject, body string, err error) {
	d := ev.Data
	price := humanize.FormatFloat("#,###.##", d.FinalPrice.InexactFloat64())
	name := d.RecipientName
	if name == "" {
		name = "there"
	}
	switch ev.Template {
	case TemplateAuctionWon:
		subject = fmt.Sprintf("You won %q", d.ProductTitle)
		body = fmt.Sprintf("Hi %s, you won %q for %s. Order #%d is waiting for payment.", name, d.ProductTitle, price, d.OrderID)
	case TemplateAuctionSold:
		subject = fmt.Sprintf("%q has been sold", d.ProductTitle)
		body = fmt.Sprintf("Hi %s, your listing %q sold for %s. Order #%d was created.", name, d.ProductTitle, price, d.OrderID)
	case TemplateAuctionNoWinner:
		subject = fmt.Sprintf("%q ended without bids", d.ProductTitle)
		body = fmt.Sprintf("Hi %s, your listing %q ended on %s without a winner.", name, d.ProductTitle, d.EndedAt)
	default:
		return "", "", fmt.Errorf("unknown template %q", ev.Template)
	}
	return subject, body, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
