// Package delivery hands one-time codes to the user over an out-of-band
// channel.
package delivery

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// Message is what a channel needs to reach the user.
type Message struct {
	UserID    string
	Email     string
	Channel   models.Channel
	Code      string
	ExpiresAt time.Time
}

// Channel delivers a code. Implementations must not retain the code.
type Channel interface {
	Deliver(ctx context.Context, msg Message) error
}

// New picks the channel named in cfg.DeliveryChannel. Codes are only
// written to the log when that is asked for by name; anything else goes
// out over SMTP.
func New(cfg *config.Config, logger logging.Logger) Channel {
	switch cfg.DeliveryChannel {
	case config.DeliveryLog:
		return &LogChannel{logger: logger.With("module", "delivery")}
	case config.DeliveryNoop:
		return NoopChannel{}
	default:
		return &SMTPChannel{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.SMTPFrom}
	}
}

// LogChannel writes the code to the diagnostic log. Development only.
type LogChannel struct {
	logger logging.Logger
}

func NewLogChannel(logger logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Deliver(ctx context.Context, msg Message) error {
	c.logger.Warn(ctx, "one-time code issued (log delivery, do not use in production)",
		"channel", string(msg.Channel),
		"email", logging.MaskEmail(msg.Email),
		"code", msg.Code,
		"expires_at", msg.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// NoopChannel drops every message.
type NoopChannel struct{}

func (NoopChannel) Deliver(context.Context, Message) error { return nil }

// sendMail is a seam for testing smtp.SendMail.
var sendMail = smtp.SendMail

// SMTPChannel mails the code through a relay without authentication.
type SMTPChannel struct {
	host string
	port int
	from string
}

func NewSMTPChannel(host string, port int, from string) *SMTPChannel {
	return &SMTPChannel{host: host, port: port, from: from}
}

func (c *SMTPChannel) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\nYour code is %s. It expires at %s.\r\n",
		c.from, msg.Email, subject(msg.Channel), msg.Code, msg.ExpiresAt.UTC().Format(time.RFC1123))

	if err := sendMail(addr, nil, c.from, []string{msg.Email}, []byte(body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func subject(ch models.Channel) string {
	if ch == models.ChannelReset {
		return "Password reset code"
	}
	return "Your login code"
}
