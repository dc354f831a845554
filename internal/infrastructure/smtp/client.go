package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"notify-service/internal/config"
	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Dialer sends prepared messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Client struct {
	cfg    *config.SMTPConfig
	dialer Dialer
}

var _ service.ChannelAdapter = (*Client)(nil)

// NewClient creates a new SMTP email adapter
func NewClient(cfg *config.SMTPConfig) (*Client, error) {
	if cfg.Host == "" || cfg.FromEmail == "" {
		return nil, fmt.Errorf("%w: smtp host and from address are required", entity.ErrConfiguration)
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	// UseTLS selects STARTTLS (587), otherwise implicit SSL (465)
	d.SSL = !cfg.UseTLS
	d.TLSConfig = &tls.Config{
		ServerName: cfg.Host,
	}

	return NewClientWithDialer(cfg, d), nil
}

// NewClientWithDialer creates an SMTP adapter sending through d
func NewClientWithDialer(cfg *config.SMTPConfig, d Dialer) *Client {
	return &Client{cfg: cfg, dialer: d}
}

func (c *Client) Channel() entity.Channel {
	return entity.ChannelEmail
}

// Send sends an HTML email. SMTP has no delivery receipts, so a successful
// handoff leaves the record at sent.
func (c *Client) Send(ctx context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult {
	if err := ctx.Err(); err != nil {
		return entity.Failure(entity.ErrorKindTransient, err.Error())
	}

	messageID := uuid.New().String()

	m := gomail.NewMessage()
	if c.cfg.FromName != "" {
		m.SetAddressHeader("From", c.cfg.FromEmail, c.cfg.FromName)
	} else {
		m.SetHeader("From", c.cfg.FromEmail)
	}
	m.SetHeader("To", dest.Address)
	m.SetHeader("Subject", title)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, domainOf(c.cfg.FromEmail)))
	if id, ok := extra["notificationId"].(string); ok && id != "" {
		m.SetHeader("X-Notification-ID", id)
	}
	m.SetBody("text/html", body)

	if err := c.dialer.DialAndSend(m); err != nil {
		return entity.Failure(Classify(err), fmt.Sprintf("failed to send email: %v", err))
	}

	return entity.SendResult{
		Success:           true,
		ProviderMessageID: messageID,
		ProviderStatus:    "accepted",
		Metadata:          map[string]any{entity.MetadataRecipient: dest.Address},
	}
}

var replyCode = regexp.MustCompile(`\b([2-5][0-9]{2})[ -]`)

// Classify maps an SMTP error onto an error kind using the server reply code
func Classify(err error) entity.ErrorKind {
	if err == nil {
		return entity.ErrorKindNone
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return entity.ErrorKindTransient
	}

	msg := err.Error()
	match := replyCode.FindStringSubmatch(msg)
	if match == nil {
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout") || strings.Contains(msg, "EOF") {
			return entity.ErrorKindTransient
		}
		return entity.ErrorKindUnknown
	}

	code, _ := strconv.Atoi(match[1])
	switch {
	case code == 530 || code == 534 || code == 535:
		return entity.ErrorKindConfiguration
	case code == 550 || code == 551 || code == 553 || code == 501:
		return entity.ErrorKindPermanentInvalidTarget
	case code >= 400 && code < 500:
		return entity.ErrorKindTransient
	default:
		return entity.ErrorKindUnknown
	}
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
