package clients

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/wneessen/go-mail"
)

// NotificationSender delivers operator notifications.
type NotificationSender interface {
	Send(ctx context.Context, n *models.Notification) error
}

// SMTPMailer implements NotificationSender over SMTP.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *logging.LoggerV2
}

var _ NotificationSender = (*SMTPMailer)(nil)

// NewSMTPMailer creates a mailer. A new connection is dialled per message.
func NewSMTPMailer(cfg config.SMTPConfig, logger *logging.LoggerV2) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// Send delivers n as a plain-text mail.
func (m *SMTPMailer) Send(ctx context.Context, n *models.Notification) error {
	m.logger.Debug("Sending notification", logging.Fields{
		"to":      strings.Join(n.To, ","),
		"subject": n.Subject,
	})

	msg, err := m.buildMessage(n)
	if err != nil {
		return &apperrors.NotificationError{Subject: n.Subject, Err: err}
	}

	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return &apperrors.NotificationError{Subject: n.Subject, Err: err}
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error("Failed to send notification", logging.Fields{
			"subject": n.Subject,
			"error":   err.Error(),
		})
		return &apperrors.NotificationError{Subject: n.Subject, Err: err}
	}

	m.logger.Info("Notification sent", logging.Fields{"subject": n.Subject})
	return nil
}

func (m *SMTPMailer) buildMessage(n *models.Notification) (*mail.Msg, error) {
	if len(n.To) == 0 {
		return nil, errors.New("notification has no recipients")
	}

	msg := mail.NewMsg()
	from := n.From
	if from == "" {
		from = m.cfg.From
	}
	if err := msg.From(from); err != nil {
		return nil, err
	}
	if err := msg.To(n.To...); err != nil {
		return nil, err
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)
	return msg, nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(m.cfg.TLSPolicy)),
	}
	if m.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.cfg.Timeout))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

// LogMailer writes notifications to the log. It stands in when SMTP is not configured.
type LogMailer struct {
	logger *logging.LoggerV2
}

var _ NotificationSender = (*LogMailer)(nil)

func NewLogMailer(logger *logging.LoggerV2) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, n *models.Notification) error {
	m.logger.Info("Notification not delivered, SMTP disabled", logging.Fields{
		"subject": n.Subject,
		"body":    n.Body,
	})
	return nil
}

// MockMailer records notifications instead of sending them.
type MockMailer struct {
	mu   sync.Mutex
	sent []*models.Notification
	err  error
}

var _ NotificationSender = (*MockMailer)(nil)

// NewMockMailer creates a mock mailer. A non-nil err is returned from every Send.
func NewMockMailer(err error) *MockMailer {
	return &MockMailer{err: err}
}

func (m *MockMailer) Send(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	if m.err != nil {
		return &apperrors.NotificationError{Subject: n.Subject, Err: m.err}
	}
	return nil
}

// Sent returns every notification passed to Send, including failed ones.
func (m *MockMailer) Sent() []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Notification(nil), m.sent...)
}
