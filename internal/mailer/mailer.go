// Package mailer delivers rendered reports over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

const defaultTimeout = 30 * time.Second

// Config holds SMTP settings
type Config struct {
	Host        string        `toml:"host"`
	Port        int           `toml:"port"`
	Username    string        `toml:"username"`
	Password    string        `toml:"password"`
	TLS         string        `toml:"tls"` // opportunistic, mandatory, or none
	FromName    string        `toml:"from_name"`
	FromAddress string        `toml:"from_address"`
	Timeout     time.Duration `toml:"timeout"`
}

// TLSPolicy maps the configured TLS mode to go-mail's policy
func (c Config) TLSPolicy() (mail.TLSPolicy, error) {
	switch strings.ToLower(c.TLS) {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return 0, fmt.Errorf("invalid tls mode %q (must be opportunistic, mandatory, or none)", c.TLS)
	}
}

// SMTP implements maintenance.Mailer
type SMTP struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and creates an SMTP mailer
func New(cfg Config, logger *slog.Logger) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mailer: host is required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("mailer: from address is required")
	}
	if _, err := cfg.TLSPolicy(); err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, logger: logger}, nil
}

// Send delivers msg as an HTML email. ctx bounds the whole SMTP exchange.
func (s *SMTP) Send(ctx context.Context, msg maintenance.Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := s.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send report to %s: %w", msg.To, err)
	}

	s.logger.Info("report delivered", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *SMTP) buildMessage(msg maintenance.Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("mailer: no recipient")
	}

	m := mail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", s.cfg.FromAddress, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

func (s *SMTP) client() (*mail.Client, error) {
	policy, _ := s.cfg.TLSPolicy()

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}
