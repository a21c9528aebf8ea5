package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/tracing"
)

type TransportConfig struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	LogoutTimeout  time.Duration
	BatchSize      int
	MaxPerFetch    int
	// SkipVerifyHosts may dial without certificate verification. Every other host verifies.
	SkipVerifyHosts []string
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:    30 * time.Second,
		CommandTimeout: time.Minute,
		LogoutTimeout:  5 * time.Second,
		BatchSize:      20,
		MaxPerFetch:    200,
	}
}

type IMAPTransport struct {
	cfg TransportConfig
	log logger.Logger
}

func NewIMAPTransport(cfg TransportConfig, log logger.Logger) *IMAPTransport {
	def := DefaultTransportConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = def.LogoutTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxPerFetch <= 0 {
		cfg.MaxPerFetch = def.MaxPerFetch
	}
	return &IMAPTransport{cfg: cfg, log: log}
}

// EndpointFromConfig builds the mailbox endpoint, resolving certificate
// verification from the allow-list.
func EndpointFromConfig(cfg *config.IMAPConfig) interfaces.MailEndpoint {
	return interfaces.MailEndpoint{
		Host:       cfg.Host,
		Port:       cfg.Port,
		TLS:        cfg.TLS,
		SkipVerify: hostAllowed(cfg.Host, cfg.SkipVerifyHost),
	}
}

func hostAllowed(host string, allowList []string) bool {
	for _, allowed := range allowList {
		if allowed = strings.TrimSpace(allowed); allowed != "" && strings.EqualFold(allowed, host) {
			return true
		}
	}
	return false
}

func (t *IMAPTransport) Connect(ctx context.Context, credentials interfaces.MailCredentials, endpoint interfaces.MailEndpoint) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPTransport.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("server", endpoint.Host)
	span.SetTag("port", endpoint.Port)
	span.SetTag("tls", endpoint.TLS)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	insecure := endpoint.SkipVerify && hostAllowed(endpoint.Host, t.cfg.SkipVerifyHosts)
	if endpoint.SkipVerify && !insecure {
		t.log.Warnf("Ignoring skip-verify for %s, host is not on the allow-list", endpoint.Host)
	}
	if insecure {
		t.log.Warnf("Dialing %s without TLS certificate verification", endpoint.Address())
	}

	tlsConfig := &tls.Config{
		ServerName:         endpoint.Host,
		InsecureSkipVerify: insecure, // #nosec G402 -- allow-listed hosts only
		MinVersion:         tls.VersionTLS12,
	}
	dialer := &net.Dialer{
		Timeout:   t.cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	if endpoint.TLS {
		c, err = client.DialWithDialerTLS(dialer, endpoint.Address(), tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, endpoint.Address())
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, &ierrors.TransportError{Op: "dial " + endpoint.Address(), Err: err}
	}

	c.Timeout = t.cfg.CommandTimeout

	if !endpoint.TLS {
		if ok, err := c.SupportStartTLS(); err != nil {
			_ = c.Logout()
			return nil, &ierrors.TransportError{Op: "capability", Err: err}
		} else if ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				tracing.TraceErr(span, err)
				return nil, &ierrors.TransportError{Op: "starttls", Err: err}
			}
		} else {
			t.log.Warnf("Server %s does not offer STARTTLS, continuing in plaintext", endpoint.Address())
		}
	}

	caps, err := c.Capability()
	if err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, &ierrors.TransportError{Op: "capability", Err: err}
	}
	span.SetTag("server.capabilities", fmt.Sprintf("%v", caps))

	if err := c.Login(credentials.Username, credentials.Password); err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, classifyLoginError(endpoint.Host, credentials.Username, err)
	}

	t.log.Infof("Connected to %s as %s", endpoint.Address(), credentials.Username)
	span.SetTag("success", true)

	return &imapSession{
		c:       c,
		mailbox: credentials.Username,
		cfg:     t.cfg,
		log:     t.log,
		cache:   map[interfaces.MessageRef][]interfaces.AttachmentPart{},
	}, nil
}

// classifyLoginError separates a dropped connection during LOGIN from rejected credentials.
func classifyLoginError(host, user string, err error) error {
	if errors.Is(err, client.ErrLoginDisabled) {
		return &ierrors.AuthenticationError{Host: host, User: user, Err: err}
	}
	if isConnectionError(err) {
		return &ierrors.TransportError{Op: "login", Err: err}
	}
	return &ierrors.AuthenticationError{Host: host, User: user, Err: err}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// transportErr wraps connection level failures so the poller reconnects; server
// rejections of a single command stay plain errors.
func transportErr(op string, err error) error {
	if isConnectionError(err) {
		return &ierrors.TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
