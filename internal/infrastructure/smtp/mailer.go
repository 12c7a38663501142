package smtp

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math/rand"
	"net/url"
	"time"

	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const otpSubject = "Your verification code"

// sender is the part of *mail.Client the mailer uses.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type mailMetrics interface {
	MailAttempt(result string)
}

// Mailer delivers transactional email over SMTP with bounded retries.
type Mailer struct {
	cfg     config.MailConfig
	client  sender
	logger  *logging.Service
	metrics mailMetrics
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() time.Duration
}

func NewMailer(cfg config.MailConfig, logger *logging.Service, metrics mailMetrics) (*Mailer, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM is required: %w", domain.ErrConfig)
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.SendTimeout),
	}
	switch cfg.Encryption {
	case "tls", "starttls":
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "ssl":
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	logger.Info("mail client configured",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("encryption", cfg.Encryption))
	return newMailer(cfg, client, logger, metrics), nil
}

func newMailer(cfg config.MailConfig, client sender, logger *logging.Service, metrics mailMetrics) *Mailer {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Mailer{
		cfg:     cfg,
		client:  client,
		logger:  logger.Named("mailer"),
		metrics: metrics,
		sleep:   sleepCtx,
		jitter:  func() time.Duration { return time.Duration(rand.Int63n(int64(100 * time.Millisecond))) },
	}
}

// SendEmail delivers a multipart message, retrying transient failures with
// exponential backoff. Exhausted retries yield domain.ErrUpstream.
func (m *Mailer) SendEmail(ctx context.Context, to, subject, text, html string) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.Brand, m.cfg.FromAddress); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w: %w", err, domain.ErrBadRequest)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	if html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.backoff(attempt-1)); err != nil {
				return fmt.Errorf("send email aborted: %w", err)
			}
		}
		lastErr = m.send(ctx, msg)
		if lastErr == nil {
			m.metrics.MailAttempt("ok")
			m.logger.Info("email sent", zap.Int("attempt", attempt))
			return nil
		}
		m.metrics.MailAttempt("error")
		m.logger.Warn("email attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxRetries),
			zap.Error(lastErr))
		if ctx.Err() != nil {
			break
		}
	}
	m.logger.Error("email delivery failed", zap.Error(lastErr))
	return fmt.Errorf("send email after %d attempts: %w: %w", m.cfg.MaxRetries, lastErr, domain.ErrUpstream)
}

// SendOTP renders and delivers the verification-code email.
func (m *Mailer) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	data := otpEmailData{
		Brand:   m.cfg.Brand,
		Code:    code,
		Minutes: int(ttl.Minutes()),
		Link:    m.verifyLink(code),
	}
	var html bytes.Buffer
	if err := otpHTML.Execute(&html, data); err != nil {
		return fmt.Errorf("render otp email: %w", err)
	}
	text := fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", data.Brand, data.Code, data.Minutes)
	if data.Link != "" {
		text += "\n\nOr open " + data.Link
	}
	return m.SendEmail(ctx, to, otpSubject, text, html.String())
}

func (m *Mailer) send(ctx context.Context, msg *mail.Msg) error {
	if m.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.SendTimeout)
		defer cancel()
	}
	return m.client.DialAndSendWithContext(ctx, msg)
}

// backoff returns the wait after the n-th failed attempt: base * 2^(n-1) plus jitter.
func (m *Mailer) backoff(n int) time.Duration {
	d := m.cfg.RetryDelay << (n - 1)
	return d + m.jitter()
}

func (m *Mailer) verifyLink(code string) string {
	if m.cfg.Origin == "" {
		return ""
	}
	u, err := url.Parse(m.cfg.Origin)
	if err != nil {
		return ""
	}
	u = u.JoinPath(m.cfg.VerifyPath)
	u.RawQuery = url.Values{"otp": {code}}.Encode()
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) MailAttempt(string) {}

type otpEmailData struct {
	Brand   string
	Code    string
	Minutes int
	Link    string
}

var otpHTML = template.Must(template.New("otp").Parse(`<!doctype html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;background:#f4f7f5;padding:24px">
  <div style="max-width:480px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px">
    <h2 style="color:#1b5e20;margin-top:0">{{.Brand}}</h2>
    <p>Use this code to verify your email address:</p>
    <p style="font-size:32px;letter-spacing:8px;font-weight:bold;margin:24px 0">{{.Code}}</p>
    <p>The code expires in {{.Minutes}} minutes.</p>
    {{if .Link}}<p><a href="{{.Link}}" style="color:#2e7d32">Verify my account</a></p>{{end}}
    <p style="color:#777;font-size:12px">If you did not request this, you can ignore this email.</p>
  </div>
</body>
</html>`))
