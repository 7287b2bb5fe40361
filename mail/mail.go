// Package mail 通知服务的邮件发送协作者
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/MathisDulieu/Booking-sub000/logging"
)

// Email 一封待发送的邮件
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer 邮件发送接口
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer 只记录日志，不实际发送
type LogMailer struct {
	logger logging.Logger
}

// NewLogMailer 创建日志发送器
func NewLogMailer(logger logging.Logger) *LogMailer {
	if logger == nil {
		logger = logging.ComponentLogger("mail")
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.logger.Info(ctx, "email sent",
		logging.String("to", email.To),
		logging.String("subject", email.Subject),
		logging.Int("body_bytes", len(email.Body)),
	)
	return nil
}

// MemoryMailer 记录所有邮件，供测试断言
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

// FailWith 之后的发送返回 err
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryMailer) Send(ctx context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

// Sent 已发送邮件的副本
func (m *MemoryMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}

// SendFunc 与 smtp.SendMail 签名一致
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer 通过 SMTP 中继发送
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send SendFunc
	now  func() time.Time
}

// SMTPOption SMTP 发送器选项
type SMTPOption func(*SMTPMailer)

// WithPlainAuth 使用 PLAIN 认证
func WithPlainAuth(username, password, host string) SMTPOption {
	return func(m *SMTPMailer) { m.auth = smtp.PlainAuth("", username, password, host) }
}

// WithSendFunc 替换底层发送函数
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(m *SMTPMailer) { m.send = fn }
}

// NewSMTPMailer 创建 SMTP 发送器，addr 形如 host:port
func NewSMTPMailer(addr, from string, opts ...SMTPOption) *SMTPMailer {
	m := &SMTPMailer{addr: addr, from: from, send: smtp.SendMail, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(email.To+email.Subject, "\r\n") {
		return fmt.Errorf("mail: header injection in recipient or subject")
	}
	if err := m.send(m.addr, m.auth, m.from, []string{email.To}, m.compose(email)); err != nil {
		return fmt.Errorf("mail: send to %s: %w", email.To, err)
	}
	return nil
}

func (m *SMTPMailer) compose(email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("Date: " + m.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return []byte(b.String())
}
