// Package contact implements the contact form pipeline: spam checks,
// per-IP throttling, and email dispatch.
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/config"
)

const maxMessageLength = 10000

// Submission is one contact form post.
type Submission struct {
	Name    string
	Email   string
	Message string
	IP      string

	// Honeypot is a hidden field; humans leave it empty.
	Honeypot string

	// StartedAt is the client-reported form-start time in epoch ms,
	// used to reject instant submissions.
	StartedAt string
}

// Result mirrors the JSON outcome surfaced to the form.
type Result struct {
	OK    bool
	Error string
}

// Mailer delivers a composed contact email.
type Mailer interface {
	Send(ctx context.Context, subject, body, replyTo string) error
}

// SMTPMailer implements Mailer over plain SMTP with STARTTLS.
type SMTPMailer struct {
	cfg config.ContactConfig
}

// NewSMTPMailer creates an SMTP-backed mailer.
func NewSMTPMailer(cfg config.ContactConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers a composed contact email.
func (m *SMTPMailer) Send(_ context.Context, subject, body, replyTo string) error {
	to := m.cfg.ToAddress
	if to == "" {
		to = m.cfg.SMTPUser
	}

	msg := strings.Join([]string{
		"From: Contact Form <" + m.cfg.SMTPUser + ">",
		"To: " + to,
		"Reply-To: " + replyTo,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	auth := smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	if err := smtp.SendMail(addr, auth, m.cfg.SMTPUser, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Service validates and dispatches contact submissions.
type Service struct {
	cfg    config.ContactConfig
	mailer Mailer

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewService creates a contact service.
func NewService(cfg config.ContactConfig, mailer Mailer) *Service {
	return &Service{
		cfg:    cfg,
		mailer: mailer,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// tooMany reports whether the IP has exhausted its rolling window.
func (s *Service) tooMany(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.Window)
	recent := s.hits[ip][:0]
	for _, hit := range s.hits[ip] {
		if hit.After(cutoff) {
			recent = append(recent, hit)
		}
	}
	s.hits[ip] = recent

	return len(recent) >= s.cfg.MaxPerWindow
}

func (s *Service) record(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[ip] = append(s.hits[ip], s.now())
}

// filledTooFast reports whether the form was submitted faster than a
// human plausibly could.
func (s *Service) filledTooFast(startedAt string) bool {
	if startedAt == "" {
		return false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(startedAt), 10, 64)
	if err != nil {
		return false
	}
	started := time.UnixMilli(ms)
	return s.now().Sub(started) < s.cfg.MinFillTime
}

// Submit validates a submission and dispatches the email.
// Bot signals (honeypot, instant fill) pretend success so automated
// senders are not tipped off.
func (s *Service) Submit(ctx context.Context, sub Submission) Result {
	if strings.TrimSpace(sub.Honeypot) != "" {
		slog.Info("contact honeypot tripped", "ip", sub.IP)
		return Result{OK: true}
	}
	if s.filledTooFast(sub.StartedAt) {
		slog.Info("contact form filled too fast", "ip", sub.IP)
		return Result{OK: true}
	}

	ip := sub.IP
	if ip == "" {
		ip = "unknown"
	}

	if s.tooMany(ip) {
		return Result{Error: "Too many messages from this IP. Try again later."}
	}

	name := strings.TrimSpace(sub.Name)
	email := strings.TrimSpace(sub.Email)
	message := strings.TrimSpace(sub.Message)
	if name == "" || email == "" || message == "" {
		return Result{Error: "Please fill in all required fields."}
	}
	if len(message) > maxMessageLength {
		return Result{Error: "Message is too long."}
	}

	subject := fmt.Sprintf("New message from %s (Contact Form)", name)
	body := fmt.Sprintf("Name: %s\nEmail: %s\nIP: %s\n\nMessage:\n%s\n", name, email, ip, message)

	if err := s.mailer.Send(ctx, subject, body, email); err != nil {
		slog.Error("contact email send failed", "error", err)
		return Result{Error: "Failed to send your message. Please try again later."}
	}

	s.record(ip)
	return Result{OK: true}
}
