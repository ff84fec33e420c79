package contact

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/config"
)

type fakeMailer struct {
	sent    int
	lastSub string
	err     error
}

func (f *fakeMailer) Send(_ context.Context, subject, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	f.lastSub = subject
	return nil
}

func testCfg() config.ContactConfig {
	return config.ContactConfig{
		Window:       time.Hour,
		MaxPerWindow: 2,
		MinFillTime:  3 * time.Second,
	}
}

func validSubmission() Submission {
	return Submission{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Message: "Hello, I enjoyed your research talk.",
		IP:      "203.0.113.9",
	}
}

func TestSubmitSuccess(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(testCfg(), mailer)

	result := svc.Submit(context.Background(), validSubmission())
	if !result.OK {
		t.Fatalf("Submit failed: %+v", result)
	}
	if mailer.sent != 1 {
		t.Errorf("sent = %d, want 1", mailer.sent)
	}
	if mailer.lastSub != "New message from Jane Doe (Contact Form)" {
		t.Errorf("subject = %q", mailer.lastSub)
	}
}

func TestSubmitHoneypotPretendsSuccess(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(testCfg(), mailer)

	sub := validSubmission()
	sub.Honeypot = "gotcha"

	result := svc.Submit(context.Background(), sub)
	if !result.OK {
		t.Error("honeypot submissions should pretend success")
	}
	if mailer.sent != 0 {
		t.Errorf("honeypot submission should not send mail, sent = %d", mailer.sent)
	}
}

func TestSubmitInstantFillPretendsSuccess(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(testCfg(), mailer)

	sub := validSubmission()
	sub.StartedAt = strconv.FormatInt(time.Now().UnixMilli(), 10)

	result := svc.Submit(context.Background(), sub)
	if !result.OK {
		t.Error("instant submissions should pretend success")
	}
	if mailer.sent != 0 {
		t.Errorf("instant submission should not send mail, sent = %d", mailer.sent)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"missing name", func(s *Submission) { s.Name = "  " }},
		{"missing email", func(s *Submission) { s.Email = "" }},
		{"missing message", func(s *Submission) { s.Message = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			svc := NewService(testCfg(), mailer)

			sub := validSubmission()
			tt.mutate(&sub)

			result := svc.Submit(context.Background(), sub)
			if result.OK {
				t.Error("Submit should have failed")
			}
			if result.Error != "Please fill in all required fields." {
				t.Errorf("error = %q", result.Error)
			}
		})
	}
}

func TestSubmitThrottle(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(testCfg(), mailer)

	for i := 0; i < 2; i++ {
		if result := svc.Submit(context.Background(), validSubmission()); !result.OK {
			t.Fatalf("submission %d failed: %+v", i+1, result)
		}
	}

	result := svc.Submit(context.Background(), validSubmission())
	if result.OK {
		t.Error("third submission inside window should be throttled")
	}
	if mailer.sent != 2 {
		t.Errorf("sent = %d, want 2", mailer.sent)
	}

	// Another IP is unaffected.
	other := validSubmission()
	other.IP = "198.51.100.1"
	if result := svc.Submit(context.Background(), other); !result.OK {
		t.Errorf("other IP should not be throttled: %+v", result)
	}
}

func TestSubmitFailedSendNotRecorded(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	svc := NewService(testCfg(), mailer)

	result := svc.Submit(context.Background(), validSubmission())
	if result.OK {
		t.Error("Submit should surface send failure")
	}

	// Failed sends do not consume quota.
	mailer.err = nil
	for i := 0; i < 2; i++ {
		if result := svc.Submit(context.Background(), validSubmission()); !result.OK {
			t.Errorf("submission %d should succeed: %+v", i+1, result)
		}
	}
}
