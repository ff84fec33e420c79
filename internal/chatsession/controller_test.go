package chatsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeViewport struct {
	messages      []Message
	typingShown   int
	typingRemoved int
	resets        int
	enabledCalls  []bool
	bannerCalls   int
	lastRemaining int
	lastLimit     int
	cleared       int
}

func (v *fakeViewport) AppendMessage(msg Message) { v.messages = append(v.messages, msg) }
func (v *fakeViewport) ShowTyping()               { v.typingShown++ }
func (v *fakeViewport) RemoveTyping()             { v.typingRemoved++ }
func (v *fakeViewport) ResetComposer()            { v.resets++ }
func (v *fakeViewport) ClearMessages()            { v.cleared++ }

func (v *fakeViewport) SetComposerEnabled(enabled bool) {
	v.enabledCalls = append(v.enabledCalls, enabled)
}

func (v *fakeViewport) SetQuotaBanner(remaining, limit int) {
	v.bannerCalls++
	v.lastRemaining = remaining
	v.lastLimit = limit
}

func (v *fakeViewport) composerEnabled() bool {
	if len(v.enabledCalls) == 0 {
		return true
	}
	return v.enabledCalls[len(v.enabledCalls)-1]
}

type fakeWidget struct {
	available     bool
	renderCalls   int
	renderErr     error
	cachedToken   string
	getCalls      int
	executeTokens []string
	executeCalls  int
	executeErr    error
	resetCalls    int
	resetErr      error
}

type fakeHandle struct{}

func (w *fakeWidget) Available() bool { return w.available }

func (w *fakeWidget) Render(siteKey, action string) (WidgetHandle, error) {
	w.renderCalls++
	if w.renderErr != nil {
		return nil, w.renderErr
	}
	return fakeHandle{}, nil
}

func (w *fakeWidget) GetResponse(handle WidgetHandle) (string, error) {
	w.getCalls++
	return w.cachedToken, nil
}

func (w *fakeWidget) Execute(ctx context.Context, handle WidgetHandle, action string) (string, error) {
	w.executeCalls++
	if w.executeErr != nil {
		return "", w.executeErr
	}
	if len(w.executeTokens) == 0 {
		return "token-default", nil
	}
	token := w.executeTokens[0]
	w.executeTokens = w.executeTokens[1:]
	return token, nil
}

func (w *fakeWidget) Reset(handle WidgetHandle) error {
	w.resetCalls++
	return w.resetErr
}

func (w *fakeWidget) totalCalls() int {
	return w.renderCalls + w.getCalls + w.executeCalls + w.resetCalls
}

type scriptedResponse struct {
	status int
	body   string
}

type chatBackend struct {
	mu         sync.Mutex
	responses  []scriptedResponse
	chatCalls  int
	quotaCalls int
	clearCalls int
	requests   []ChatRequest
}

func (b *chatBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.chatCalls++

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			b.requests = append(b.requests, req)
		}

		resp := scriptedResponse{status: 200, body: `{"reply":"ok"}`}
		if len(b.responses) > 0 {
			resp = b.responses[0]
			b.responses = b.responses[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	})
	mux.HandleFunc("GET /api/quota", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.quotaCalls++
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"used":1,"remaining":5,"limit":6,"reset_in_seconds":3600}`))
	})
	mux.HandleFunc("POST /api/clear-chat", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.clearCalls++
		b.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

type harness struct {
	ctrl    *Controller
	view    *fakeViewport
	widget  *fakeWidget
	backend *chatBackend
	trust   *MemoryTrustStore
	slept   []time.Duration
	clock   time.Time
}

func newHarness(t *testing.T, siteKey string) *harness {
	t.Helper()

	backend := &chatBackend{}
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	h := &harness{
		view:    &fakeViewport{},
		widget:  &fakeWidget{available: true},
		backend: backend,
		trust:   &MemoryTrustStore{},
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.ctrl = NewController(NewClient(server.URL), h.view, h.widget, h.trust, &MemoryHistory{}, siteKey)
	h.ctrl.now = func() time.Time { return h.clock }
	h.ctrl.sleep = func(d time.Duration) {
		h.slept = append(h.slept, d)
		h.clock = h.clock.Add(d)
	}
	return h
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	h := newHarness(t, "site-key")

	h.ctrl.Submit(context.Background(), "   \n\t ")

	if h.backend.chatCalls != 0 {
		t.Errorf("expected no network calls, got %d", h.backend.chatCalls)
	}
	if len(h.view.messages) != 0 {
		t.Errorf("expected no messages, got %v", h.view.messages)
	}
	if h.widget.totalCalls() != 0 {
		t.Errorf("expected no widget activity, got %d calls", h.widget.totalCalls())
	}
}

func TestSubmitSuccessfulTurn(t *testing.T) {
	h := newHarness(t, "site-key")
	h.backend.responses = []scriptedResponse{{200, `{"reply":"hi"}`}}

	h.ctrl.Submit(context.Background(), "hello")

	if h.backend.chatCalls != 1 {
		t.Fatalf("expected 1 chat call, got %d", h.backend.chatCalls)
	}
	want := []Message{
		{Sender: SenderUser, Text: "hello"},
		{Sender: SenderAssistant, Text: "hi"},
	}
	if len(h.view.messages) != 2 || h.view.messages[0] != want[0] || h.view.messages[1] != want[1] {
		t.Errorf("messages = %v, want %v", h.view.messages, want)
	}
	if h.view.typingShown != 1 || h.view.typingRemoved != 1 {
		t.Errorf("typing shown=%d removed=%d, want 1/1", h.view.typingShown, h.view.typingRemoved)
	}
	if expiry, ok := h.trust.ExpiresAt(); !ok || !expiry.After(h.clock) {
		t.Errorf("trust hint not refreshed on success: %v %v", expiry, ok)
	}
	if h.view.bannerCalls != 1 || h.view.lastRemaining != 5 || h.view.lastLimit != 6 {
		t.Errorf("quota banner not refreshed: calls=%d remaining=%d limit=%d",
			h.view.bannerCalls, h.view.lastRemaining, h.view.lastLimit)
	}
	if !h.view.composerEnabled() {
		t.Error("composer should remain enabled after a success")
	}
}

func TestSubmitDelaysReplyRendering(t *testing.T) {
	h := newHarness(t, "")

	h.ctrl.Submit(context.Background(), "hello")

	found := false
	for _, d := range h.slept {
		if d == replyDelay {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a %v pause before rendering, slept %v", replyDelay, h.slept)
	}
}

func TestSubmitSendsPriorHistoryWithoutSystemTurns(t *testing.T) {
	h := newHarness(t, "")
	h.backend.responses = []scriptedResponse{
		{200, `{"reply":"first answer"}`},
		{429, `{"error":"slow down","code":"burst"}`},
		{200, `{"reply":"second answer"}`},
	}

	ctx := context.Background()
	h.ctrl.Submit(ctx, "one")
	h.ctrl.Submit(ctx, "two")
	h.ctrl.Submit(ctx, "three")

	if len(h.backend.requests) != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", len(h.backend.requests))
	}

	last := h.backend.requests[2]
	if last.Message != "three" {
		t.Errorf("message = %q, want %q", last.Message, "three")
	}
	// The burst notice from turn two is a system entry and must not
	// travel; neither does the current message.
	want := []Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "two"},
	}
	if len(last.History) != len(want) {
		t.Fatalf("history = %v, want %v", last.History, want)
	}
	for i := range want {
		if last.History[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, last.History[i], want[i])
		}
	}
}

func TestSubmitRetriesOnceOn403(t *testing.T) {
	h := newHarness(t, "site-key")
	h.widget.executeTokens = []string{"token-1", "token-2"}
	h.backend.responses = []scriptedResponse{
		{403, `{"error":"challenge_failed"}`},
		{200, `{"reply":"made it"}`},
	}

	h.ctrl.Submit(context.Background(), "hello")

	if h.backend.chatCalls != 2 {
		t.Fatalf("expected exactly 2 chat calls, got %d", h.backend.chatCalls)
	}
	if got := h.backend.requests[1].ChallengeToken; got != "token-2" {
		t.Errorf("retry token = %q, want the force-refreshed %q", got, "token-2")
	}
	final := h.view.messages[len(h.view.messages)-1]
	if final.Sender != SenderAssistant || final.Text != "made it" {
		t.Errorf("final message = %v, want assistant %q", final, "made it")
	}
}

func TestSubmitStopsAfterSecond403(t *testing.T) {
	h := newHarness(t, "site-key")
	h.backend.responses = []scriptedResponse{
		{403, `{"error":"challenge_failed","info":{"error":"provider_rejected"}}`},
		{403, `{"error":"challenge_failed","info":{"error":"provider_rejected"}}`},
	}

	h.ctrl.Submit(context.Background(), "hello")

	if h.backend.chatCalls != 2 {
		t.Fatalf("expected exactly 2 chat calls, got %d", h.backend.chatCalls)
	}
	final := h.view.messages[len(h.view.messages)-1]
	if final.Sender != SenderSystem {
		t.Errorf("second 403 should render as a system notice, got %v", final.Sender)
	}
	if final.Text != "provider_rejected" {
		t.Errorf("final text = %q, want the info detail", final.Text)
	}
}

func TestSubmitDailyQuotaDisablesComposer(t *testing.T) {
	h := newHarness(t, "")
	h.backend.responses = []scriptedResponse{
		{429, `{"error":"You've reached your daily limit.","code":"daily"}`},
	}

	h.ctrl.Submit(context.Background(), "hello")

	if h.view.composerEnabled() {
		t.Error("composer should be disabled after a daily 429")
	}
	final := h.view.messages[len(h.view.messages)-1]
	if final.Sender != SenderSystem || final.Text != "You've reached your daily limit." {
		t.Errorf("final message = %v", final)
	}
	if h.view.bannerCalls != 1 {
		t.Errorf("banner should still refresh after a 429, calls=%d", h.view.bannerCalls)
	}
}

func TestSubmitBurstQuotaKeepsComposerEnabled(t *testing.T) {
	h := newHarness(t, "")
	h.backend.responses = []scriptedResponse{
		{429, `{"error":"Too fast.","code":"burst"}`},
	}

	h.ctrl.Submit(context.Background(), "hello")

	if !h.view.composerEnabled() {
		t.Error("a burst 429 must not lock the composer")
	}
}

func TestSubmitRateLimitFallbackText(t *testing.T) {
	h := newHarness(t, "")
	h.backend.responses = []scriptedResponse{{429, `{}`}}

	h.ctrl.Submit(context.Background(), "hello")

	final := h.view.messages[len(h.view.messages)-1]
	if final.Text != msgRateLimited || final.Sender != SenderSystem {
		t.Errorf("final message = %v, want system %q", final, msgRateLimited)
	}
}

func TestSubmitTrustHintSkipsWidget(t *testing.T) {
	h := newHarness(t, "site-key")
	h.trust.SetExpiresAt(h.clock.Add(time.Hour))

	h.ctrl.Submit(context.Background(), "hello")

	if h.widget.totalCalls() != 0 {
		t.Errorf("live trust hint must skip the widget, got %d calls", h.widget.totalCalls())
	}
	if h.backend.chatCalls != 1 {
		t.Fatalf("expected 1 chat call, got %d", h.backend.chatCalls)
	}
	if tok := h.backend.requests[0].ChallengeToken; tok != "" {
		t.Errorf("trusted request should carry no token, got %q", tok)
	}
}

func TestSubmitExpiredTrustHintSolvesChallenge(t *testing.T) {
	h := newHarness(t, "site-key")
	h.trust.SetExpiresAt(h.clock.Add(-time.Minute))
	h.widget.executeTokens = []string{"fresh-token"}

	h.ctrl.Submit(context.Background(), "hello")

	if tok := h.backend.requests[0].ChallengeToken; tok != "fresh-token" {
		t.Errorf("expired hint should force a token, got %q", tok)
	}
}

func TestSubmitUsesCachedWidgetToken(t *testing.T) {
	h := newHarness(t, "site-key")
	h.widget.cachedToken = "cached-token"

	h.ctrl.Submit(context.Background(), "hello")

	if h.widget.executeCalls != 0 {
		t.Errorf("cached token should avoid Execute, got %d calls", h.widget.executeCalls)
	}
	if tok := h.backend.requests[0].ChallengeToken; tok != "cached-token" {
		t.Errorf("token = %q, want %q", tok, "cached-token")
	}
}

func TestSubmitWidgetUnavailableAbortsTurn(t *testing.T) {
	h := newHarness(t, "site-key")
	h.widget.available = false

	h.ctrl.Submit(context.Background(), "hello")

	if h.backend.chatCalls != 0 {
		t.Errorf("turn should abort before the network, got %d calls", h.backend.chatCalls)
	}
	final := h.view.messages[len(h.view.messages)-1]
	if final.Sender != SenderSystem || final.Text != msgChallengeUnavailable {
		t.Errorf("final message = %v", final)
	}
	if h.view.typingRemoved != 1 {
		t.Error("typing placeholder must be removed on abort")
	}
}

func TestSubmitNoSiteKeySkipsChallenge(t *testing.T) {
	h := newHarness(t, "")
	h.widget.available = false

	h.ctrl.Submit(context.Background(), "hello")

	if h.backend.chatCalls != 1 {
		t.Fatalf("expected 1 chat call, got %d", h.backend.chatCalls)
	}
	if h.widget.totalCalls() != 0 {
		t.Errorf("no site key should mean no widget activity, got %d", h.widget.totalCalls())
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	h := newHarness(t, "")

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // connection refused from here on
	h.ctrl.client = NewClient(server.URL)

	h.ctrl.Submit(context.Background(), "hello")

	final := h.view.messages[len(h.view.messages)-1]
	if final.Sender != SenderAssistant || final.Text != msgTransportFailure {
		t.Errorf("final message = %v, want assistant %q", final, msgTransportFailure)
	}
	if h.view.typingRemoved != 1 {
		t.Error("typing placeholder must be removed on transport failure")
	}
	if h.view.bannerCalls != 0 {
		t.Error("banner must not refresh when the turn never classified")
	}
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantText   string
		wantSender Sender
	}{
		{"plain reply", 200, `{"reply":"hello"}`, "hello", SenderAssistant},
		{"ok message shape", 200, `{"ok":true,"message":"saved"}`, "saved", SenderAssistant},
		{"empty success body", 200, `{}`, msgGenericFailure, SenderAssistant},
		{"error body", 500, `{"error":"boom"}`, "boom", SenderSystem},
		{"error with info detail", 403, `{"error":"challenge_failed","info":{"error":"timeout"}}`, "timeout", SenderSystem},
		{"429 prefers reply", 429, `{"reply":"come back tomorrow","error":"x"}`, "come back tomorrow", SenderSystem},
		{"429 falls back to error", 429, `{"error":"limit"}`, "limit", SenderSystem},
		{"non-string reply", 200, `{"reply":{"deep":true}}`, msgUnsupportedReply, SenderAssistant},
		{"non-string error", 500, `{"error":[1,2]}`, msgUnsupportedReply, SenderSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body ChatBody
			if err := json.Unmarshal([]byte(tt.body), &body); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			text, sender := classifyReply(&ChatResponse{StatusCode: tt.status, Body: body})
			if text != tt.wantText || sender != tt.wantSender {
				t.Errorf("classifyReply = (%q, %s), want (%q, %s)", text, sender, tt.wantText, tt.wantSender)
			}
		})
	}
}

func TestGetTokenResetsAndRetriesExecute(t *testing.T) {
	h := newHarness(t, "site-key")
	h.ctrl.ensureWidget(context.Background())

	h.widget.executeErr = nil
	h.widget.executeTokens = []string{"", "second-try"}

	token := h.ctrl.getToken(context.Background(), false)

	if token != "second-try" {
		t.Errorf("token = %q, want %q", token, "second-try")
	}
	if h.widget.resetCalls != 1 {
		t.Errorf("expected one widget reset, got %d", h.widget.resetCalls)
	}
	if h.widget.executeCalls != 2 {
		t.Errorf("expected two executes, got %d", h.widget.executeCalls)
	}
}

func TestStartResetsSessionAndFetchesQuota(t *testing.T) {
	h := newHarness(t, "site-key")

	h.ctrl.Start(context.Background())

	if h.view.cleared != 1 {
		t.Error("Start must clear the chat window")
	}
	if h.backend.quotaCalls != 1 {
		t.Errorf("Start should fetch the quota once, got %d", h.backend.quotaCalls)
	}
	if h.widget.renderCalls != 1 {
		t.Errorf("Start should pre-warm the widget, got %d renders", h.widget.renderCalls)
	}
	if !h.view.composerEnabled() {
		t.Error("Start must leave the composer enabled")
	}
}

func TestNewChatClearsServerState(t *testing.T) {
	h := newHarness(t, "")
	h.ctrl.Submit(context.Background(), "hello")

	h.ctrl.NewChat(context.Background())

	if h.backend.clearCalls != 1 {
		t.Errorf("expected one clear-chat call, got %d", h.backend.clearCalls)
	}
	if len(h.ctrl.Messages()) != 0 {
		t.Errorf("local history should be empty, got %v", h.ctrl.Messages())
	}
	if h.view.cleared != 1 {
		t.Error("chat window should be cleared")
	}
}
