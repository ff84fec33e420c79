package chatsession

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultAction   = "chat"
	defaultTrustTTL = 2 * time.Hour

	// Fixed pause between removing the typing placeholder and
	// rendering the reply, so answers do not appear instantaneous.
	replyDelay = 700 * time.Millisecond

	widgetPollTimeout  = 10 * time.Second
	widgetPollInterval = 50 * time.Millisecond

	codeDailyQuota = "daily"

	msgChallengeUnavailable = "Verification isn't ready yet. Please try again in a moment."
	msgTransportFailure     = "Sorry, I couldn't reach the server. Please try again."
	msgGenericFailure       = "Sorry, something went wrong."
	msgRateLimited          = "Rate limit reached."
	msgUnsupportedReply     = "[unsupported message format]"
)

// Controller owns one chat session: the message list, the challenge
// widget handle, and the trust hint. It is not safe for concurrent
// use; drive it from a single goroutine, the way a page drives its
// event loop.
type Controller struct {
	client  *Client
	view    Viewport
	widget  ChallengeWidget
	trust   TrustStore
	history HistoryStore

	siteKey  string
	action   string
	trustTTL time.Duration

	handle   WidgetHandle
	messages []Message

	// Injectable for tests.
	now          func() time.Time
	sleep        func(d time.Duration)
	pollTimeout  time.Duration
	pollInterval time.Duration
}

// NewController wires a controller. siteKey may be empty, in which
// case the challenge step is skipped entirely and requests are sent
// without a token.
func NewController(client *Client, view Viewport, widget ChallengeWidget, trust TrustStore, history HistoryStore, siteKey string) *Controller {
	return &Controller{
		client:       client,
		view:         view,
		widget:       widget,
		trust:        trust,
		history:      history,
		siteKey:      siteKey,
		action:       defaultAction,
		trustTTL:     defaultTrustTTL,
		now:          time.Now,
		sleep:        time.Sleep,
		pollTimeout:  widgetPollTimeout,
		pollInterval: widgetPollInterval,
	}
}

// Messages returns the current session history in display order.
func (c *Controller) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Start begins a fresh session: history is cleared, the quota banner
// is populated, and the challenge widget is pre-warmed so the first
// Submit does not pay the script-load wait.
func (c *Controller) Start(ctx context.Context) {
	if err := c.history.Clear(); err != nil {
		slog.Warn("Failed to clear chat history", "error", err)
	}
	c.messages = nil
	c.view.ClearMessages()
	c.view.SetComposerEnabled(true)

	c.refreshQuotaBanner(ctx)

	if c.siteKey != "" {
		c.ensureWidget(ctx)
	}
}

// NewChat resets both ends of the conversation: server-side state is
// dropped best-effort, then the local session restarts from empty.
func (c *Controller) NewChat(ctx context.Context) {
	if err := c.client.ClearChat(ctx); err != nil {
		slog.Warn("Failed to clear server-side chat state", "error", err)
	}
	c.Start(ctx)
}

// Submit runs one full chat turn. Empty or whitespace-only input is a
// silent no-op. Every failure mode renders something; Submit never
// leaves the typing placeholder behind.
func (c *Controller) Submit(ctx context.Context, input string) {
	text := strings.TrimSpace(input)
	if text == "" {
		return
	}

	// History sent to the server excludes the message being sent; it
	// travels in the message field. System entries are local UI
	// notices and are excluded as well.
	outHistory := c.outboundHistory()

	c.appendMessage(Message{Sender: SenderUser, Text: text})
	c.view.ResetComposer()
	c.view.ShowTyping()

	// A live trust hint means the server will accept tokenless
	// traffic; only untrusted clients must solve the challenge.
	var token string
	if c.siteKey != "" && !c.trustValid() {
		token = c.getToken(ctx, false)
		if token == "" {
			c.view.RemoveTyping()
			c.appendMessage(Message{Sender: SenderSystem, Text: msgChallengeUnavailable})
			return
		}
	}

	req := ChatRequest{
		Message:        text,
		History:        outHistory,
		Action:         c.action,
		ChallengeToken: token,
	}

	resp, err := c.client.Chat(ctx, req)
	if err == nil && resp.StatusCode == 403 {
		// The token may simply have expired. Force a fresh one and
		// resend exactly once; a second 403 falls through to
		// classification.
		req.ChallengeToken = c.getToken(ctx, true)
		resp, err = c.client.Chat(ctx, req)
	}

	if err != nil {
		slog.Warn("Chat request failed", "error", err)
		c.view.RemoveTyping()
		c.appendMessage(Message{Sender: SenderAssistant, Text: msgTransportFailure})
		return
	}

	text, sender := classifyReply(resp)

	c.view.RemoveTyping()
	c.sleep(replyDelay)
	c.appendMessage(Message{Sender: sender, Text: text})

	if resp.OK() {
		if err := c.trust.SetExpiresAt(c.now().Add(c.trustTTL)); err != nil {
			slog.Warn("Failed to persist trust hint", "error", err)
		}
	}

	// Only an exhausted daily quota locks the composer; a burst 429
	// clears on its own within seconds.
	disabled := resp.StatusCode == 429 && resp.Body.Code == codeDailyQuota
	c.view.SetComposerEnabled(!disabled)

	c.refreshQuotaBanner(ctx)
}

// classifyReply picks the display text and sender role for a response
// that made it over the wire.
func classifyReply(resp *ChatResponse) (string, Sender) {
	body := resp.Body

	var value any
	switch {
	case resp.StatusCode == 429:
		switch {
		case body.Reply != nil:
			value = body.Reply
		case body.Error != nil:
			value = body.Error
		default:
			value = msgRateLimited
		}
	case !resp.OK() && body.Error != nil:
		if body.Info != nil && body.Info.Error != nil {
			value = body.Info.Error
		} else {
			value = body.Error
		}
	case body.Reply != nil:
		value = body.Reply
	case body.OK != nil && body.Message != nil:
		value = body.Message
	default:
		value = msgGenericFailure
	}

	text, ok := value.(string)
	if !ok {
		slog.Warn("Chat reply is not a string", "status", resp.StatusCode)
		text = msgUnsupportedReply
	}

	sender := SenderAssistant
	if resp.StatusCode == 429 || resp.StatusCode == 403 || body.Error != nil {
		sender = SenderSystem
	}
	return text, sender
}

func (c *Controller) trustValid() bool {
	expiry, ok := c.trust.ExpiresAt()
	return ok && c.now().Before(expiry)
}

// getToken returns a challenge token, or empty when one cannot be
// produced. force skips the widget's cached response, guaranteeing a
// fresh token for the 403 retry.
func (c *Controller) getToken(ctx context.Context, force bool) string {
	if c.siteKey == "" {
		return ""
	}
	if !c.ensureWidget(ctx) {
		return ""
	}

	if !force {
		token, err := c.widget.GetResponse(c.handle)
		if err == nil && token != "" {
			return token
		}
		if err != nil {
			slog.Warn("Failed to read cached challenge token", "error", err)
		}
	}

	token, err := c.widget.Execute(ctx, c.handle, c.action)
	if err == nil && token != "" {
		return token
	}
	if err != nil {
		slog.Warn("Challenge execution failed", "error", err)
	}

	if err := c.widget.Reset(c.handle); err != nil {
		slog.Warn("Challenge widget reset failed", "error", err)
		return ""
	}
	token, err = c.widget.Execute(ctx, c.handle, c.action)
	if err != nil {
		slog.Warn("Challenge execution failed after reset", "error", err)
		return ""
	}
	return token
}

// ensureWidget waits for the widget script and renders once. The wait
// is bounded; an absent script degrades to tokenless requests rather
// than blocking the turn forever.
func (c *Controller) ensureWidget(ctx context.Context) bool {
	if c.handle != nil {
		return true
	}

	deadline := c.now().Add(c.pollTimeout)
	for !c.widget.Available() {
		if c.now().After(deadline) || ctx.Err() != nil {
			slog.Warn("Challenge widget never became available")
			return false
		}
		c.sleep(c.pollInterval)
	}

	handle, err := c.widget.Render(c.siteKey, c.action)
	if err != nil {
		slog.Warn("Failed to render challenge widget", "error", err)
		return false
	}
	c.handle = handle
	return true
}

func (c *Controller) outboundHistory() []Turn {
	turns := make([]Turn, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Sender == SenderSystem {
			continue
		}
		turns = append(turns, Turn{Role: string(m.Sender), Content: m.Text})
	}
	return turns
}

func (c *Controller) appendMessage(msg Message) {
	c.messages = append(c.messages, msg)
	c.view.AppendMessage(msg)
	if err := c.history.Save(c.messages); err != nil {
		slog.Warn("Failed to persist chat history", "error", err)
	}
}

func (c *Controller) refreshQuotaBanner(ctx context.Context) {
	q, err := c.client.Quota(ctx)
	if err != nil {
		slog.Warn("Failed to fetch quota", "error", err)
		return
	}
	c.view.SetQuotaBanner(q.Remaining, q.Limit)
}
