package main

import (
	"fmt"
	"io"

	"github.com/majidkhoshrou/mr-m/internal/chatsession"
)

// terminalViewport renders the chat session to a writer.
type terminalViewport struct {
	out             io.Writer
	composerEnabled bool
}

func (v *terminalViewport) AppendMessage(msg chatsession.Message) {
	switch msg.Sender {
	case chatsession.SenderUser:
		// The user already sees their own input line.
	case chatsession.SenderSystem:
		fmt.Fprintf(v.out, "[!] %s\n", msg.Text)
	default:
		fmt.Fprintf(v.out, "Mr M: %s\n", msg.Text)
	}
}

func (v *terminalViewport) ShowTyping()   { fmt.Fprintln(v.out, "Mr M is thinking...") }
func (v *terminalViewport) RemoveTyping() {}

func (v *terminalViewport) ResetComposer() {}

func (v *terminalViewport) SetComposerEnabled(enabled bool) { v.composerEnabled = enabled }

func (v *terminalViewport) SetQuotaBanner(remaining, limit int) {
	fmt.Fprintf(v.out, "(%d of %d questions left today)\n", remaining, limit)
}

func (v *terminalViewport) ClearMessages() {}
