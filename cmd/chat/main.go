// Chat is a terminal client for the Ask Mr M endpoint. It drives the
// same session controller as the web page: trust hints, quota
// feedback, and graceful handling of rate limits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/majidkhoshrou/mr-m/internal/chatsession"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	serverURL := flag.String("server", "http://localhost:8080", "Mr M server base URL")
	flag.Parse()

	view := &terminalViewport{out: os.Stdout}
	ctrl := chatsession.NewController(
		chatsession.NewClient(*serverURL),
		view,
		noWidget{},
		chatsession.NewFileTrustStore(trustPath()),
		&chatsession.MemoryHistory{},
		"", // no challenge widget in the terminal; rely on server trust
	)

	ctx := context.Background()
	ctrl.Start(ctx)

	fmt.Println("Ask Mr M — type a question, /new to reset, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if view.composerEnabled {
			fmt.Print("> ")
		} else {
			fmt.Print("(daily limit reached) > ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "/quit", "/exit":
			return
		case "/new":
			ctrl.NewChat(ctx)
			fmt.Println("Started a new chat.")
			continue
		}

		if !view.composerEnabled {
			continue
		}
		ctrl.Submit(ctx, line)
	}
}

func trustPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "mr-m", "trust.json")
}

// noWidget is a ChallengeWidget for environments without a browser.
// It reports unavailable, so the controller degrades to tokenless
// requests when no site key is set.
type noWidget struct{}

func (noWidget) Available() bool { return false }

func (noWidget) Render(_, _ string) (chatsession.WidgetHandle, error) {
	return nil, fmt.Errorf("challenge widget not supported in the terminal")
}

func (noWidget) GetResponse(_ chatsession.WidgetHandle) (string, error) { return "", nil }

func (noWidget) Execute(_ context.Context, _ chatsession.WidgetHandle, _ string) (string, error) {
	return "", fmt.Errorf("challenge widget not supported in the terminal")
}

func (noWidget) Reset(_ chatsession.WidgetHandle) error { return nil }
