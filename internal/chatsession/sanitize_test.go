package chatsession

import (
	"strings"
	"testing"
)

func TestSanitizeHTMLEscapesTags(t *testing.T) {
	got := SanitizeHTML(`<script>alert("x")</script>`)
	if strings.Contains(got, "<script>") {
		t.Errorf("raw script tag survived: %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Errorf("expected escaped tag in %q", got)
	}
}

func TestSanitizeHTMLEscapesBeforeLinking(t *testing.T) {
	got := SanitizeHTML(`<b>http://x.com</b>`)
	if strings.Contains(got, "<b>") {
		t.Errorf("raw <b> tag survived: %q", got)
	}
	if !strings.Contains(got, `<a href="http://x.com"`) {
		t.Errorf("URL was not linked: %q", got)
	}
	if !strings.Contains(got, "&lt;/b&gt;") {
		t.Errorf("escaped closing tag was consumed by the link: %q", got)
	}
}

func TestSanitizeHTMLMarkup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"newlines", "a\nb", "a<br>b"},
		{"bold", "**hi**", "<strong>hi</strong>"},
		{"italic", "*hi*", "<em>hi</em>"},
		{"bold inside text", "say **it** loud", "say <strong>it</strong> loud"},
		{
			"link",
			"see https://example.com/a?b=1 now",
			`see <a href="https://example.com/a?b=1" target="_blank" rel="noopener noreferrer">https://example.com/a?b=1</a> now`,
		},
		{
			"bold url keeps closing tag",
			"**https://example.com**",
			`<strong><a href="https://example.com" target="_blank" rel="noopener noreferrer">https://example.com</a></strong>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeHTML(tt.input); got != tt.want {
				t.Errorf("SanitizeHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeHTMLIdempotentOnPlainText(t *testing.T) {
	input := "just a plain answer about machine learning."
	once := SanitizeHTML(input)
	twice := SanitizeHTML(once)
	if once != input {
		t.Errorf("plain text was altered: %q", once)
	}
	if twice != once {
		t.Errorf("sanitizing twice changed output: %q vs %q", once, twice)
	}
}
