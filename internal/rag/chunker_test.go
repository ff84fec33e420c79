package rag

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	dirty := "Some  text\n with\twhitespace."
	if got := CleanText(dirty); got != "Some text with whitespace." {
		t.Errorf("CleanText = %q", got)
	}
}

func TestSentenceSplit(t *testing.T) {
	sentences := SentenceSplit("This is one. This is two.")
	if len(sentences) != 2 {
		t.Fatalf("got %d sentences, want 2", len(sentences))
	}
	if sentences[0] != "This is one." || sentences[1] != "This is two." {
		t.Errorf("sentences = %v", sentences)
	}
}

func TestSentenceSplitTrailingFragment(t *testing.T) {
	sentences := SentenceSplit("A full sentence. And a trailing fragment")
	if len(sentences) != 2 {
		t.Fatalf("got %d sentences, want 2: %v", len(sentences), sentences)
	}
	if sentences[1] != "And a trailing fragment" {
		t.Errorf("trailing fragment = %q", sentences[1])
	}
}

func TestSplitTextRespectsChunkSize(t *testing.T) {
	text := "This is sentence one with several words here. This is sentence two with more words. " +
		"This is another sentence in a later paragraph with enough words to matter."
	chunks := SplitText(text, 10)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, chunk := range chunks {
		if n := len(strings.Fields(chunk)); n > 10 {
			t.Errorf("chunk has %d words, want <= 10: %q", n, chunk)
		}
	}
}

func TestSplitTextDropsShortFragments(t *testing.T) {
	chunks := SplitText("Tiny bit.", 50)
	if len(chunks) != 0 {
		t.Errorf("fragments under the minimum should be dropped, got %v", chunks)
	}
}

func TestSplitTextHardSplitsLongSentence(t *testing.T) {
	long := strings.Repeat("word ", 25) + "end."
	chunks := SplitText(long, 10)

	if len(chunks) < 2 {
		t.Fatalf("long sentence should split into multiple chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if n := len(strings.Fields(chunk)); n > 10 {
			t.Errorf("chunk has %d words, want <= 10", n)
		}
	}
}

func TestSplitTextEmpty(t *testing.T) {
	if got := SplitText("   ", 10); got != nil {
		t.Errorf("empty input should yield nil, got %v", got)
	}
}
