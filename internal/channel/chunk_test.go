package channel

import (
	"strings"
	"testing"
)

func TestChunkTextShortPassthrough(t *testing.T) {
	t.Parallel()

	chunks := ChunkText("hello world", 100)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	t.Parallel()

	if chunks := ChunkText("   \n  ", 100); chunks != nil {
		t.Fatalf("expected nil for blank input, got %v", chunks)
	}
}

func TestChunkTextSplitsAtNewlines(t *testing.T) {
	t.Parallel()

	text := "aaaa\nbbbb\ncccc"
	chunks := ChunkText(text, 9)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	if chunks[0] != "aaaa\nbbbb" || chunks[1] != "cccc" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestChunkTextLongLine(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 25)
	chunks := ChunkText(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %v", chunks)
	}
	for _, chunk := range chunks {
		if len(chunk) > 10 {
			t.Fatalf("chunk over limit: %q", chunk)
		}
	}
}

func TestChunkTextCountsRunes(t *testing.T) {
	t.Parallel()

	// 4 CJK characters fit a limit of 4 even though they are 12 bytes.
	chunks := ChunkText("你好世界", 4)
	if len(chunks) != 1 {
		t.Fatalf("rune counting broken: %v", chunks)
	}
}

func TestChunkMarkdownTextKeepsParagraphs(t *testing.T) {
	t.Parallel()

	text := "first paragraph\n\nsecond paragraph\n\nthird"
	chunks := ChunkMarkdownText(text, 34)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	if chunks[0] != "first paragraph\n\nsecond paragraph" {
		t.Fatalf("paragraphs should stay together: %q", chunks[0])
	}
	if chunks[1] != "third" {
		t.Fatalf("unexpected tail: %q", chunks[1])
	}
}

func TestChunkMarkdownTextOversizedParagraph(t *testing.T) {
	t.Parallel()

	text := "intro\n\n" + strings.Repeat("y", 30)
	chunks := ChunkMarkdownText(text, 12)
	if len(chunks) < 3 {
		t.Fatalf("expected the long paragraph to split: %v", chunks)
	}
	for _, chunk := range chunks {
		if runeLen(chunk) > 12 {
			t.Fatalf("chunk over limit: %q", chunk)
		}
	}
}
