package kernel

import (
	"bytes"
	"strings"
	"testing"
)

func TestSynchConsolePutCharWritesToOutput(t *testing.T) {
	var out bytes.Buffer
	c := NewSynchConsole(strings.NewReader(""), &out)

	c.PutChar('h')
	c.PutChar('i')

	if out.String() != "hi" {
		t.Fatalf("expected %q, got %q", "hi", out.String())
	}
}

func TestSynchConsoleGetCharReadsFromInput(t *testing.T) {
	c := NewSynchConsole(strings.NewReader("ab"), &bytes.Buffer{})

	if got := c.GetChar(); got != 'a' {
		t.Fatalf("expected 'a', got %q", got)
	}
	if got := c.GetChar(); got != 'b' {
		t.Fatalf("expected 'b', got %q", got)
	}
}

func TestSynchConsoleGetCharAtEOFReturnsZero(t *testing.T) {
	c := NewSynchConsole(strings.NewReader(""), &bytes.Buffer{})

	if got := c.GetChar(); got != 0 {
		t.Fatalf("expected 0 at EOF, got %q", got)
	}
}

func TestSynchConsoleGetStringStopsAtNewline(t *testing.T) {
	c := NewSynchConsole(strings.NewReader("hello\nworld"), &bytes.Buffer{})

	if got := c.GetString(32); got != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", got)
	}
}

func TestSynchConsoleGetStringStopsAtLimit(t *testing.T) {
	c := NewSynchConsole(strings.NewReader("abcdefgh"), &bytes.Buffer{})

	if got := c.GetString(3); got != "abc" {
		t.Fatalf("expected %q, got %q", "abc", got)
	}
}

func TestSynchConsolePutStringWritesWholeString(t *testing.T) {
	var out bytes.Buffer
	c := NewSynchConsole(strings.NewReader(""), &out)

	c.PutString("Hello, World!")

	if out.String() != "Hello, World!" {
		t.Fatalf("expected %q, got %q", "Hello, World!", out.String())
	}
}
