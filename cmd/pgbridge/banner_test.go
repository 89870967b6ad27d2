package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintBannerWithColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printBanner(&buf, true)
	output := buf.String()

	if !strings.Contains(output, "\033[") {
		t.Fatal("expected ANSI escape codes in colored banner output")
	}
	if !strings.Contains(output, "\033[0m") {
		t.Fatal("expected ANSI reset code in colored banner output")
	}
	if strings.Count(output, "\n") != 6 {
		t.Fatalf("expected 6 banner lines, got %d", strings.Count(output, "\n"))
	}
}

func TestPrintBannerWithoutColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printBanner(&buf, false)
	output := buf.String()

	if strings.Contains(output, "\033[") {
		t.Fatal("expected no ANSI escape codes in plain banner output")
	}
	if !strings.Contains(output, `|___/`) {
		t.Fatal("expected ASCII art in plain banner output")
	}
}

func TestPrintUsage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printUsage(&buf)
	for _, want := range []string{"pgbridge check", "-transport stdio|http", "POSTGRES_PASSWORD", "LOG_LEVEL"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in usage:\n%s", want, buf.String())
		}
	}
}
