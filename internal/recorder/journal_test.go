package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalRoundtrip(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "pages", 16, 10)

	events := []PageEvent{
		{Timestamp: time.Now().UTC(), TabID: "AAAA0000", Event: "attached", URL: "https://example.com"},
		{Timestamp: time.Now().UTC(), TabID: "AAAA0000", Event: "navigated", URL: "https://example.com/docs"},
		{Timestamp: time.Now().UTC(), TabID: "AAAA0000", Event: "load", URL: "https://example.com/docs"},
	}
	for _, ev := range events {
		if err := j.Write(ev); err != nil {
			t.Fatalf("Write(%s) error = %v", ev.Event, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, date, "pages.jsonl"))
	if err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
	defer f.Close()

	got := map[string]PageEvent{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev PageEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad JSONL line %q: %v", scanner.Text(), err)
		}
		got[ev.Event] = ev
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != len(events) {
		t.Fatalf("journal has %d distinct events; want %d", len(got), len(events))
	}
	if got["navigated"].URL != "https://example.com/docs" {
		t.Fatalf("navigated URL = %q; want %q", got["navigated"].URL, "https://example.com/docs")
	}
	if got["attached"].TabID != "AAAA0000" {
		t.Fatalf("attached TabID = %q; want %q", got["attached"].TabID, "AAAA0000")
	}
}

func TestJournalWriteAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), "console", 4, 10)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Write(ConsoleEvent{Kind: "log", Text: "late"}); err == nil {
		t.Fatal("Write() after Close() should fail")
	}
}

func TestJournalsCloseAll(t *testing.T) {
	dir := t.TempDir()
	js := NewJournals(dir, 8, 10)

	if err := js.Pages.Write(PageEvent{Event: "attached", TabID: "B0D5A8E8"}); err != nil {
		t.Fatalf("Pages.Write() error = %v", err)
	}
	if err := js.Console.Write(ConsoleEvent{Kind: "log", Text: "hello", TabID: "B0D5A8E8"}); err != nil {
		t.Fatalf("Console.Write() error = %v", err)
	}
	if err := js.Network.Write(NetworkEvent{Event: "request", RequestID: "1.1"}); err != nil {
		t.Fatalf("Network.Write() error = %v", err)
	}

	if err := js.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	for _, stream := range []string{"pages", "console", "network"} {
		path := filepath.Join(dir, date, stream+".jsonl")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("stream %s missing after close: %v", stream, err)
		}
	}
}
