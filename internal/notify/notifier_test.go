package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type recordingSender struct {
	name  string
	err   error
	calls int
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.calls++
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_FiltersByEventType(t *testing.T) {
	s := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"scan_pass", "error"}, discardLogger())

	if err := n.Notify(context.Background(), "ingest_failed", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if s.calls != 0 {
		t.Fatalf("filtered event reached sender %d times", s.calls)
	}

	if err := n.Notify(context.Background(), "scan_pass", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("allowed event delivered %d times, want 1", s.calls)
	}
}

func TestNotify_EmptyEventListAllowsAll(t *testing.T) {
	s := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	for _, event := range []string{"scan_pass", "error", "anything"} {
		if err := n.Notify(context.Background(), event, "t", "m"); err != nil {
			t.Fatalf("Notify(%q): %v", event, err)
		}
	}
	if s.calls != 3 {
		t.Fatalf("delivered %d times, want 3", s.calls)
	}
}

func TestNotify_CollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "telegram"}
	broken := &recordingSender{name: "discord", err: errors.New("webhook returned 404")}
	n := NewNotifier([]Sender{ok, broken}, nil, discardLogger())

	err := n.Notify(context.Background(), "error", "t", "m")
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
	if !strings.Contains(err.Error(), "discord") {
		t.Fatalf("error does not name failing sender: %v", err)
	}
	if ok.calls != 1 {
		t.Fatalf("healthy sender skipped after failure, calls=%d", ok.calls)
	}
}

func TestNotify_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	if err := n.Notify(context.Background(), "error", "t", "m"); err != nil {
		t.Fatalf("Notify with no senders: %v", err)
	}
}
