package corpus

import (
	"context"
	"errors"
	"testing"

	"tgseek/internal/domain"
)

type fakeConnector struct {
	chatID   int64
	messages []domain.ChatMessage

	resolveCalls int
	exportCalls  int
}

func (f *fakeConnector) ResolveChatID(_ context.Context, _ string) (int64, error) {
	f.resolveCalls++
	return f.chatID, nil
}

func (f *fakeConnector) ExportMessages(_ context.Context, _ int64, emit func(domain.ChatMessage) error) error {
	f.exportCalls++
	for _, message := range f.messages {
		if err := emit(message); err != nil {
			return err
		}
	}
	return nil
}

func TestLoadOrFetchDownloadsOnce(t *testing.T) {
	connector := &fakeConnector{
		chatID: -1001234567890,
		messages: []domain.ChatMessage{
			{ID: 1, Text: "hello world"},
			{ID: 2, Text: "second, with a comma and \"quotes\""},
			{ID: 3, Text: "multi\nline"},
		},
	}
	store := NewStore(t.TempDir(), connector, nil)

	first, err := store.LoadOrFetch(context.Background(), "My Chat")
	if err != nil {
		t.Fatalf("LoadOrFetch: %v", err)
	}
	if first.ChatID != -1001234567890 {
		t.Fatalf("ChatID = %d, want -1001234567890", first.ChatID)
	}
	if len(first.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(first.Messages))
	}
	if first.ByID[2] != "second, with a comma and \"quotes\"" {
		t.Fatalf("csv round trip corrupted text: %q", first.ByID[2])
	}
	if first.ByID[3] != "multi\nline" {
		t.Fatalf("csv round trip corrupted newline: %q", first.ByID[3])
	}

	second, err := store.LoadOrFetch(context.Background(), "My Chat")
	if err != nil {
		t.Fatalf("second LoadOrFetch: %v", err)
	}
	if connector.resolveCalls != 1 || connector.exportCalls != 1 {
		t.Fatalf("connector used again on cached corpus: resolve=%d export=%d",
			connector.resolveCalls, connector.exportCalls)
	}
	if len(second.Messages) != len(first.Messages) {
		t.Fatalf("cached load returned %d messages, want %d", len(second.Messages), len(first.Messages))
	}
}

func TestLoadOrFetchWithoutConnector(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	if _, err := store.LoadOrFetch(context.Background(), "Missing"); err == nil {
		t.Fatal("expected error when corpus is absent and no connector is set")
	}
}

func TestLoadOrFetchPropagatesExportError(t *testing.T) {
	connector := &failingConnector{}
	store := NewStore(t.TempDir(), connector, nil)
	if _, err := store.LoadOrFetch(context.Background(), "Broken"); !errors.Is(err, errExportBroken) {
		t.Fatalf("got %v, want errExportBroken", err)
	}
}

var errExportBroken = errors.New("export broken")

type failingConnector struct{}

func (failingConnector) ResolveChatID(context.Context, string) (int64, error) { return 42, nil }

func (failingConnector) ExportMessages(context.Context, int64, func(domain.ChatMessage) error) error {
	return errExportBroken
}

func TestSanitizeChatName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Chat", "My_Chat"},
		{"dev-team_2.0", "dev-team_2.0"},
		{"Чат друзей", "Чат_друзей"},
		{"a/b\\c:d", "a_b_c_d"},
		{"  ", "chat"},
		{"", "chat"},
	}
	for _, tt := range tests {
		if got := SanitizeChatName(tt.in); got != tt.want {
			t.Errorf("SanitizeChatName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
