package bot

import (
	"context"
	"testing"

	"tgseek/internal/domain"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
)

type fakeSearcher struct {
	results []domain.SearchResult
	queries []string
}

func (f *fakeSearcher) Query(_ context.Context, text string) ([]domain.SearchResult, error) {
	f.queries = append(f.queries, text)
	return f.results, nil
}

type fakeHistory struct {
	records int
}

func (f *fakeHistory) RecordQuery(context.Context, string, string, int) error {
	f.records++
	return nil
}

func TestServesPrivateAndSupergroupMessages(t *testing.T) {
	searcher := &fakeSearcher{
		results: []domain.SearchResult{{MessageText: "hit", MessageLink: "https://t.me/c/123/1"}},
	}
	history := &fakeHistory{}
	b := New(0, "", "", "My Chat", "", searcher, history, nil)

	replies := 0
	dispatcher := tg.NewUpdateDispatcher()
	b.register(dispatcher, func(context.Context, tg.Entities, message.AnswerableMessageUpdate, []domain.SearchResult) error {
		replies++
		return nil
	})

	updates := &tg.Updates{Updates: []tg.UpdateClass{
		// Supergroups and channels deliver this update class.
		&tg.UpdateNewChannelMessage{Message: &tg.Message{Message: "/search in supergroup"}},
		&tg.UpdateNewMessage{Message: &tg.Message{Message: "/search in private"}},
		&tg.UpdateNewChannelMessage{Message: &tg.Message{Message: "not a command"}},
		&tg.UpdateNewChannelMessage{Message: &tg.Message{Out: true, Message: "/search own message"}},
	}}
	if err := dispatcher.Handle(context.Background(), updates); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := []string{"in supergroup", "in private"}
	if len(searcher.queries) != len(want) {
		t.Fatalf("served %d queries (%v), want %v", len(searcher.queries), searcher.queries, want)
	}
	for i, query := range want {
		if searcher.queries[i] != query {
			t.Fatalf("query %d = %q, want %q", i, searcher.queries[i], query)
		}
	}
	if replies != 2 {
		t.Fatalf("sent %d replies, want 2", replies)
	}
	if history.records != 2 {
		t.Fatalf("recorded %d queries, want 2", history.records)
	}
}

func TestNoReplyWithoutResults(t *testing.T) {
	searcher := &fakeSearcher{}
	b := New(0, "", "", "My Chat", "", searcher, nil, nil)

	replies := 0
	dispatcher := tg.NewUpdateDispatcher()
	b.register(dispatcher, func(context.Context, tg.Entities, message.AnswerableMessageUpdate, []domain.SearchResult) error {
		replies++
		return nil
	})

	updates := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewChannelMessage{Message: &tg.Message{Message: "/search nothing known"}},
	}}
	if err := dispatcher.Handle(context.Background(), updates); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(searcher.queries) != 1 {
		t.Fatalf("served %d queries, want 1", len(searcher.queries))
	}
	if replies != 0 {
		t.Fatalf("sent %d replies for an empty result set, want 0", replies)
	}
}

func TestParseSearchCommand(t *testing.T) {
	tests := []struct {
		text      string
		wantQuery string
		wantOK    bool
	}{
		{"/search hello world", "hello world", true},
		{"  /search   spaced out  ", "spaced out", true},
		{"/search@seekbot hello", "hello", true},
		{"/search", "", false},
		{"/search   ", "", false},
		{"/search@seekbot", "", false},
		{"/searchlike this", "", false},
		{"/start", "", false},
		{"plain message", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		query, ok := ParseSearchCommand(tt.text)
		if ok != tt.wantOK || query != tt.wantQuery {
			t.Errorf("ParseSearchCommand(%q) = (%q, %v), want (%q, %v)",
				tt.text, query, ok, tt.wantQuery, tt.wantOK)
		}
	}
}

func TestResultStylingShape(t *testing.T) {
	results := []domain.SearchResult{
		{MessageText: "one", MessageLink: "https://t.me/c/1/1"},
		{MessageText: "two", MessageLink: "https://t.me/c/1/2"},
	}
	// Number, link, newline per result.
	if got := resultStyling(results); len(got) != 6 {
		t.Fatalf("got %d styling options, want 6", len(got))
	}
	if got := resultStyling(nil); len(got) != 0 {
		t.Fatalf("got %d styling options for no results, want 0", len(got))
	}
}

func TestFormatResults(t *testing.T) {
	results := []domain.SearchResult{
		{MessageText: "plain text", MessageLink: "https://t.me/c/123/1"},
		{MessageText: "[note] with brackets", MessageLink: "https://t.me/c/123/2"},
	}
	got := FormatResults(results)
	want := "1) [plain text](https://t.me/c/123/1)\n" +
		"2) [\\[note\\] with brackets](https://t.me/c/123/2)\n"
	if got != want {
		t.Fatalf("FormatResults:\ngot  %q\nwant %q", got, want)
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	if got := FormatResults(nil); got != "" {
		t.Fatalf("FormatResults(nil) = %q, want empty", got)
	}
}

func TestEscapeBrackets(t *testing.T) {
	if got := EscapeBrackets("a [b] c [d"); got != `a \[b\] c \[d` {
		t.Fatalf("EscapeBrackets = %q", got)
	}
}
