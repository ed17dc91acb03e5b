package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tgseek/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeQueryService struct {
	results []domain.SearchResult
	status  domain.EngineStatus

	lastQuery string
}

func (f *fakeQueryService) Query(_ context.Context, text string) ([]domain.SearchResult, error) {
	f.lastQuery = text
	return f.results, nil
}

func (f *fakeQueryService) Status() domain.EngineStatus {
	return f.status
}

func TestSearchMessagesTool(t *testing.T) {
	svc := &fakeQueryService{
		results: []domain.SearchResult{{
			MessageID:   1,
			MessageText: "hit",
			Similarity:  0.9,
			MessageLink: "https://t.me/c/123/1",
		}},
	}
	server := New(svc)

	res, out, err := server.searchMessagesTool(context.Background(), nil, &searchInput{Query: "find me"})
	if err != nil {
		t.Fatalf("searchMessagesTool: %v", err)
	}
	if svc.lastQuery != "find me" {
		t.Fatalf("query passed through as %q", svc.lastQuery)
	}
	output, ok := out.(searchOutput)
	if !ok || len(output.Results) != 1 || output.Results[0].MessageID != 1 {
		t.Fatalf("output = %+v", out)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || text.Text != "1) [hit](https://t.me/c/123/1)\n" {
		t.Fatalf("text content = %+v", res.Content[0])
	}

	svc.results = nil
	res, _, err = server.searchMessagesTool(context.Background(), nil, &searchInput{Query: "nothing matches"})
	if err != nil {
		t.Fatalf("searchMessagesTool: %v", err)
	}
	if text, ok := res.Content[0].(*mcp.TextContent); !ok || text.Text != "No results." {
		t.Fatalf("empty-result text content = %+v", res.Content[0])
	}

	if _, _, err := server.searchMessagesTool(context.Background(), nil, &searchInput{Query: "  "}); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestEngineStatusTool(t *testing.T) {
	svc := &fakeQueryService{status: domain.EngineStatus{ChatName: "c", MessageCount: 3}}
	server := New(svc)

	_, out, err := server.engineStatusTool(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("engineStatusTool: %v", err)
	}
	output, ok := out.(statusOutput)
	if !ok || output.Status.ChatName != "c" || output.Status.MessageCount != 3 {
		t.Fatalf("output = %+v", out)
	}
}

func TestOriginValidation(t *testing.T) {
	handler := withOriginValidation(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		origin string
		want   int
	}{
		{"", http.StatusNoContent},
		{"http://localhost:3000", http.StatusNoContent},
		{"http://127.0.0.1:8080", http.StatusNoContent},
		{"https://evil.example.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("origin %q: status %d, want %d", tt.origin, rec.Code, tt.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	server := New(&fakeQueryService{})
	if err := server.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if server.Endpoint() == "" {
		t.Fatal("no endpoint after Start")
	}
	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if server.Endpoint() != "" {
		t.Fatal("endpoint survives Stop")
	}
}
