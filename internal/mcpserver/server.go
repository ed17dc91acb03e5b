package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tgseek/internal/bot"
	"tgseek/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryService is the engine surface exposed over MCP.
type QueryService interface {
	Query(ctx context.Context, text string) ([]domain.SearchResult, error)
	Status() domain.EngineStatus
}

// Server exposes the search engine to local MCP clients over streamable
// HTTP. It binds to loopback only and rejects non-local origins.
type Server struct {
	mu      sync.RWMutex
	query   QueryService
	httpSrv *http.Server

	endpoint string
}

func New(query QueryService) *Server {
	return &Server{query: query}
}

func (s *Server) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}

	impl := &mcp.Implementation{Name: "tgseek-mcp", Version: "0.1.0"}
	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_messages",
		Description: "Semantic search over the indexed chat history",
	}, s.searchMessagesTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "engine_status",
		Description: "Corpus and model status of the search engine",
	}, s.engineStatusTool)

	streamHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", withOriginValidation(streamHandler))
	httpSrv := &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = httpSrv.Serve(listener)
	}()

	s.httpSrv = httpSrv
	s.endpoint = "http://" + listener.Addr().String() + "/mcp"
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv = nil
	s.endpoint = ""
	return err
}

type searchInput struct {
	Query string `json:"query" jsonschema:"Free-text search query"`
}

type searchOutput struct {
	Results []domain.SearchResult `json:"results"`
}

func (s *Server) searchMessagesTool(ctx context.Context, _ *mcp.CallToolRequest, in *searchInput) (*mcp.CallToolResult, any, error) {
	if in == nil || strings.TrimSpace(in.Query) == "" {
		return nil, nil, errors.New("query is required")
	}
	results, err := s.query.Query(ctx, in.Query)
	if err != nil {
		return nil, nil, err
	}
	text := "No results."
	if len(results) > 0 {
		text = bot.FormatResults(results)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, searchOutput{Results: results}, nil
}

type statusOutput struct {
	Status domain.EngineStatus `json:"status"`
}

func (s *Server) engineStatusTool(_ context.Context, _ *mcp.CallToolRequest, _ *struct{}) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Status returned"}},
	}, statusOutput{Status: s.query.Status()}, nil
}

func withOriginValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isLocalOrigin(origin) {
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
