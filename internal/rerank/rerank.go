package rerank

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"tgseek/internal/domain"
	"tgseek/internal/llm"

	"go.uber.org/zap"
)

var idPattern = regexp.MustCompile(`id=(\d+)`)

// Reranker asks an LLM to pick the most relevant candidates for a query.
// It only ever reorders and prunes the candidate set it was given.
type Reranker struct {
	client llm.Client
	logger *zap.Logger
}

func New(client llm.Client, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{client: client, logger: logger}
}

// Rerank sends the candidates and the original query in a single prompt and
// reorders the candidates by the ids the model lists. Candidates are exposed
// to the model by their position, not their message id, to keep the prompt
// compact. A response with no parseable ids yields an empty result rather
// than an error.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.SearchResult) ([]domain.SearchResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	response, err := r.client.Complete(ctx, buildPrompt(query, candidates))
	if err != nil {
		return nil, err
	}

	indices := parseIndices(response)
	if len(indices) == 0 {
		r.logger.Warn("reranker returned no parseable ids", zap.String("query", query))
		return []domain.SearchResult{}, nil
	}

	out := make([]domain.SearchResult, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		out = append(out, candidates[idx])
	}
	return out, nil
}

func buildPrompt(query string, candidates []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("Hello! I want you to help me find similar messages in a chat. Here is a message. Remember it:\n")
	b.WriteString(flatten(query))
	b.WriteString("\n\n")
	b.WriteString("And here are some of the found messages, some of which may be irrelevant. " +
		"Please choose several (around 5) of messages that are the most relevant to the original message. " +
		"Print their ids in the same format (id=123). Print more relevant messages first. " +
		"Don't write anything else.\n")
	for i, candidate := range candidates {
		b.WriteString("id=")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
		b.WriteString(flatten(candidate.MessageText))
		b.WriteString("\n\n")
	}
	return b.String()
}

func parseIndices(response string) []int {
	matches := idPattern.FindAllStringSubmatch(response, -1)
	indices := make([]int, 0, len(matches))
	for _, match := range matches {
		idx, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	return indices
}

// flatten strips newlines so one candidate cannot masquerade as several.
func flatten(text string) string {
	return strings.ReplaceAll(text, "\n", "")
}
