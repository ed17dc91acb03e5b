package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tgseek/internal/corpus"
	"tgseek/internal/doc2vec"
	"tgseek/internal/domain"
	"tgseek/internal/llm"
	"tgseek/internal/rerank"
	"tgseek/internal/textnorm"
	"tgseek/internal/vector"

	"go.uber.org/zap"
)

const (
	// fetchWidth caps the nearest-neighbor lookup independently of corpus
	// size. The reranking profile keeps more candidates because the LLM
	// prunes them afterwards.
	fetchWidth      = 200
	maxResults      = 5
	maxRerankInput  = 20
	minResultTokens = 4
	rerankTimeout   = 90 * time.Second
	hnswM           = 16
	hnswEfConstruct = 200
	hnswEfSearch    = 64
)

// Options configure one engine instance. Credentials and collaborators are
// passed in explicitly; the engine holds its own handles and never reads
// process-wide state.
type Options struct {
	ChatName    string
	Language    string
	Rerank      bool
	MessagesDir string
	ModelsDir   string
	Connector   corpus.Connector
	LLMClient   llm.Client
	Logger      *zap.Logger

	// Training overrides the embedding hyperparameters; the zero value
	// means the production defaults (350 dimensions, 200 epochs).
	Training doc2vec.Options
}

// Engine answers semantic queries over one chat's exported history. The
// construction batch phase (export, training, index build) must finish
// before the first query; afterwards the engine is read-only and safe for
// concurrent queries, provided the LLM client is too.
type Engine struct {
	chatName   string
	corpus     domain.Corpus
	normalizer *textnorm.Normalizer
	model      *doc2vec.Model
	index      *vector.Index
	reranker   *rerank.Reranker
	logger     *zap.Logger
	readyAt    time.Time
}

// New runs the batch phase: load or fetch the corpus, train or load the
// embedding model, and build the vector index.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.ChatName) == "" {
		return nil, errors.New("chat name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	normalizer, err := textnorm.New(opts.Language)
	if err != nil {
		return nil, err
	}

	store := corpus.NewStore(opts.MessagesDir, opts.Connector, logger)
	loaded, err := store.LoadOrFetch(ctx, opts.ChatName)
	if err != nil {
		return nil, err
	}

	model, err := trainOrLoad(loaded, normalizer, modelPath(opts.ModelsDir, opts.ChatName), opts.Training, logger)
	if err != nil {
		return nil, err
	}

	index := vector.NewIndex(model.VectorSize(), hnswM, hnswEfConstruct, hnswEfSearch)
	items := make([]vector.Item, 0, model.Len())
	for _, doc := range model.DocVectors() {
		items = append(items, vector.Item{MessageID: doc.Tag, Vector: doc.Vector})
	}
	if err := index.Build(items); err != nil {
		return nil, err
	}

	eng := &Engine{
		chatName:   opts.ChatName,
		corpus:     loaded,
		normalizer: normalizer,
		model:      model,
		index:      index,
		logger:     logger,
		readyAt:    time.Now(),
	}
	if opts.Rerank {
		if opts.LLMClient == nil {
			return nil, errors.New("reranking is enabled but no llm client is configured")
		}
		eng.reranker = rerank.New(opts.LLMClient, logger)
	}
	return eng, nil
}

// Query returns the most relevant messages for the free-text query, best
// first. A blank query returns no results and no error.
func (e *Engine) Query(ctx context.Context, text string) ([]domain.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	tokens := e.normalizer.Tokens(text)
	queryVector := e.model.Infer(tokens)
	candidates := e.index.Search(queryVector, fetchWidth)

	limit := maxResults
	if e.reranker != nil {
		limit = maxRerankInput
	}
	results := e.filterAndCap(candidates, limit)

	if e.reranker == nil {
		return results, nil
	}
	rerankCtx, cancel := context.WithTimeout(ctx, rerankTimeout)
	defer cancel()
	return e.reranker.Rerank(rerankCtx, text, results)
}

// filterAndCap walks candidates in similarity order, drops near-empty
// messages that embed poorly, and attaches the deep link.
func (e *Engine) filterAndCap(candidates []vector.Candidate, limit int) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, limit)
	for _, candidate := range candidates {
		text, ok := e.corpus.ByID[candidate.MessageID]
		if !ok {
			continue
		}
		if len(e.normalizer.Tokens(text)) < minResultTokens {
			continue
		}
		results = append(results, domain.SearchResult{
			MessageID:   candidate.MessageID,
			MessageText: text,
			Similarity:  candidate.Similarity,
			MessageLink: MessageLink(e.corpus.ChatID, candidate.MessageID),
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func (e *Engine) Status() domain.EngineStatus {
	return domain.EngineStatus{
		ChatName:      e.chatName,
		ChatID:        e.corpus.ChatID,
		Language:      e.normalizer.Language(),
		MessageCount:  len(e.corpus.Messages),
		TrainedDocs:   e.model.Len(),
		VectorSize:    e.model.VectorSize(),
		RerankEnabled: e.reranker != nil,
		ReadyAtUnix:   e.readyAt.Unix(),
	}
}

// trainOrLoad loads a persisted model when one exists; training never
// silently re-runs. Otherwise it normalizes every message into a tagged
// document, trains, and persists the model only after training completes.
func trainOrLoad(loaded domain.Corpus, normalizer *textnorm.Normalizer, path string, training doc2vec.Options, logger *zap.Logger) (*doc2vec.Model, error) {
	if _, err := os.Stat(path); err == nil {
		logger.Info("model already trained", zap.String("path", path))
		return doc2vec.Load(path)
	}

	docs := make([]doc2vec.TaggedDocument, 0, len(loaded.Messages))
	for _, message := range loaded.Messages {
		docs = append(docs, doc2vec.TaggedDocument{
			Tag:    message.ID,
			Tokens: normalizer.Tokens(message.Text),
		})
	}

	logger.Info("training embedding model",
		zap.String("chat", loaded.ChatName),
		zap.Int("documents", len(docs)))
	model := doc2vec.Train(docs, training, logger)
	if err := model.Save(path); err != nil {
		return nil, err
	}
	logger.Info("trained model written", zap.String("path", path))
	return model, nil
}

func modelPath(dir, chatName string) string {
	return filepath.Join(dir, corpus.SanitizeChatName(chatName)+".bin")
}

// MessageLink builds the t.me deep link for a message. The first four
// digits of the chat id's decimal form are the connector's numbering
// prefix and are stripped, matching Telegram's /c/ link convention.
func MessageLink(chatID, messageID int64) string {
	id := strconv.FormatInt(chatID, 10)
	if len(id) > 4 {
		id = id[4:]
	}
	return "https://t.me/c/" + id + "/" + strconv.FormatInt(messageID, 10)
}
