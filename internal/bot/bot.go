package bot

import (
	"context"
	"strconv"
	"strings"

	"tgseek/internal/domain"
	"tgseek/internal/telegram"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Searcher answers free-text queries. Implemented by the engine.
type Searcher interface {
	Query(ctx context.Context, text string) ([]domain.SearchResult, error)
}

// History records served queries. Implemented by the sqlite store; nil
// disables recording.
type History interface {
	RecordQuery(ctx context.Context, chatName, query string, resultCount int) error
}

// Bot is the messaging front-end: it watches for /search commands and
// replies with formatted results. All search semantics live in the engine;
// the bot is transport glue.
type Bot struct {
	apiID       int
	apiHash     string
	token       string
	chatName    string
	sessionPath string
	searcher    Searcher
	history     History
	logger      *zap.Logger
}

func New(apiID int, apiHash, token, chatName, sessionPath string, searcher Searcher, history History, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		apiID:       apiID,
		apiHash:     apiHash,
		token:       token,
		chatName:    chatName,
		sessionPath: sessionPath,
		searcher:    searcher,
		history:     history,
		logger:      logger,
	}
}

// respondFunc delivers the results of one served command back to the chat
// the command came from.
type respondFunc func(ctx context.Context, entities tg.Entities, update message.AnswerableMessageUpdate, results []domain.SearchResult) error

// Run connects as a bot and serves /search commands until the context is
// canceled. Handler failures are logged, never fatal to the update loop.
func (b *Bot) Run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	client := tdtelegram.NewClient(b.apiID, b.apiHash, tdtelegram.Options{
		SessionStorage: telegram.NewSessionStorage(b.sessionPath),
		UpdateHandler:  dispatcher,
		Logger:         b.logger.Named("mtproto"),
	})
	sender := message.NewSender(client.API())

	b.register(dispatcher, func(handlerCtx context.Context, entities tg.Entities, update message.AnswerableMessageUpdate, results []domain.SearchResult) error {
		_, err := sender.Reply(entities, update).StyledText(handlerCtx, resultStyling(results)...)
		return err
	})

	return client.Run(ctx, func(runCtx context.Context) error {
		status, err := client.Auth().Status(runCtx)
		if err != nil {
			return err
		}
		if !status.Authorized {
			if _, err := client.Auth().Bot(runCtx, b.token); err != nil {
				return err
			}
		}
		b.logger.Info("bot is running", zap.String("chat", b.chatName))
		<-runCtx.Done()
		return runCtx.Err()
	})
}

// register wires the command handler for both update families: private
// chats and basic groups deliver new messages as UpdateNewMessage, while
// supergroups and channels deliver them as UpdateNewChannelMessage.
func (b *Bot) register(dispatcher tg.UpdateDispatcher, respond respondFunc) {
	handle := func(handlerCtx context.Context, entities tg.Entities, update message.AnswerableMessageUpdate, msgClass tg.MessageClass) error {
		msg, ok := msgClass.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		query, ok := ParseSearchCommand(msg.Message)
		if !ok {
			return nil
		}

		results, err := b.searcher.Query(handlerCtx, query)
		if err != nil {
			b.logger.Error("search failed", zap.String("query", query), zap.Error(err))
			return nil
		}
		if b.history != nil {
			if err := b.history.RecordQuery(handlerCtx, b.chatName, query, len(results)); err != nil {
				b.logger.Warn("query history write failed", zap.Error(err))
			}
		}
		if len(results) == 0 {
			return nil
		}
		if err := respond(handlerCtx, entities, update, results); err != nil {
			b.logger.Error("reply failed", zap.Error(err))
		}
		return nil
	}

	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewMessage) error {
		return handle(ctx, entities, update, update.Message)
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewChannelMessage) error {
		return handle(ctx, entities, update, update.Message)
	})
}

// resultStyling renders the numbered reply as styled text, so each message
// becomes a clickable link to its place in the chat.
func resultStyling(results []domain.SearchResult) []styling.StyledTextOption {
	opts := make([]styling.StyledTextOption, 0, 3*len(results))
	for i, result := range results {
		opts = append(opts,
			styling.Plain(strconv.Itoa(i+1)+") "),
			styling.TextURL(result.MessageText, result.MessageLink),
			styling.Plain("\n"),
		)
	}
	return opts
}

// ParseSearchCommand extracts the query from a "/search <query>" message.
// Commands addressed to a specific bot ("/search@name") are accepted too.
func ParseSearchCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/search") {
		return "", false
	}
	rest := trimmed[len("/search"):]
	switch {
	case rest == "":
		return "", false
	case strings.HasPrefix(rest, "@"):
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) < 2 {
			return "", false
		}
		rest = fields[1]
	case !strings.HasPrefix(rest, " "):
		// Some other command that merely shares the prefix.
		return "", false
	}
	query := strings.TrimSpace(rest)
	if query == "" {
		return "", false
	}
	return query, true
}

// FormatResults renders the result list as numbered markdown link lines,
// for surfaces that consume text rather than message entities. Literal
// brackets in message text would corrupt the link syntax and are escaped.
func FormatResults(results []domain.SearchResult) string {
	var b strings.Builder
	for i, result := range results {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(") [")
		b.WriteString(EscapeBrackets(result.MessageText))
		b.WriteString("](")
		b.WriteString(result.MessageLink)
		b.WriteString(")\n")
	}
	return b.String()
}

func EscapeBrackets(text string) string {
	text = strings.ReplaceAll(text, "[", `\[`)
	return strings.ReplaceAll(text, "]", `\]`)
}
