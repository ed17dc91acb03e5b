package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"tgseek/internal/domain"

	"go.uber.org/zap"
)

const flushEvery = 100

// Connector streams historical messages for a named chat. Implemented by
// the Telegram collector; faked in tests.
type Connector interface {
	ResolveChatID(ctx context.Context, name string) (int64, error)
	ExportMessages(ctx context.Context, chatID int64, emit func(domain.ChatMessage) error) error
}

// Store persists one message table (CSV with an id,text header) and one
// chat-id file (decimal text) per chat name. Presence of both artifacts is
// the sole "already downloaded" signal.
type Store struct {
	dir       string
	connector Connector
	logger    *zap.Logger
}

func NewStore(dir string, connector Connector, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, connector: connector, logger: logger}
}

// LoadOrFetch returns the corpus for chatName. When both persisted artifacts
// exist this is a pure disk load; otherwise the chat id is resolved by exact
// dialog-name match and the full history is exported, flushing every
// hundred rows so partial progress survives a crash mid-export.
func (s *Store) LoadOrFetch(ctx context.Context, chatName string) (domain.Corpus, error) {
	messagesPath := s.messagesPath(chatName)
	chatIDPath := s.chatIDPath(chatName)

	if fileExists(messagesPath) && fileExists(chatIDPath) {
		s.logger.Info("corpus already downloaded", zap.String("chat", chatName))
		return s.load(chatName, messagesPath, chatIDPath)
	}

	if s.connector == nil {
		return domain.Corpus{}, errors.New("corpus is not downloaded and no connector is configured")
	}
	if err := s.fetch(ctx, chatName, messagesPath, chatIDPath); err != nil {
		return domain.Corpus{}, err
	}
	return s.load(chatName, messagesPath, chatIDPath)
}

func (s *Store) fetch(ctx context.Context, chatName, messagesPath, chatIDPath string) error {
	chatID, err := s.connector.ResolveChatID(ctx, chatName)
	if err != nil {
		return err
	}
	s.logger.Info("chat resolved", zap.String("chat", chatName), zap.Int64("chat_id", chatID))

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(chatIDPath, []byte(strconv.FormatInt(chatID, 10)), 0o644); err != nil {
		return err
	}

	file, err := os.Create(messagesPath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"id", "text"}); err != nil {
		return err
	}

	saved := 0
	err = s.connector.ExportMessages(ctx, chatID, func(message domain.ChatMessage) error {
		if err := writer.Write([]string{strconv.FormatInt(message.ID, 10), message.Text}); err != nil {
			return err
		}
		saved++
		if saved%flushEvery == 0 {
			writer.Flush()
			if err := writer.Error(); err != nil {
				return err
			}
			s.logger.Info("messages saved", zap.String("chat", chatName), zap.Int("count", saved))
		}
		return nil
	})
	if err != nil {
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	s.logger.Info("corpus export complete", zap.String("chat", chatName), zap.Int("messages", saved))
	return nil
}

func (s *Store) load(chatName, messagesPath, chatIDPath string) (domain.Corpus, error) {
	chatID, err := readChatID(chatIDPath)
	if err != nil {
		return domain.Corpus{}, err
	}
	messages, err := readMessages(messagesPath)
	if err != nil {
		return domain.Corpus{}, err
	}

	byID := make(map[int64]string, len(messages))
	for _, message := range messages {
		byID[message.ID] = message.Text
	}
	return domain.Corpus{
		ChatName: chatName,
		ChatID:   chatID,
		Messages: messages,
		ByID:     byID,
	}, nil
}

func (s *Store) messagesPath(chatName string) string {
	return filepath.Join(s.dir, SanitizeChatName(chatName)+".csv")
}

func (s *Store) chatIDPath(chatName string) string {
	return filepath.Join(s.dir, SanitizeChatName(chatName)+".id.txt")
}

func readChatID(path string) (int64, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id file %s: %w", path, err)
	}
	return chatID, nil
}

func readMessages(path string) ([]domain.ChatMessage, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2

	// Skip the header row.
	if _, err := reader.Read(); err != nil {
		return nil, err
	}

	var messages []domain.ChatMessage
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		id, parseErr := strconv.ParseInt(row[0], 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", row[0], parseErr)
		}
		messages = append(messages, domain.ChatMessage{ID: id, Text: row[1]})
	}
	return messages, nil
}

// SanitizeChatName maps a chat title to a filesystem-safe artifact key.
func SanitizeChatName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "chat"
	}
	return b.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
