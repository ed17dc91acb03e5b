package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tgseek/internal/domain"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
	"rsc.io/qr"
)

// Telethon-compatible chat id numbering: channels and supergroups live at
// -(1e12 + channel id), basic groups at -chat id, users at their user id.
// Deep links depend on this scheme.
const channelChatIDOffset int64 = 1_000_000_000_000

const historyBatchSize = 100

var (
	ErrNotConfigured  = errors.New("telegram api credentials are not configured")
	ErrChatNotFound   = errors.New("no chat with the requested name was found")
	ErrCodeNotPending = errors.New("telegram login code was not requested")
	ErrPasswordNeeded = errors.New("telegram password is required")
	ErrUnauthorized   = errors.New("telegram session is not authorized")
)

// Service is the chat source connector. It owns one session file and opens
// a short-lived MTProto client per operation.
type Service struct {
	sessionPath string
	logger      *zap.Logger

	mu           sync.RWMutex
	runMu        sync.Mutex
	apiID        int
	apiHash      string
	pendingPhone string
	pendingHash  string
}

func NewService(sessionPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sessionPath: sessionPath, logger: logger}
}

func (s *Service) Configure(apiID int, apiHash string) error {
	apiHash = strings.TrimSpace(apiHash)
	if apiID <= 0 || apiHash == "" {
		return ErrNotConfigured
	}
	s.mu.Lock()
	s.apiID = apiID
	s.apiHash = apiHash
	s.mu.Unlock()
	return nil
}

// ResolveChatID maps a chat name to its numeric id by exact title match
// over the account's dialog list.
func (s *Service) ResolveChatID(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrChatNotFound
	}

	var chatID int64
	found := false
	err := s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		if err := requireAuthorized(runCtx, client); err != nil {
			return err
		}
		return forEachDialog(runCtx, client, func(dialog resolvedDialog) error {
			if !found && dialog.title == name {
				chatID = dialog.chatID
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	return chatID, nil
}

// ExportMessages streams the complete history of the chat, newest first,
// exactly as the corpus store persists it. Messages without a text payload
// are emitted with empty text so the id sequence stays contiguous.
func (s *Service) ExportMessages(ctx context.Context, chatID int64, emit func(domain.ChatMessage) error) error {
	return s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		if err := requireAuthorized(runCtx, client); err != nil {
			return err
		}

		var peer tg.InputPeerClass
		err := forEachDialog(runCtx, client, func(dialog resolvedDialog) error {
			if peer == nil && dialog.chatID == chatID {
				peer = dialog.peer
			}
			return nil
		})
		if err != nil {
			return err
		}
		if peer == nil {
			return fmt.Errorf("%w: id %d", ErrChatNotFound, chatID)
		}
		return s.exportHistory(runCtx, client.API(), peer, emit)
	})
}

func (s *Service) exportHistory(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, emit func(domain.ChatMessage) error) error {
	offsetID := 0
	for {
		page, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    historyBatchSize,
		})
		if err != nil {
			if wait, ok := tgerr.AsFloodWait(err); ok {
				s.logger.Warn("flood wait during export", zap.Duration("wait", wait))
				select {
				case <-time.After(wait + time.Second):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return err
		}

		modified, ok := page.AsModified()
		if !ok {
			return nil
		}
		pageMessages := modified.GetMessages()
		if len(pageMessages) == 0 {
			return nil
		}

		pageMinID := 0
		for _, msgClass := range pageMessages {
			id, text, ok := messagePayload(msgClass)
			if !ok {
				continue
			}
			if id > 0 && (pageMinID == 0 || id < pageMinID) {
				pageMinID = id
			}
			if err := emit(domain.ChatMessage{ID: int64(id), Text: text}); err != nil {
				return err
			}
		}

		if pageMinID <= 0 || pageMinID == offsetID {
			return nil
		}
		if len(pageMessages) < historyBatchSize {
			return nil
		}
		offsetID = pageMinID
	}
}

// messagePayload extracts (id, text) from any history entry. Service
// messages carry no text but keep their id.
func messagePayload(msgClass tg.MessageClass) (int, string, bool) {
	switch msg := msgClass.(type) {
	case *tg.Message:
		return msg.ID, msg.Message, true
	case *tg.MessageService:
		return msg.ID, "", true
	case *tg.MessageEmpty:
		return msg.ID, "", true
	default:
		return 0, "", false
	}
}

// Authorized reports whether the stored session can make API calls, and the
// display name of the logged-in user when it can.
func (s *Service) Authorized(ctx context.Context) (bool, string, error) {
	authorized := false
	display := ""
	err := s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		status, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		authorized = status.Authorized
		if status.User != nil {
			display = formatUserDisplay(status.User)
		}
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return authorized, display, nil
}

// RequestCode starts the phone-code login flow.
func (s *Service) RequestCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("telegram phone is required")
	}

	return s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		current, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		if current.Authorized {
			s.clearPending()
			return nil
		}

		sentCode, sendErr := client.Auth().SendCode(runCtx, phone, auth.SendCodeOptions{})
		if sendErr != nil {
			return sendErr
		}
		switch sent := sentCode.(type) {
		case *tg.AuthSentCode:
			s.setPending(phone, sent.PhoneCodeHash)
		case *tg.AuthSentCodeSuccess:
			s.clearPending()
		default:
			return fmt.Errorf("unexpected send code result type: %T", sentCode)
		}
		return nil
	})
}

// SignIn completes the phone-code flow, optionally with the 2FA password.
func (s *Service) SignIn(ctx context.Context, code, password string) error {
	code = strings.TrimSpace(code)
	password = strings.TrimSpace(password)
	if code == "" {
		return errors.New("telegram login code is required")
	}

	phone, hash, ok := s.pendingCode()
	if !ok {
		return ErrCodeNotPending
	}

	err := s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		_, signInErr := client.Auth().SignIn(runCtx, phone, code, hash)
		if errors.Is(signInErr, auth.ErrPasswordAuthNeeded) {
			if password == "" {
				return ErrPasswordNeeded
			}
			_, pwdErr := client.Auth().Password(runCtx, password)
			return pwdErr
		}
		return signInErr
	})
	if err != nil {
		return err
	}
	s.clearPending()
	return nil
}

// QRLogin runs the QR login flow, calling showQR with each fresh code to
// display. A 2FA-protected account is reported via ErrPasswordNeeded; use
// the phone-code flow for those.
func (s *Service) QRLogin(ctx context.Context, showQR func(code *qr.Code) error) error {
	dispatcher := tg.NewUpdateDispatcher()
	loggedIn := qrlogin.OnLoginToken(dispatcher)

	return s.withClientOptions(ctx, tdtelegram.Options{
		SessionStorage: NewSessionStorage(s.sessionPath),
		UpdateHandler:  dispatcher,
	}, func(runCtx context.Context, client *tdtelegram.Client) error {
		status, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		if status.Authorized {
			return nil
		}

		_, authErr := client.QR().Auth(runCtx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			code, codeErr := qr.Encode(token.URL(), qr.M)
			if codeErr != nil {
				return codeErr
			}
			return showQR(code)
		})
		if isPasswordNeeded(authErr) {
			return ErrPasswordNeeded
		}
		return authErr
	})
}

type resolvedDialog struct {
	chatID int64
	title  string
	peer   tg.InputPeerClass
}

func forEachDialog(ctx context.Context, client *tdtelegram.Client, fn func(resolvedDialog) error) error {
	builder := query.GetDialogs(client.API()).BatchSize(100)
	return builder.ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		dialog, ok := dialogFromElem(elem)
		if !ok || strings.TrimSpace(dialog.title) == "" {
			return nil
		}
		dialog.peer = elem.Peer
		return fn(dialog)
	})
}

func dialogFromElem(elem dialogs.Elem) (resolvedDialog, bool) {
	switch peer := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		user, ok := elem.Entities.User(peer.UserID)
		if !ok || user == nil {
			return resolvedDialog{}, false
		}
		title := formatUserDisplay(user)
		if user.Self {
			title = "Saved Messages"
		}
		return resolvedDialog{chatID: peer.UserID, title: title}, true

	case *tg.PeerChat:
		chat, ok := elem.Entities.Chat(peer.ChatID)
		if !ok || chat == nil {
			return resolvedDialog{}, false
		}
		return resolvedDialog{chatID: -peer.ChatID, title: chat.Title}, true

	case *tg.PeerChannel:
		channel, ok := elem.Entities.Channel(peer.ChannelID)
		if !ok || channel == nil {
			return resolvedDialog{}, false
		}
		return resolvedDialog{chatID: -(channelChatIDOffset + peer.ChannelID), title: channel.Title}, true
	}
	return resolvedDialog{}, false
}

func formatUserDisplay(user *tg.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(strings.Join([]string{user.FirstName, user.LastName}, " "))
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("User %d", user.ID)
}

func requireAuthorized(ctx context.Context, client *tdtelegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return err
	}
	if !status.Authorized {
		return ErrUnauthorized
	}
	return nil
}

func isPasswordNeeded(err error) bool {
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return true
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return rpcErr.IsOneOf("SESSION_PASSWORD_NEEDED")
	}
	return false
}

func (s *Service) pendingCode() (phone string, hash string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pendingPhone == "" || s.pendingHash == "" {
		return "", "", false
	}
	return s.pendingPhone, s.pendingHash, true
}

func (s *Service) setPending(phone, hash string) {
	s.mu.Lock()
	s.pendingPhone = phone
	s.pendingHash = hash
	s.mu.Unlock()
}

func (s *Service) clearPending() {
	s.mu.Lock()
	s.pendingPhone = ""
	s.pendingHash = ""
	s.mu.Unlock()
}

func (s *Service) credentials() (int, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiID <= 0 || strings.TrimSpace(s.apiHash) == "" {
		return 0, "", ErrNotConfigured
	}
	return s.apiID, s.apiHash, nil
}

func (s *Service) withClient(ctx context.Context, fn func(context.Context, *tdtelegram.Client) error) error {
	return s.withClientOptions(ctx, tdtelegram.Options{
		SessionStorage: NewSessionStorage(s.sessionPath),
	}, fn)
}

func (s *Service) withClientOptions(ctx context.Context, opts tdtelegram.Options, fn func(context.Context, *tdtelegram.Client) error) error {
	apiID, apiHash, err := s.credentials()
	if err != nil {
		return err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.sessionPath), 0o755); err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = s.logger.Named("mtproto")
	}
	client := tdtelegram.NewClient(apiID, apiHash, opts)
	return client.Run(ctx, func(runCtx context.Context) error {
		return fn(runCtx, client)
	})
}
