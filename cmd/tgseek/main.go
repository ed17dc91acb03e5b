package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tgseek/internal/bot"
	"tgseek/internal/config"
	"tgseek/internal/engine"
	"tgseek/internal/llm"
	"tgseek/internal/mcpserver"
	"tgseek/internal/store/sqlite"
	"tgseek/internal/telegram"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"rsc.io/qr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

type app struct {
	chat     string
	language string
	rerank   bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tgseek",
		Short:         "Semantic search over a Telegram chat's history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			a.logger = logger
			cmd.SetContext(signalContext(cmd.Context()))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.chat, "chat", "", "Telegram chat name (exact dialog title)")
	root.PersistentFlags().StringVar(&a.language, "language", "english", "language of the chat, for stemming")
	root.PersistentFlags().BoolVar(&a.rerank, "rerank", false, "rerank candidates with the configured LLM")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newSearchCmd(a))
	root.AddCommand(newBotCmd(a))
	root.AddCommand(newHistoryCmd(a))
	return root
}

func signalContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, _ := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ctx
}

func (a *app) connector(session string) (*telegram.Service, error) {
	svc := telegram.NewService(a.cfg.SessionPath(session), a.logger)
	if err := svc.Configure(a.cfg.Credentials.APIID, a.cfg.Credentials.APIHash); err != nil {
		return nil, err
	}
	return svc, nil
}

// newEngine builds the search engine for the selected chat. A missing
// --chat falls back to the last chat used on this machine.
func (a *app) newEngine(ctx context.Context, store *sqlite.Store) (*engine.Engine, error) {
	if a.chat == "" {
		last, err := store.GetSetting(ctx, "last_chat", "")
		if err != nil {
			return nil, err
		}
		if last == "" {
			return nil, errors.New("--chat is required")
		}
		a.logger.Info("using last chat", zap.String("chat", last))
		a.chat = last
	}
	connector, err := a.connector("user")
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		ChatName:    a.chat,
		Language:    a.language,
		Rerank:      a.rerank,
		MessagesDir: a.cfg.MessagesDir(),
		ModelsDir:   a.cfg.ModelsDir(),
		Connector:   connector,
		Logger:      a.logger,
	}
	if a.rerank {
		opts.LLMClient = llm.NewHTTPClient(a.cfg.LLMBaseURL, a.cfg.Credentials.OpenAIToken, a.cfg.LLMModel)
	}
	eng, err := engine.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := store.SetSetting(ctx, "last_chat", a.chat); err != nil {
		a.logger.Warn("could not remember chat", zap.Error(err))
	}
	return eng, nil
}

func (a *app) openStore(ctx context.Context) (*sqlite.Store, error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.Open(a.cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newLoginCmd(a *app) *cobra.Command {
	var phone string
	var useQR bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize the Telegram user session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.connector("user")
			if err != nil {
				return err
			}

			if authorized, display, err := svc.Authorized(ctx); err == nil && authorized {
				fmt.Printf("Already logged in as %s.\n", display)
				return nil
			}

			if useQR {
				err := svc.QRLogin(ctx, func(code *qr.Code) error {
					fmt.Println("Scan this QR code with the Telegram app:")
					printQR(code)
					return nil
				})
				if errors.Is(err, telegram.ErrPasswordNeeded) {
					return errors.New("account has 2FA enabled, use the phone-code login instead")
				}
				if err != nil {
					return err
				}
				fmt.Println("Logged in.")
				return nil
			}

			reader := bufio.NewReader(os.Stdin)
			if phone == "" {
				fmt.Print("Please input your phone number: ")
				phone = readLine(reader)
			}
			if err := svc.RequestCode(ctx, phone); err != nil {
				return err
			}
			fmt.Print("Please input the login code: ")
			code := readLine(reader)
			err = svc.SignIn(ctx, code, "")
			if errors.Is(err, telegram.ErrPasswordNeeded) {
				fmt.Print("Please input your 2FA password: ")
				password := readLine(reader)
				err = svc.SignIn(ctx, code, password)
			}
			if err != nil {
				return err
			}
			fmt.Println("Logged in.")
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number in international format")
	cmd.Flags().BoolVar(&useQR, "qr", false, "log in by scanning a QR code")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search the chat, or start an interactive prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			eng, err := a.newEngine(ctx, store)
			if err != nil {
				return err
			}

			runQuery := func(query string) error {
				results, err := eng.Query(ctx, query)
				if err != nil {
					return err
				}
				if err := store.RecordQuery(ctx, a.chat, query, len(results)); err != nil {
					a.logger.Warn("query history write failed", zap.Error(err))
				}
				if len(results) == 0 {
					fmt.Println("No results.")
					return nil
				}
				for _, result := range results {
					fmt.Printf("%d%%: %s\n    %s\n", int(result.Similarity*100), result.MessageText, result.MessageLink)
				}
				return nil
			}

			if len(args) > 0 {
				return runQuery(strings.Join(args, " "))
			}

			reader := bufio.NewReader(os.Stdin)
			for {
				fmt.Print("Please input a search query: ")
				query := readLine(reader)
				if query == "" {
					return nil
				}
				if err := runQuery(query); err != nil {
					return err
				}
			}
		},
	}
}

func newBotCmd(a *app) *cobra.Command {
	var mcpPort int
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the /search bot front-end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if strings.TrimSpace(a.cfg.Credentials.BotToken) == "" {
				return errors.New("bot token is not configured")
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			eng, err := a.newEngine(ctx, store)
			if err != nil {
				return err
			}

			b := bot.New(
				a.cfg.Credentials.APIID,
				a.cfg.Credentials.APIHash,
				a.cfg.Credentials.BotToken,
				a.chat,
				a.cfg.SessionPath("bot"),
				eng,
				store,
				a.logger,
			)

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return b.Run(groupCtx)
			})
			if mcpPort > 0 {
				server := mcpserver.New(eng)
				if err := server.Start(mcpPort); err != nil {
					return err
				}
				a.logger.Info("mcp server started", zap.String("endpoint", server.Endpoint()))
				group.Go(func() error {
					<-groupCtx.Done()
					stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Stop(stopCtx)
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().IntVar(&mcpPort, "mcp-port", 0, "also expose the engine over MCP on this local port")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.RecentQueries(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No queries yet.")
				return nil
			}
			for _, record := range records {
				asked := time.Unix(record.AskedAtUnix, 0).Format(time.DateTime)
				fmt.Printf("%s  %-20s %q (%d results)\n", asked, record.ChatName, record.Query, record.ResultCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of queries to show")
	return cmd
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func printQR(code *qr.Code) {
	for y := -1; y <= code.Size; y++ {
		var b strings.Builder
		for x := -1; x <= code.Size; x++ {
			if code.Black(x, y) {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		fmt.Println(b.String())
	}
}
