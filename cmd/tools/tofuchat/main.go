package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tofu-tavern/backend/internal/app"
	"github.com/zhouzirui/tofu-tavern/backend/internal/config"
	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
)

type options struct {
	personaID string
	sessionID string
	plain     bool
	logLevel  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "tofuchat",
		Short:         "Chat with Tofu the cat in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), opts)
			var startup *config.StartupError
			if errors.As(err, &startup) {
				fmt.Fprintf(os.Stderr, "Tofu cannot start: %s (%s)\n", startup.Key, startup.Reason)
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "tofuchat: %v\n", err)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.personaID, "persona", "", "persona id (defaults to tofu)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "resume a stored session by id")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "disable markdown rendering")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	var session *chatService.Conversation
	if opts.sessionID != "" {
		session, err = deps.Chat.GetSession(ctx, opts.sessionID)
	} else {
		session, err = deps.Chat.CreateSession(ctx, opts.personaID)
	}
	if err != nil {
		return err
	}

	r := &repl{
		session: session,
		in:      os.Stdin,
		out:     os.Stdout,
		render:  !opts.plain && isatty.IsTerminal(os.Stdout.Fd()),
		copy:    clipboard.WriteAll,
	}
	return r.run(ctx)
}
