package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/bryanowens-dev/walker/internal/adapters/chat"
	"github.com/bryanowens-dev/walker/internal/coord"
	"github.com/bryanowens-dev/walker/internal/intake"
	"github.com/bryanowens-dev/walker/internal/service/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen to chat and enqueue tasks",
	Long: `Start the intake process: connect to chat over socket mode, answer
mentions with an acknowledgement, and enqueue one task per mention.
Cancel button presses and thread replies are recorded for the workers.

Examples:
  # Listen with the default config
  walker serve

  # Explicit config file
  walker serve --config /etc/walker/walker.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger = configLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	rdb, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	producer, err := queue.NewProducer(rdb, cfg.Worker.Queue, logger)
	if err != nil {
		return err
	}

	chatClient := chat.NewClient(cfg.Chat.BotToken, logger)
	handler, err := intake.NewHandler(intake.Deps{
		Chat:     chatClient,
		Files:    chatClient,
		Picker:   coord.NewSelector(cfg.Dogs, store, logger),
		Producer: producer,
		Inbox:    store,
		Cancels:  coord.NewCancelManager(store, logger),
		Logger:   logger,
		Channel:  cfg.Chat.ChannelID,
	})
	if err != nil {
		return err
	}

	socket := chat.NewSocket(cfg.Chat.AppToken, handler, logger)
	logger.Info("intake listening",
		"queue", cfg.Worker.Queue,
		"dogs", cfg.Dogs.Names(),
		"channel", cfg.Chat.ChannelID,
	)

	if err := socket.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("intake stopped")
	return nil
}
