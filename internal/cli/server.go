package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizzer/internal/app"
	"quizzer/internal/config"
	"quizzer/internal/domain"
	"quizzer/internal/infra/memory"
	"quizzer/internal/infra/postgres"
	redisinfra "quizzer/internal/infra/redis"
	"quizzer/internal/infra/xlsx"
	"quizzer/internal/logger"
	"quizzer/internal/transport/discord"
	transport "quizzer/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(cfg *config.Config, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server and chat transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *cfg, *port)
		},
	}
}

func runServer(parent context.Context, cfg config.Config, portFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var loader memory.CategoryLoader = questionLoader(cfg, b)
	if b.redis != nil {
		loader = redisinfra.NewCategoryCache(b.redis, loader, quizTTL)
	}
	pool := memory.NewQuestionPool(loader, quizTTL)

	var registry app.SessionRegistry = memory.NewSessionStore()
	if b.redis != nil {
		registry = redisinfra.NewSessionStore(b.redis, config.Duration(cfg.Redis.TTL, 15*time.Minute))
	}

	hub := transport.NewHub()
	var bot *discord.Bot
	notifiers := app.Notifiers{hub}
	if b.redis != nil {
		notifiers = append(notifiers, redisinfra.NewPublisher(b.redis))
	}
	notifiers = append(notifiers, app.NotifierFunc(func(ctx context.Context, e domain.Event) {
		if bot != nil {
			bot.Notify(ctx, e)
		}
	}))

	settings := app.DefaultSettings()
	settings.LobbyDuration = cfg.LobbyDuration()
	settings.PointsPerAnswer = cfg.Quiz.Points
	settings.RateLimit = cfg.RateLimit()

	engine := app.NewEngine(app.Config{
		Pool:     pool,
		Registry: registry,
		Scores:   b.scores,
		Notifier: notifiers,
		Settings: settings,
	})

	if cfg.Discord.Token != "" {
		bot, err = discord.New(discord.Config{
			Token:         cfg.Discord.Token,
			Prefix:        cfg.Discord.Prefix,
			Channels:      cfg.Discord.Channels,
			Admins:        cfg.Admins,
			Category:      cfg.Quiz.DefaultCategory,
			QuestionCount: cfg.Quiz.QuestionCount,
			TimeLimit:     cfg.AnswerTimeLimit(),
		}, engine)
		if err != nil {
			return err
		}
	}

	ws := transport.NewWSHandler(engine, hub, cfg.Admins, transport.StartDefaults{
		Category:      cfg.Quiz.DefaultCategory,
		QuestionCount: cfg.Quiz.QuestionCount,
		TimeLimit:     cfg.AnswerTimeLimit(),
	})
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(engine, ws),
		ReadHeaderTimeout: 15 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bot != nil {
		eg.Go(func() error {
			return bot.Run(ctx)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down quiz service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not finish before shutdown deadline", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// questionLoader picks the corpus source: the questions table when Postgres
// is configured, else a spreadsheet, else a directory of JSON files.
func questionLoader(cfg config.Config, b *backends) memory.CategoryLoader {
	switch {
	case b.pg != nil:
		return postgres.NewQuestionLoader(b.pg)
	case cfg.Quiz.XLSX != "":
		return xlsx.NewCategoryLoader(cfg.Quiz.XLSX)
	case cfg.Quiz.DataDir != "":
		return memory.NewDirCategoryLoader(cfg.Quiz.DataDir)
	}
	return memory.NewDirCategoryLoader("quiz_data")
}
