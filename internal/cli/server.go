package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	"live-quiz-service/internal/pubsub"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var bus pubsub.Bus
	if cfg.Redis.Addr != "" {
		bus = pubsub.NewRedisBus(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	} else {
		log.Printf("no redis configured, falling back to single-process fan-out")
		bus = pubsub.NewMemoryBus()
	}
	defer bus.Close()

	var quizRepo app.QuizRepository
	var memberRepo app.MemberRepository
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		quizRepo = pgstore.NewQuizRepository(pool)
		memberRepo = pgstore.NewMemberRepository(pool)
	} else {
		quizRepo = memory.NewQuizRepository()
		memberRepo = memory.NewMemberRepository()
	}

	service := app.NewQuizService(quizRepo, memberRepo, bus, app.Options{
		CountdownTick:    config.Duration(cfg.Quiz.CountdownTick, time.Second),
		WatchdogInterval: config.Duration(cfg.Quiz.WatchdogInterval, 90*time.Second),
	})

	if cfg.Postgres.URL == "" {
		seedDemoQuizzes(ctx, service)
	}
	if err := service.RestoreActiveQuizTimers(ctx); err != nil {
		log.Printf("restoring quiz timers: %v", err)
	}

	gateway := transport.NewGateway(service, bus, config.Duration(cfg.Quiz.PingInterval, 30*time.Second))
	gatewayCtx, stopGateway := context.WithCancel(ctx)
	defer stopGateway()
	go func() {
		if err := gateway.Run(gatewayCtx); err != nil && gatewayCtx.Err() == nil {
			log.Printf("gateway stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", gateway.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoQuizzes provides a minimal quiz so the no-database mode is usable
// out of the box.
func seedDemoQuizzes(ctx context.Context, service *app.QuizService) {
	demo := domain.Quiz{
		Name:   "demo",
		Public: true,
		Questions: []domain.Question{
			{
				Type:  domain.SingleChoice,
				Text:  "What is 2 + 2?",
				Timer: 40,
				Options: []domain.AnswerOption{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
			},
			{
				Type:         domain.Ranged,
				Text:         "How many minutes are in a day?",
				Timer:        60,
				RangeMin:     1000,
				RangeMax:     2000,
				CorrectValue: 1440,
			},
		},
	}
	if _, err := service.SaveQuiz(ctx, demo); err != nil {
		log.Printf("seeding demo quiz: %v", err)
	}
}
