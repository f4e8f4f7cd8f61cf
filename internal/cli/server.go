package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveboard/internal/app"
	"liveboard/internal/config"
	"liveboard/internal/docstore"
	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"
	pgloader "liveboard/internal/infra/postgres"
	infraredis "liveboard/internal/infra/redis"
	"liveboard/internal/infra/sqlite"
	"liveboard/internal/metrics"
	transport "liveboard/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, log)
		},
	}
}

// closers collects shutdown hooks in acquisition order.
type closers []func()

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServer(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	var cleanup closers
	defer cleanup.close()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := m.Store(newDocStore(cfg, redisClient, log))

	loader, closeLoader, err := openQuizLoader(ctx, cfg, log)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeLoader)

	quizTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	handler := transport.NewHandler(transport.Config{
		Store:    store,
		Quizzes:  quizRepo,
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		ManagerOptions: []app.Option{
			app.WithAutoProgressGrace(config.TTLDuration(cfg.Quiz.AutoProgressGrace, app.DefaultAutoProgressGrace)),
		},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

// newDocStore shares session state through Redis when configured; otherwise
// the store lives in this process only.
func newDocStore(cfg config.Config, client *redis.Client, log *logrus.Entry) docstore.Store {
	if client == nil {
		log.Warn("redis not configured, session state is process-local")
		return memory.NewDocStore()
	}
	return infraredis.NewDocStore(client,
		infraredis.WithTTL(config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)),
		infraredis.WithLogger(log),
	)
}

// openQuizLoader picks the quiz definition source: Postgres, then SQLite,
// then a fixture file, then the built-in sample.
func openQuizLoader(ctx context.Context, cfg config.Config, log *logrus.Entry) (memory.QuizLoader, func(), error) {
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info("quiz definitions from postgres")
		return pgloader.NewQuizLoader(pool), pool.Close, nil
	case cfg.SQLite.Path != "":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLite.Path).Info("quiz definitions from sqlite")
		return store, func() { _ = store.Close() }, nil
	case cfg.Quiz.File != "":
		loader, err := memory.LoadQuizFile(cfg.Quiz.File)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.Quiz.File).Info("quiz definitions from file")
		return loader, func() {}, nil
	}
	log.Warn("no quiz source configured, serving the sample quiz")
	return memory.NewStaticQuizLoader(sampleQuizzes()), func() {}, nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:    "sample",
			Title: "Sample quiz",
			Questions: []domain.QuizQuestion{
				{ID: "q1", Text: "What is 2 + 2?", Type: domain.QuestionMC, TimeLimit: 20, CorrectAnswer: "4", IncorrectAnswers: []string{"3", "5"}},
				{ID: "q2", Text: "The capital of Japan is ____.", Type: domain.QuestionFIB, TimeLimit: 30, CorrectAnswer: "Tokyo"},
				{ID: "q3", Text: "Order from smallest to largest", Type: domain.QuestionOrdering, CorrectAnswer: "1|2|3"},
			},
		},
	}
}
