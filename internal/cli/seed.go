package cli

import (
	"context"
	"errors"
	"fmt"

	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"
	pgloader "liveboard/internal/infra/postgres"
	"liveboard/internal/infra/sqlite"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

type quizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error)
}

// NewSeedCmd validates quiz definitions from a file and upserts them into the
// configured definition store.
func NewSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quiz definitions from a YAML or JSON file into Postgres or SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.File
			}
			if file == "" {
				return errors.New("--file is required")
			}
			loader, err := memory.LoadQuizFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var saver quizSaver
			switch {
			case cfg.Postgres.URL != "":
				if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
					return err
				}
				pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pool.Close()
				saver = pgloader.NewQuizLoader(pool)
			case cfg.SQLite.Path != "":
				store, err := sqlite.Open(cfg.SQLite.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				saver = store
			default:
				return errors.New("seed needs postgres.url or sqlite.path")
			}

			n, err := seedQuizzes(ctx, saver, loader.Quizzes())
			if err != nil {
				return err
			}
			log.WithField("count", n).WithField("file", file).Info("quizzes seeded")

			catalogue, err := saver.ListQuizzes(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, q := range catalogue {
				fmt.Fprintf(out, "%s\t%s\n", q.ID, q.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON list of quizzes (defaults to quiz.file)")
	return cmd
}

func seedQuizzes(ctx context.Context, saver quizSaver, quizzes []domain.Quiz) (int, error) {
	for i, q := range quizzes {
		if err := saver.SaveQuiz(ctx, q); err != nil {
			return i, fmt.Errorf("save quiz %q: %w", q.ID, err)
		}
	}
	return len(quizzes), nil
}
