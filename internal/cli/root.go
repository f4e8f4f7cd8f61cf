package cli

import (
	"os"
	"strings"

	"liveboard/internal/config"
	"liveboard/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serviceName = "liveboard"

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Live classroom sessions: widget broadcasts and quizzes over a shared document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "config/config.yaml", "path to YAML config")
	flags.String("port", "", "port to listen on (overrides server.port)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("redis-addr", "", "Redis address for the shared document store")
	flags.String("postgres-url", "", "Postgres DSN for quiz definitions")
	flags.String("sqlite-path", "", "SQLite file for quiz definitions")
	flags.String("quiz-file", "", "YAML or JSON file with quiz definitions")

	cmd.AddCommand(NewStartCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewSeedCmd())
	return cmd
}

// settingsFor binds the command's flags and LIVEBOARD_* environment (including
// a local .env file) to a fresh viper instance.
func settingsFor(cmd *cobra.Command) *viper.Viper {
	// a missing .env is fine; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	// InheritedFlags merges the persistent flags into Flags as a side effect
	_ = v.BindPFlags(cmd.InheritedFlags())
	_ = v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("LIVEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the YAML file named by --config and overlays any flag or
// environment overrides on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, *logrus.Entry, error) {
	v := settingsFor(cmd)
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return cfg, nil, err
	}
	overlay(&cfg.Server.Port, v.GetString("port"))
	overlay(&cfg.Log.Level, v.GetString("log-level"))
	overlay(&cfg.Redis.Addr, v.GetString("redis-addr"))
	overlay(&cfg.Postgres.URL, v.GetString("postgres-url"))
	overlay(&cfg.SQLite.Path, v.GetString("sqlite-path"))
	overlay(&cfg.Quiz.File, v.GetString("quiz-file"))
	if cfg.Server.Port == "" {
		cfg.Server.Port = os.Getenv("PORT")
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	return cfg, logging.New(serviceName, cfg.Log.Level), nil
}

func overlay(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
