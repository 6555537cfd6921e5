package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/steveyegge/launchboard/internal/board/logging"
)

var (
	configFile string
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "board",
	Short: "Collaborative launch board with real-time sync",
	Long: `board serves a shared board of items and folders. Every connected
session sees every change as soon as it is committed.

Configuration is read from flags, BOARD_* environment variables, and an
optional config file (board.yaml, board.toml or board.json in the working
directory or $HOME/.config/board).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := logging.Configure(loggingConfig())
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "f", "", "config file (default is ./board.yaml or $HOME/.config/board/board.yaml)")
	flags.String("dsn", "board.db", "Store DSN: a SQLite path, sqlite:<path>, postgres://..., or memory:")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")

	bindFlag("dsn", flags.Lookup("dsn"))
	bindFlag("log_level", flags.Lookup("log-level"))
	bindFlag("log_format", flags.Lookup("log-format"))
	bindFlag("log_file", flags.Lookup("log-file"))

	viper.SetDefault("log_max_size_mb", 50)
	viper.SetDefault("log_max_backups", 3)
	viper.SetDefault("log_max_age_days", 28)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("board")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/board")
	}

	// Allow environment variables to override file configuration.
	viper.SetEnvPrefix("BOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("read config")
	} else if configFile != "" {
		fmt.Fprintf(os.Stderr, "Error: failed to read config %s: %v\n", configFile, err)
		os.Exit(1)
	}
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func loggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = viper.GetString("log_level")
	cfg.Format = viper.GetString("log_format")
	cfg.File = viper.GetString("log_file")
	cfg.MaxSizeMB = viper.GetInt("log_max_size_mb")
	cfg.MaxBackups = viper.GetInt("log_max_backups")
	cfg.MaxAgeDays = viper.GetInt("log_max_age_days")
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
