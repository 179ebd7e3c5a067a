// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the kbforge CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// loadedSecrets holds API keys loaded from the secrets directory at startup.
	loadedSecrets map[string]string

	// logger is built from --verbose before any subcommand runs.
	logger = zap.NewNop()
)

// rootCmd is the base command for the kbforge CLI.
var rootCmd = &cobra.Command{
	Use:   "kbforge",
	Short: "Turn conversation exports into a Markdown knowledge base",
	Long: `kbforge ingests raw conversation exports (chat JSON, plain text) into a
file-based knowledge base of questions, answers and notes, cross-linked by
topic and person.

Each ingestion is one transactional run: the raw file is archived, analyzed,
reconciled against open questions, written to disk and summarized. A failed
run leaves the knowledge base exactly as it was.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(viper.GetBool("verbose"))
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		logger = l

		if cfg := viper.ConfigFileUsed(); cfg != "" {
			logger.Info("using config file", zap.String("path", cfg))
		}

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./kbforge.yaml or ~/.config/kbforge/kbforge.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "kb", "knowledge base directory")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of secret files (anthropic-api-key)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("secrets_dir", rootCmd.PersistentFlags().Lookup("secrets-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kbforge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "kbforge"))
		}
	}

	setDefaults()
	viper.SetEnvPrefix("KBFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "warning: reading config:", err)
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so an interrupted run
// rolls back instead of leaving a partial knowledge base.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
