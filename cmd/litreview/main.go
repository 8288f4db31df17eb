// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the litreview CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/litreview/internal/logging"
	"github.com/pdiddy/litreview/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys from .secrets/, .env and the environment.
var loadedSecrets map[string]string

// secretDefault returns fallback if set, otherwise the secret value for key.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return loadedSecrets[key]
}

// rootCmd is the base command for the litreview CLI.
var rootCmd = &cobra.Command{
	Use:   "litreview",
	Short: "Automated literature review pipeline",
	Long: `litreview turns a topic query into a literature review. It retrieves
candidate papers from arXiv, extracts their sections, summarizes and scores
each section, stores the summaries as vector embeddings, and composes a
cross-paper report with attributed findings, methods, gaps and directions.

Processed papers are remembered: later runs serve them from the knowledge
base instead of downloading and summarizing them again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logging.Setup(verbose)

		if err := secrets.LoadDotEnv(".env"); err != nil {
			return err
		}
		s, err := secrets.Resolve(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if verbose && len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./litreview.yaml or ~/.config/litreview/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show debug logs")
	rootCmd.PersistentFlags().String("knowledge-dir", "knowledge", "base directory for the knowledge base (contains index/, runs/, reports/)")
	rootCmd.PersistentFlags().String("papers-dir", "papers", "base directory for downloaded papers (contains raw/, metadata/)")

	viper.BindPFlag("knowledge_base.knowledge_dir", rootCmd.PersistentFlags().Lookup("knowledge-dir"))
	viper.BindPFlag("acquisition.papers_dir", rootCmd.PersistentFlags().Lookup("papers-dir"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("litreview")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "litreview"))
		}
	}

	viper.SetEnvPrefix("LITREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	registerDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
