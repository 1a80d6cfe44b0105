package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			var err error
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				target, err = config.ExpandPath(args[0])
			} else {
				target, err = config.DefaultConfigPath()
			}
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set metadata.tmdb_api_key (or DISCARCHIVE_TMDB_API_KEY) and destination before starting discarchived.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing configuration")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			cfg, resolved, exists, err := config.Load(strings.TrimSpace(path))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Destination: %s\n", cfg.Destination.Type)
			fmt.Fprintf(out, "Providers:   %s\n", orDash(strings.Join(cfg.EnabledProviders(), ", ")))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
