package main

import (
	"fmt"
	"os"

	"binder-oauth/config"
	"binder-oauth/server"

	"github.com/spf13/cobra"
	"github.com/umakantv/go-utils/db/migrations"
)

func newRootCmd() *cobra.Command {
	var configPath string

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the OAuth2 provider and repository token broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return server.StartServer(cfg)
		},
	}

	var name, dir string
	migrationCmd := &cobra.Command{
		Use:   "create-migration",
		Short: "Create an empty SQL migration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			migrations.CreateMigration(&name, &dir)
			return nil
		},
	}
	migrationCmd.Flags().StringVar(&name, "name", "", "Migration name (alphanum+underscore only)")
	migrationCmd.Flags().StringVar(&dir, "dir", ".", "Target directory for the new .sql file (e.g. ./migrations)")

	rootCmd := &cobra.Command{
		Use:          "binder-oauth",
		Short:        "OAuth2 provider and delegated repository authorization for BinderHub",
		SilenceUsage: true,
		RunE:         startCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.AddCommand(startCmd, migrationCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
