package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/config"
	"github.com/grovechat/grove/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Branching-conversation client",
	Long:  `Client for a tree-structured conversation service: send messages, stream replies, fork branches, inspect trees.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .grove/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("server", "s", "", "server base URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
}

func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// newClient builds the API client from the loaded config.
func newClient() *api.Client {
	cfg := config.Get()
	client := api.NewClientWithTimeout(cfg.Server.URL, cfg.Server.Timeout)
	client.SetStreamBuffer(cfg.Server.StreamBuffer)
	return client
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
