package main

import (
	"context"

	"finreport-qa/internal/bootstrap"
	"finreport-qa/internal/config"
	"finreport-qa/pkg/log"

	"github.com/spf13/cobra"
)

var (
	configPath string
	userID     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "finqa",
	Short:         "Ask questions about financial report PDFs",
	Long:          `Ingest financial report PDFs and answer questions about them using the configured index and language model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Setup(log.Options{Level: logLevel, Format: "console", Stderr: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "cli", "Owner id used for uploads and questions")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level (debug, info, warn, error)")
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// buildApp 组装依赖并启动后台工作池；返回的 stop 会等待工作池退出。
func buildApp(ctx context.Context, cfg config.Config) (*bootstrap.App, func(), error) {
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	app.Start(workerCtx)
	return app, func() {
		cancel()
		app.Close()
	}, nil
}
