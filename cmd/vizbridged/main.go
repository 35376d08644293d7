package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"VizBridge/internal/config"
	"VizBridge/pkg/logger"
)

// rootCmd 默认以服务模式运行。
var rootCmd = &cobra.Command{
	Use:           "vizbridged",
	Short:         "Bridge between a visualization host and an analytics control process.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (JSON or YAML); defaults to $VIZBRIDGE_CONFIG")
	rootCmd.AddCommand(serveCmd, schemaCmd)
}

// main 是桥接守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vizbridged 运行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 按 --config、VIZBRIDGE_CONFIG 的顺序定位配置文件，都未设置且默认文件不存在时使用默认配置。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("VIZBRIDGE_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "vizbridge.yaml")
		if _, err := os.Stat(path); err != nil {
			return config.Default("."), nil
		}
	}
	return config.Load(path)
}

func initLogging(cfg *config.Config) error {
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}
