// =============================================================================
// 实例协调器入口
// =============================================================================
// 在 agent 所在主机上运行：定期心跳、监听实时通道、分发任务并回复
//
// 使用方法:
//
//	llm-coordinator claude-rpi5
//	llm-coordinator codex-hpc --config config.yaml --api-url http://broker:8000
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/client"
	"github.com/BaSui01/agentbridge/config"
	"github.com/BaSui01/agentbridge/coordinator"
	"github.com/BaSui01/agentbridge/internal/logging"
	"github.com/BaSui01/agentbridge/internal/telemetry"
	"github.com/BaSui01/agentbridge/types"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

const banner = `
   _                    _   _          _     _
  /_\  __ _ ___ _ _  __| |_| |__ _ _ (_)__| |__ _ ___
 / _ \/ _' / -_) ' \|  _| '_ \ '_|| / _' / _' / -_)
/_/ \_\__, \___|_||_|\__|_.__/_|  |_\__,_\__, \___|
      |___/                              |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run 解析参数并运行协调器直到 ctx 结束，返回退出码
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("llm-coordinator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiURL := fs.String("api-url", "", "Broker API URL (overrides coordinator.api_url)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: llm-coordinator <instance-name> [--config path] [--api-url url]")
		fs.PrintDefaults()
	}

	// 实例名在前，flag 在后
	if len(args) < 1 || args[0] == "" || args[0][0] == '-' {
		fs.Usage()
		return 1
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if !types.ValidInstanceName(name) {
		fmt.Fprintf(stderr, "Invalid instance name: %q\n", name)
		return 1
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *apiURL != "" {
		cfg.Coordinator.APIURL = *apiURL
	}

	logger := logging.MustNew(cfg.Log).With(zap.String("llm", name))
	defer func() { _ = logger.Sync() }()

	if err := runCoordinator(ctx, name, cfg, stdout, logger); err != nil {
		logger.Error("coordinator failed", zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runCoordinator(ctx context.Context, name string, cfg *config.Config, stdout io.Writer, logger *zap.Logger) error {
	role := types.RoleOf(name)
	printBanner(stdout, name, role, cfg.Coordinator)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, name, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	api, err := client.New(cfg.Coordinator.APIURL, cfg.Coordinator.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	c, err := coordinator.New(coordinator.FromConfig(name, cfg.Coordinator), api, logger)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	logger.Info("coordinator started",
		zap.String("role", string(role)),
		zap.String("api_url", cfg.Coordinator.APIURL),
		zap.Strings("tasks", c.Dispatcher().Tasks()),
	)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("coordinator stopped")
	return nil
}

// printBanner 打印启动横幅
func printBanner(w io.Writer, name string, role types.Role, cfg config.CoordinatorConfig) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s (%s)\n\n", Version, GitCommit)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Instance:  %s\n", name)
	green.Fprint(w, "    ▶ ")
	fmt.Fprint(w, "Role:      ")
	if role == types.RoleUnknown {
		yellow.Fprintln(w, string(role))
	} else {
		fmt.Fprintln(w, string(role))
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Broker:    %s\n", cfg.APIURL)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Heartbeat: %s\n\n", cfg.HeartbeatInterval)
}
