package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ToolPilot/internal/anchor"
	"ToolPilot/internal/api"
	"ToolPilot/internal/browser"
	"ToolPilot/internal/config"
	"ToolPilot/internal/events"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/knowledge"
	"ToolPilot/internal/llm"
	"ToolPilot/internal/llm/bridge"
	"ToolPilot/internal/llm/openai"
	"ToolPilot/internal/observability/alerting"
	"ToolPilot/internal/observability/metrics"
	"ToolPilot/internal/router"
	"ToolPilot/internal/session"
	"ToolPilot/internal/storage"
	"ToolPilot/internal/storage/mysql"
	"ToolPilot/pkg/logger"
)

var (
	flagConfig   string
	flagServe    bool
	flagProvider string
	flagModel    string
)

func main() {
	root := &cobra.Command{
		Use:   "toolpilot",
		Short: "Conversational assistant that routes requests to chat, browser, calendar and email tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to the YAML configuration file")
	root.Flags().BoolVar(&flagServe, "serve", false, "also expose the HTTP API")
	root.Flags().StringVar(&flagProvider, "provider", "", "override the LLM provider (openai, bridge)")
	root.Flags().StringVar(&flagModel, "model", "", "override the hosted model name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, tier, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	sink, err := events.FromConfig(cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	provider, err := knowledge.NewStaticProvider(cfg.Knowledge.Source)
	if err != nil {
		return err
	}

	gw := gateway.FromConfig(cfg.Tools)
	defer gw.CloseAll()

	var engine browser.Engine
	if cfg.Browser.ScriptPath != "" {
		engine, err = browser.NewSubprocessEngine(
			cfg.Browser.Executable, cfg.Browser.ScriptPath, cfg.Browser.Args, cfg.Browser.WorkingDir)
		if err != nil {
			return err
		}
	}

	alerts := alerting.NewDispatcher(alerting.LogNotifier{})
	registry := metrics.NewRegistry()
	budget := anchor.BudgetFromConfig(tier, cfg.Budgets)
	rt := router.New(client)

	factory := func(id string) *session.Manager {
		return session.New(id, client, rt, gw, budget,
			session.WithEngine(engine),
			session.WithKnowledge(provider, cfg.Knowledge.MaxResults),
			session.WithRepository(repo),
			session.WithEventSink(sink),
			session.WithAlerts(alerts),
			session.WithMetrics(registry),
			session.WithConfigSummary(summarize(cfg, tier, budget)),
		)
	}

	if flagServe || cfg.Server.Enabled {
		hub := session.NewHub(factory)
		server := api.NewServer(cfg.Server.Address, hub, gw, registry)
		go func() {
			if err := server.Start(); err != nil {
				logger.L().Error("HTTP API 退出", slog.Any("error", err))
			}
		}()
		defer shutdownServer(server)
	}

	return runREPL(factory(""))
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if flagProvider != "" {
		cfg.LLM.Provider = flagProvider
		if cfg.LLM.Tier == "" || flagProvider == "openai" {
			cfg.LLM.Tier = "hosted"
		}
		if flagProvider == "bridge" {
			cfg.LLM.Tier = "local"
		}
	}
	if flagModel != "" {
		cfg.LLM.OpenAI.Model = flagModel
	}
	return cfg, nil
}

func buildLLMClient(cfg *config.Config) (llm.Client, llm.Tier, error) {
	tier := llm.ParseTier(cfg.LLM.Tier)

	switch cfg.LLM.Provider {
	case "openai":
		apiKey := cfg.LLM.OpenAI.APIKey
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.LLM.OpenAI.APIKeyEnv)
		}
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, tier, err
		}
		return client, tier, nil

	case "bridge":
		scriptPath := bridge.ResolveScriptPath(cfg.LLM.Bridge.WorkingDir, cfg.LLM.Bridge.ScriptPath)
		client, err := bridge.NewClient(cfg.LLM.Bridge.Executable, scriptPath, cfg.LLM.Bridge.WorkingDir)
		if err != nil {
			return nil, tier, err
		}
		return client, tier, nil

	default:
		return nil, tier, fmt.Errorf("未知的 LLM provider: %s", cfg.LLM.Provider)
	}
}

func buildRepository(cfg *config.Config) (storage.TurnRepository, error) {
	switch cfg.History.Driver {
	case "", "memory":
		return storage.NewMemoryRepository(), nil
	case "mysql":
		return mysql.NewRepository(cfg.History)
	default:
		return nil, fmt.Errorf("未知的转录存储驱动: %s", cfg.History.Driver)
	}
}

func summarize(cfg *config.Config, tier llm.Tier, budget anchor.StepBudget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider:      %s (tier=%s)\n", cfg.LLM.Provider, tier)
	if cfg.LLM.Provider == "openai" {
		model := cfg.LLM.OpenAI.Model
		if model == "" {
			model = "(default)"
		}
		fmt.Fprintf(&b, "model:         %s\n", model)
	}
	fmt.Fprintf(&b, "step budget:   %d steps, %s per step\n", budget.MaxSteps, budget.StepTimeout)
	fmt.Fprintf(&b, "history:       %s\n", cfg.History.Driver)
	fmt.Fprintf(&b, "events:        %s\n", cfg.Events.Driver)
	fmt.Fprintf(&b, "browser:       %s\n", enabledIf(cfg.Browser.ScriptPath != ""))
	fmt.Fprintf(&b, "calendar tool: %s\n", enabledIf(cfg.Tools.Calendar.Command != ""))
	fmt.Fprintf(&b, "email tool:    %s", enabledIf(cfg.Tools.Email.Command != ""))
	return b.String()
}

func enabledIf(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
