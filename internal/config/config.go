package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 ToolPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Browser   BrowserConfig   `yaml:"browser"`
	Tools     ToolsConfig     `yaml:"tools"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Budgets   BudgetsConfig   `yaml:"budgets"`
	Logging   LoggingConfig   `yaml:"logging"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制可选 HTTP API 的监听地址等参数。
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	Tier     string       `yaml:"tier"`
	OpenAI   OpenAIConfig `yaml:"openai"`
	Bridge   BridgeConfig `yaml:"bridge"`
}

// OpenAIConfig 描述托管大模型服务的访问信息。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BridgeConfig 描述通过本地脚本完成推理时所需的信息。
type BridgeConfig struct {
	Executable string `yaml:"executable"`
	ScriptPath string `yaml:"script_path"`
	WorkingDir string `yaml:"working_dir"`
}

// BrowserConfig 描述浏览器自动化引擎的启动方式。
type BrowserConfig struct {
	Executable string   `yaml:"executable"`
	ScriptPath string   `yaml:"script_path"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
}

// ToolsConfig 汇总所有外部工具服务的配置。
type ToolsConfig struct {
	Calendar ToolServerConfig `yaml:"calendar"`
	Email    ToolServerConfig `yaml:"email"`
	Backoff  BackoffConfig    `yaml:"backoff"`
}

// ToolServerConfig 描述单个外部工具服务进程的启动与健康检查参数。
type ToolServerConfig struct {
	Command              string            `yaml:"command"`
	Args                 []string          `yaml:"args"`
	Env                  map[string]string `yaml:"env"`
	WorkingDir           string            `yaml:"working_dir"`
	HealthTimeoutSeconds int               `yaml:"health_timeout_seconds"`
	InvokeTimeoutSeconds int               `yaml:"invoke_timeout_seconds"`
}

// HealthTimeout 返回健康检查超时时间。
func (c ToolServerConfig) HealthTimeout() time.Duration {
	if c.HealthTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// InvokeTimeout 返回单次动作调用的超时时间。
func (c ToolServerConfig) InvokeTimeout() time.Duration {
	if c.InvokeTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}

// BackoffConfig 描述重连退避策略。
type BackoffConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseDelayMS  int     `yaml:"base_delay_ms"`
	Multiplier   float64 `yaml:"multiplier"`
	MaxDelayMS   int     `yaml:"max_delay_ms"`
	GraceSeconds int     `yaml:"stop_grace_seconds"`
}

// HistoryConfig 统一描述会话转录的持久化后端。
type HistoryConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// EventsConfig 描述回合事件的外发通道。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件通道参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// RabbitMQConfig 描述 RabbitMQ 事件通道参数。
type RabbitMQConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// KnowledgeConfig 描述联系人与个人上下文知识库。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// BudgetsConfig 允许覆盖按能力档位选取的步数预算。
type BudgetsConfig struct {
	LocalMaxSteps            int `yaml:"local_max_steps"`
	LocalStepTimeoutSeconds  int `yaml:"local_step_timeout_seconds"`
	HostedMaxSteps           int `yaml:"hosted_max_steps"`
	HostedStepTimeoutSeconds int `yaml:"hosted_step_timeout_seconds"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回一份仅依赖默认值的配置，供未提供配置文件时使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "bridge"
	}
	if c.LLM.Tier == "" {
		// bridge 默认为本地小模型，openai 默认为托管大模型。
		if c.LLM.Provider == "openai" {
			c.LLM.Tier = "hosted"
		} else {
			c.LLM.Tier = "local"
		}
	}
	if c.LLM.Bridge.Executable == "" {
		c.LLM.Bridge.Executable = "python3"
	}
	if c.LLM.Bridge.WorkingDir == "" {
		c.LLM.Bridge.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Bridge.WorkingDir) {
		c.LLM.Bridge.WorkingDir = filepath.Join(baseDir, c.LLM.Bridge.WorkingDir)
	}

	if c.Browser.Executable == "" {
		c.Browser.Executable = "python3"
	}
	if c.Browser.WorkingDir == "" {
		c.Browser.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Browser.WorkingDir) {
		c.Browser.WorkingDir = filepath.Join(baseDir, c.Browser.WorkingDir)
	}

	if c.Tools.Backoff.MaxAttempts <= 0 {
		c.Tools.Backoff.MaxAttempts = 3
	}
	if c.Tools.Backoff.BaseDelayMS <= 0 {
		c.Tools.Backoff.BaseDelayMS = 500
	}
	if c.Tools.Backoff.Multiplier <= 1 {
		c.Tools.Backoff.Multiplier = 2
	}
	if c.Tools.Backoff.MaxDelayMS <= 0 {
		c.Tools.Backoff.MaxDelayMS = 8000
	}
	if c.Tools.Backoff.GraceSeconds <= 0 {
		c.Tools.Backoff.GraceSeconds = 5
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
