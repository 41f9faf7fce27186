package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath      string
	JSON            bool
	Plain           bool
	Chain           string
	RPCURL          string
	ListenAddr      string
	Timeout         string
	Retries         int
	SettleDelay     string
	TradeDelay      string
	TriggerInterval string
}

type Settings struct {
	OutputMode      string
	Chain           string
	RPCURL          string
	ListenAddr      string
	CronSecret      string
	TaskStorePath   string
	TaskLockPath    string
	SettleDelay     time.Duration
	TradeDelay      time.Duration
	TriggerInterval time.Duration
	PollInterval    time.Duration
	StepTimeout     time.Duration
	MaxTradeTargets int
	Timeout         time.Duration
	Retries         int
	LogLevel        string
	LogFormat       string
	DiscoveryURL    string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Chain   string `yaml:"chain"`
	RPCURL  string `yaml:"rpc_url"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Server  struct {
		Listen        string `yaml:"listen"`
		CronSecret    string `yaml:"cron_secret"`
		CronSecretEnv string `yaml:"cron_secret_env"`
	} `yaml:"server"`
	Tasks struct {
		Path            string `yaml:"path"`
		LockPath        string `yaml:"lock_path"`
		TriggerInterval string `yaml:"trigger_interval"`
	} `yaml:"tasks"`
	Execution struct {
		SettleDelay     string `yaml:"settle_delay"`
		TradeDelay      string `yaml:"trade_delay"`
		PollInterval    string `yaml:"poll_interval"`
		StepTimeout     string `yaml:"step_timeout"`
		MaxTradeTargets *int   `yaml:"max_trade_targets"`
	} `yaml:"execution"`
	Discovery struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"discovery"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.TriggerInterval <= 0 {
		settings.TriggerInterval = time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultTaskPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Chain:           "base",
		ListenAddr:      ":8080",
		TaskStorePath:   storePath,
		TaskLockPath:    lockPath,
		SettleDelay:     10 * time.Second,
		TradeDelay:      10 * time.Second,
		TriggerInterval: time.Minute,
		PollInterval:    2 * time.Second,
		StepTimeout:     90 * time.Second,
		MaxTradeTargets: 4,
		Timeout:         10 * time.Second,
		Retries:         2,
		LogLevel:        "info",
		LogFormat:       "text",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "spendrunner", "config.yaml"), nil
}

func defaultTaskPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "spendrunner")
	return filepath.Join(dir, "tasks.db"), filepath.Join(dir, "tasks.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Chain != "" {
		settings.Chain = strings.ToLower(cfg.Chain)
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	if cfg.Server.CronSecret != "" {
		settings.CronSecret = cfg.Server.CronSecret
	}
	if cfg.Server.CronSecretEnv != "" {
		settings.CronSecret = os.Getenv(cfg.Server.CronSecretEnv)
	}
	if cfg.Tasks.Path != "" {
		settings.TaskStorePath = cfg.Tasks.Path
	}
	if cfg.Tasks.LockPath != "" {
		settings.TaskLockPath = cfg.Tasks.LockPath
	}
	if cfg.Tasks.TriggerInterval != "" {
		d, err := time.ParseDuration(cfg.Tasks.TriggerInterval)
		if err != nil {
			return fmt.Errorf("config tasks.trigger_interval: %w", err)
		}
		settings.TriggerInterval = d
	}
	if cfg.Execution.SettleDelay != "" {
		d, err := time.ParseDuration(cfg.Execution.SettleDelay)
		if err != nil {
			return fmt.Errorf("config execution.settle_delay: %w", err)
		}
		settings.SettleDelay = d
	}
	if cfg.Execution.TradeDelay != "" {
		d, err := time.ParseDuration(cfg.Execution.TradeDelay)
		if err != nil {
			return fmt.Errorf("config execution.trade_delay: %w", err)
		}
		settings.TradeDelay = d
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.StepTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.StepTimeout)
		if err != nil {
			return fmt.Errorf("config execution.step_timeout: %w", err)
		}
		settings.StepTimeout = d
	}
	if cfg.Execution.MaxTradeTargets != nil {
		settings.MaxTradeTargets = *cfg.Execution.MaxTradeTargets
	}
	if cfg.Discovery.BaseURL != "" {
		settings.DiscoveryURL = cfg.Discovery.BaseURL
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SPENDRUNNER_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SPENDRUNNER_CHAIN"); v != "" {
		settings.Chain = strings.ToLower(v)
	}
	if v := os.Getenv("SPENDRUNNER_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("SPENDRUNNER_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		settings.CronSecret = v
	}
	if v := os.Getenv("SPENDRUNNER_TASKS_PATH"); v != "" {
		settings.TaskStorePath = v
	}
	if v := os.Getenv("SPENDRUNNER_TASKS_LOCK_PATH"); v != "" {
		settings.TaskLockPath = v
	}
	if v := os.Getenv("SPENDRUNNER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SPENDRUNNER_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SPENDRUNNER_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.SettleDelay = d
		}
	}
	if v := os.Getenv("SPENDRUNNER_TRADE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.TradeDelay = d
		}
	}
	if v := os.Getenv("SPENDRUNNER_TRIGGER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.TriggerInterval = d
		}
	}
	if v := os.Getenv("SPENDRUNNER_DISCOVERY_URL"); v != "" {
		settings.DiscoveryURL = v
	}
	if v := os.Getenv("SPENDRUNNER_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SPENDRUNNER_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Chain != "" {
		settings.Chain = strings.ToLower(flags.Chain)
	}
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.ListenAddr != "" {
		settings.ListenAddr = flags.ListenAddr
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.SettleDelay != "" {
		d, err := time.ParseDuration(flags.SettleDelay)
		if err != nil {
			return fmt.Errorf("parse --settle-delay: %w", err)
		}
		settings.SettleDelay = d
	}
	if flags.TradeDelay != "" {
		d, err := time.ParseDuration(flags.TradeDelay)
		if err != nil {
			return fmt.Errorf("parse --trade-delay: %w", err)
		}
		settings.TradeDelay = d
	}
	if flags.TriggerInterval != "" {
		d, err := time.ParseDuration(flags.TriggerInterval)
		if err != nil {
			return fmt.Errorf("parse --trigger-interval: %w", err)
		}
		settings.TriggerInterval = d
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
