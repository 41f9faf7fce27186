package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nchain: base-sepolia\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SPENDRUNNER_OUTPUT", "json")
	t.Setenv("SPENDRUNNER_CHAIN", "base")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Chain != "base" {
		t.Fatalf("expected env to win over file, got chain=%s", settings.Chain)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadExecutionDurations(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "execution:\n  settle_delay: 3s\n  trade_delay: 1s\n  max_trade_targets: 2\nserver:\n  cron_secret: hunter2\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.SettleDelay != 3*time.Second || settings.TradeDelay != time.Second {
		t.Fatalf("unexpected delays: %s / %s", settings.SettleDelay, settings.TradeDelay)
	}
	if settings.MaxTradeTargets != 2 {
		t.Fatalf("expected max_trade_targets from file, got %d", settings.MaxTradeTargets)
	}
	if settings.CronSecret != "hunter2" {
		t.Fatalf("expected cron secret from file, got %q", settings.CronSecret)
	}
}

func TestLoadCronSecretFromEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CRON_SECRET", "s3cret")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(tmp, "missing.yaml"), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.CronSecret != "s3cret" {
		t.Fatalf("expected cron secret from env, got %q", settings.CronSecret)
	}
}

func TestLoadBadDurationRejected(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath}); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}
