package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsAndDecimals(t *testing.T) {
	path := writeConfig(t, `
exchange:
  access_key: k
  secret_key: s
  passphrase: p
trading:
  leverage: 10
  utilization: "1.0"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.Trading.Leverage.Equal(decimal.NewFromInt(10)) {
		t.Errorf("leverage = %s", cfg.Trading.Leverage)
	}
	if !cfg.Trading.Utilization.Equal(decimal.NewFromInt(1)) {
		t.Errorf("utilization = %s", cfg.Trading.Utilization)
	}
	if cfg.Trading.CooldownSec != 3 || cfg.Catalog.TTLSec != 60 {
		t.Errorf("cooldown/ttl defaults = %d/%d", cfg.Trading.CooldownSec, cfg.Catalog.TTLSec)
	}
	if cfg.Exchange.APIVersion != "v1" || cfg.Mode() != domain.ModeSandboxHeader {
		t.Errorf("api/mode defaults = %s/%s", cfg.Exchange.APIVersion, cfg.Mode())
	}
	if len(cfg.Exchange.MarginCoins) != 2 || cfg.Exchange.MarginCoins[1] != "SUSDT" {
		t.Errorf("margin coins = %v", cfg.Exchange.MarginCoins)
	}
	if len(cfg.Exchange.MismatchCodes) != 1 || cfg.Exchange.MismatchCodes[0] != "40099" || len(cfg.Exchange.MismatchMessages) != 0 {
		t.Errorf("mismatch defaults = %v / %v, want code 40099 only", cfg.Exchange.MismatchCodes, cfg.Exchange.MismatchMessages)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_BITGET_KEY", "env-key")
	t.Setenv("RELAY_BITGET_SECRET", "env-secret")
	t.Setenv("RELAY_BITGET_PASSPHRASE", "env-pass")
	t.Setenv("RELAY_WEBHOOK_TOKEN", "tv")
	t.Setenv("RELAY_ENVIRONMENT", "live")

	cfg, err := LoadConfig(writeConfig(t, "app:\n  name: relay\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Exchange.AccessKey != "env-key" || cfg.Server.WebhookToken != "tv" {
		t.Errorf("env override not applied: %+v", cfg.Exchange)
	}
	if cfg.Mode() != domain.ModeLive {
		t.Errorf("mode = %s, want live", cfg.Mode())
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Trading.DryRun = true
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name  string
		mut   func(c *Config)
		field string
	}{
		{"bad api version", func(c *Config) { c.Exchange.APIVersion = "v3" }, "exchange.api_version"},
		{"alt host without url", func(c *Config) { c.Exchange.Environment = "sandbox_alt_host" }, "exchange.sandbox_url"},
		{"utilization above one", func(c *Config) { c.Trading.Utilization = decimal.NewFromFloat(1.5) }, "trading.utilization"},
		{"negative leverage", func(c *Config) { c.Trading.Leverage = decimal.NewFromInt(-2) }, "trading.leverage"},
		{"credentials when live", func(c *Config) { c.Trading.DryRun = false }, "exchange.access_key"},
		{"fallback equity outside dry run", func(c *Config) {
			c.Exchange.AccessKey, c.Exchange.SecretKey, c.Exchange.Passphrase = "k", "s", "p"
			c.Trading.DryRun = false
			c.Trading.FallbackEquity = decimal.NewFromInt(1000)
		}, "trading.fallback_equity"},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mut(c)
			err := c.Validate()
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %s, want %s", ce.Field, tt.field)
			}
		})
	}
}
