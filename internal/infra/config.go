package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr         string `yaml:"addr"`
		WebhookToken string `yaml:"webhook_token"`
	} `yaml:"server"`

	Exchange struct {
		APIVersion   string   `yaml:"api_version"` // "v1" or "v2"
		RestURL      string   `yaml:"rest_url"`
		SandboxURL   string   `yaml:"sandbox_url"`
		AccessKey    string   `yaml:"access_key"`
		SecretKey    string   `yaml:"secret_key"`
		Passphrase   string   `yaml:"passphrase"`
		Environment  string   `yaml:"environment"` // live | sandbox_header | sandbox_alt_host
		TimeoutSec   int      `yaml:"timeout_sec"`
		MarginCoins  []string `yaml:"margin_coins"`
		PositionMode string   `yaml:"position_mode"` // hedge | one_way (v2 only)
		MarginMode   string   `yaml:"margin_mode"`   // crossed | isolated (v2 only)

		MismatchCodes    []string `yaml:"mismatch_codes"`
		MismatchMessages []string `yaml:"mismatch_messages"`

		// Fields overrides the JSON keys of the selected API generation.
		Fields map[string]string `yaml:"fields"`

		Stream struct {
			Enabled  bool     `yaml:"enabled"`
			WSURL    string   `yaml:"ws_url"`
			Symbols  []string `yaml:"symbols"`
			MaxAgeMS int      `yaml:"max_age_ms"`
		} `yaml:"stream"`
	} `yaml:"exchange"`

	Trading struct {
		DryRun         bool            `yaml:"dry_run"`
		Leverage       decimal.Decimal `yaml:"leverage"`
		Utilization    decimal.Decimal `yaml:"utilization"`
		CooldownSec    int             `yaml:"cooldown_sec"`
		FallbackEquity decimal.Decimal `yaml:"fallback_equity"` // test-only, requires dry_run
	} `yaml:"trading"`

	Catalog struct {
		TTLSec int `yaml:"ttl_sec"`
	} `yaml:"catalog"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Storage struct {
		Path     string `yaml:"path"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bitget-relay"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Exchange.APIVersion == "" {
		c.Exchange.APIVersion = "v1"
	}
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = "https://api.bitget.com"
	}
	if c.Exchange.Environment == "" {
		c.Exchange.Environment = "sandbox_header"
	}
	if c.Exchange.TimeoutSec == 0 {
		c.Exchange.TimeoutSec = 15
	}
	if len(c.Exchange.MarginCoins) == 0 {
		c.Exchange.MarginCoins = []string{"USDT", "SUSDT"}
	}
	if c.Exchange.PositionMode == "" {
		c.Exchange.PositionMode = "hedge"
	}
	if c.Exchange.MarginMode == "" {
		c.Exchange.MarginMode = "crossed"
	}
	// 메시지 매칭은 명시적으로 설정할 때만 사용 (코드 기준이 기본)
	if len(c.Exchange.MismatchCodes) == 0 && len(c.Exchange.MismatchMessages) == 0 {
		c.Exchange.MismatchCodes = []string{"40099"}
	}
	if c.Exchange.Stream.WSURL == "" {
		c.Exchange.Stream.WSURL = "wss://ws.bitget.com/v2/ws/public"
	}
	if c.Exchange.Stream.MaxAgeMS == 0 {
		c.Exchange.Stream.MaxAgeMS = 2000
	}
	if c.Trading.Leverage.IsZero() {
		c.Trading.Leverage = decimal.NewFromInt(1)
	}
	if c.Trading.Utilization.IsZero() {
		c.Trading.Utilization = decimal.RequireFromString("0.9")
	}
	if c.Trading.CooldownSec == 0 {
		c.Trading.CooldownSec = 3
	}
	if c.Catalog.TTLSec == 0 {
		c.Catalog.TTLSec = 60
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Exchange
	if c.Exchange.APIVersion != "v1" && c.Exchange.APIVersion != "v2" {
		return &domain.ConfigError{Field: "exchange.api_version", Err: fmt.Errorf("must be v1 or v2, got %q", c.Exchange.APIVersion)}
	}
	if !hasPrefix(c.Exchange.RestURL, "https://") && !hasPrefix(c.Exchange.RestURL, "http://") {
		return &domain.ConfigError{Field: "exchange.rest_url", Err: fmt.Errorf("invalid URL: %s", c.Exchange.RestURL)}
	}
	mode, err := domain.ParseEnvironmentMode(c.Exchange.Environment)
	if err != nil {
		return &domain.ConfigError{Field: "exchange.environment", Err: err}
	}
	if mode == domain.ModeSandboxAltHost && c.Exchange.SandboxURL == "" {
		return &domain.ConfigError{Field: "exchange.sandbox_url", Err: errors.New("required for sandbox_alt_host")}
	}
	if c.Exchange.TimeoutSec < 0 {
		return &domain.ConfigError{Field: "exchange.timeout_sec", Err: errors.New("must be positive")}
	}
	if c.Exchange.PositionMode != "hedge" && c.Exchange.PositionMode != "one_way" {
		return &domain.ConfigError{Field: "exchange.position_mode", Err: fmt.Errorf("must be hedge or one_way, got %q", c.Exchange.PositionMode)}
	}
	if c.Exchange.Stream.Enabled && !hasPrefix(c.Exchange.Stream.WSURL, "ws://") && !hasPrefix(c.Exchange.Stream.WSURL, "wss://") {
		return &domain.ConfigError{Field: "exchange.stream.ws_url", Err: fmt.Errorf("invalid WS URL: %s", c.Exchange.Stream.WSURL)}
	}
	if !c.Trading.DryRun && (c.Exchange.AccessKey == "" || c.Exchange.SecretKey == "" || c.Exchange.Passphrase == "") {
		return &domain.ConfigError{Field: "exchange.access_key", Err: errors.New("API credentials are required unless trading.dry_run is set")}
	}

	// Trading
	if !c.Trading.Leverage.IsPositive() {
		return &domain.ConfigError{Field: "trading.leverage", Err: errors.New("must be positive")}
	}
	if !c.Trading.Utilization.IsPositive() || c.Trading.Utilization.GreaterThan(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "trading.utilization", Err: errors.New("must be in (0, 1]")}
	}
	if c.Trading.CooldownSec < 0 {
		return &domain.ConfigError{Field: "trading.cooldown_sec", Err: errors.New("must not be negative")}
	}
	if !c.Trading.FallbackEquity.IsZero() && !c.Trading.DryRun {
		return &domain.ConfigError{Field: "trading.fallback_equity", Err: errors.New("test-only setting, requires trading.dry_run")}
	}

	if c.Catalog.TTLSec <= 0 {
		return &domain.ConfigError{Field: "catalog.ttl_sec", Err: errors.New("must be positive")}
	}

	return nil
}

// Mode returns the parsed starting environment mode.
func (c *Config) Mode() domain.EnvironmentMode {
	m, _ := domain.ParseEnvironmentMode(c.Exchange.Environment)
	return m
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("RELAY_BITGET_KEY"); key != "" {
		cfg.Exchange.AccessKey = key
	}
	if secret := os.Getenv("RELAY_BITGET_SECRET"); secret != "" {
		cfg.Exchange.SecretKey = secret
	}
	if pass := os.Getenv("RELAY_BITGET_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if token := os.Getenv("RELAY_WEBHOOK_TOKEN"); token != "" {
		cfg.Server.WebhookToken = token
	}
	if env := os.Getenv("RELAY_ENVIRONMENT"); env != "" {
		cfg.Exchange.Environment = env
	}
	if dry := os.Getenv("RELAY_DRY_RUN"); dry != "" {
		if v, err := strconv.ParseBool(strings.TrimSpace(dry)); err == nil {
			cfg.Trading.DryRun = v
		}
	}
}
