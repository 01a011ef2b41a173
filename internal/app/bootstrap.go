package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/engine"
	"bitget_relay/internal/execution"
	"bitget_relay/internal/infra"
	"bitget_relay/internal/infra/bitget"
	"bitget_relay/internal/infra/redisgate"
	"bitget_relay/internal/infra/storage"
	"bitget_relay/internal/infra/webhook"
	"bitget_relay/internal/service"

	"github.com/redis/go-redis/v9"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Metrics    *infra.Metrics
	Negotiator *bitget.Negotiator
	Gateway    *bitget.Gateway
	Catalog    *service.Catalog
	Stream     *bitget.TickerStream
	Relay      *engine.Relay
	Handler    http.Handler

	redis *redis.Client
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping Bitget relay...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	b.Metrics = infra.NewMetrics()

	// 3. Initialize Storage (DB)
	if !cfg.Storage.Disabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Database initialized")
	}

	// 4. Exchange boundary
	b.Negotiator = bitget.NewNegotiator(b.startMode(ctx), cfg.Exchange.MismatchCodes, cfg.Exchange.MismatchMessages).
		WithMetrics(b.Metrics)
	if b.Storage != nil {
		b.Negotiator.WithStore(b.Storage)
	}

	client := bitget.NewClient(bitget.ClientConfig{
		RestURL:    cfg.Exchange.RestURL,
		SandboxURL: cfg.Exchange.SandboxURL,
		AccessKey:  cfg.Exchange.AccessKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Passphrase: cfg.Exchange.Passphrase,
		Timeout:    time.Duration(cfg.Exchange.TimeoutSec) * time.Second,
	}, b.Negotiator, b.Metrics)

	schema, err := bitget.NewSchema(cfg.Exchange.APIVersion, cfg.Exchange.Fields, cfg.Exchange.PositionMode, cfg.Exchange.MarginMode)
	if err != nil {
		return err
	}
	b.Gateway = bitget.NewGateway(client, schema)
	slog.Info("✅ Exchange gateway ready",
		slog.String("api_version", cfg.Exchange.APIVersion),
		slog.String("env", b.Negotiator.Current().String()))

	// 5. Services
	var snapshots service.SnapshotStore
	if b.Storage != nil {
		snapshots = b.Storage
	}
	b.Catalog = service.NewCatalog(b.Gateway, snapshots, time.Duration(cfg.Catalog.TTLSec)*time.Second, b.Metrics)
	accounts := service.NewAccountClient(b.Gateway, cfg.Exchange.MarginCoins, cfg.Trading.FallbackEquity)

	var prices service.PriceSource = service.NewRESTPrice(b.Gateway)
	if cfg.Exchange.Stream.Enabled {
		b.Stream = bitget.NewTickerStream(cfg.Exchange.Stream.WSURL, cfg.Exchange.Stream.Symbols)
		prices = service.NewStreamPrice(b.Stream, prices, time.Duration(cfg.Exchange.Stream.MaxAgeMS)*time.Millisecond)
	}
	sizer := service.NewSizingEngine(prices)

	// 6. Execution
	var cooldown execution.CooldownStore
	if cfg.Redis.Addr != "" {
		rdb, err := redisgate.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		b.redis = rdb
		cooldown = redisgate.NewCooldown(rdb)
		slog.Info("✅ Shared cooldown store connected", slog.String("addr", cfg.Redis.Addr))
	}
	gate := execution.NewGate(time.Duration(cfg.Trading.CooldownSec)*time.Second, cooldown)
	dispatcher := execution.NewDispatcher(b.Gateway, accounts.MarginCoin(), cfg.Trading.DryRun, b.Metrics)

	b.Relay = engine.NewRelay(b.Catalog, gate, accounts, sizer, dispatcher, b.Gateway, engine.Sizing{
		Leverage:    cfg.Trading.Leverage,
		Utilization: cfg.Trading.Utilization,
	}, b.Metrics)

	b.Handler = webhook.NewHandler(b.Relay, cfg.Server.WebhookToken, b.Gateway, cfg.Trading.DryRun, cfg.App.Name, b.Metrics).Routes()

	if cfg.Trading.DryRun {
		slog.Warn("⚠️ DRY RUN: orders will not reach the exchange")
	}
	return nil
}

// startMode picks the configured mode, or the one calibrated by a previous
// run when both are sandbox strategies.
func (b *Bootstrap) startMode(ctx context.Context) domain.EnvironmentMode {
	configured := b.Config.Mode()
	if b.Storage == nil || !configured.IsSandbox() {
		return configured
	}
	saved, ok, err := b.Storage.LoadMode(ctx)
	if err != nil {
		slog.Warn("Failed to load saved environment mode", slog.Any("error", err))
		return configured
	}
	if !ok || !saved.IsSandbox() {
		return configured
	}
	if saved == domain.ModeSandboxAltHost && b.Config.Exchange.SandboxURL == "" {
		return configured
	}
	if saved != configured {
		slog.Info("Restoring calibrated environment mode", slog.String("mode", saved.String()))
	}
	return saved
}

// Start launches background work: the ticker stream and a catalog warm-up.
func (b *Bootstrap) Start(ctx context.Context) {
	if b.Stream != nil {
		b.Stream.Connect(ctx)
		slog.InfoContext(ctx, "✅ Ticker stream started", slog.Int("symbols", len(b.Config.Exchange.Stream.Symbols)))
	}

	go func() {
		if err := b.Catalog.Refresh(ctx); err != nil {
			slog.Warn("Initial contract load failed, will retry on first alert", slog.Any("error", err))
			return
		}
		slog.Info("✨ Contract catalog loaded", slog.Int("instruments", b.Catalog.Len()))
	}()
}

// Close releases resources in reverse order of creation.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Stream != nil {
		b.Stream.Close()
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.Storage != nil {
		errs = append(errs, b.Storage.Close())
	}
	return errors.Join(errs...)
}
