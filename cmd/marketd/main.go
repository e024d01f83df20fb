package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbmarket/cmd/internal/passphrase"
	"nhbmarket/config"
	"nhbmarket/core"
	"nhbmarket/core/events"
	"nhbmarket/core/genesis"
	"nhbmarket/crypto"
	"nhbmarket/gateway/auth"
	gatewaycfg "nhbmarket/gateway/config"
	"nhbmarket/gateway/middleware"
	"nhbmarket/gateway/routes"
	"nhbmarket/integrations/indexer"
	"nhbmarket/integrations/webhooks"
	"nhbmarket/native/common"
	"nhbmarket/observability/logging"
	telemetry "nhbmarket/observability/otel"
)

const (
	genesisPathEnv = "NHBMARKET_GENESIS"
	ownerPassEnv   = "NHBMARKET_OWNER_PASS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides NHBMARKET_GENESIS and config GenesisFile)")
	allowInsecureFlag := flag.Bool("allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	if err := run(*configFile, *genesisFlag, *allowInsecureFlag); err != nil {
		slog.Error("marketd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string, allowInsecure bool) error {
	passSource := passphrase.NewSource(ownerPassEnv, "owner keystore")
	cfg, err := config.Load(configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("NHB_ENV")); override != "" {
		env = override
	}
	logger := logging.SetupWithOptions("marketd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	stdLogger := log.Default()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		headers := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
		for k, v := range cfg.Telemetry.Headers {
			headers[k] = v
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "marketd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("initialise telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	gwCfg, err := gatewaycfg.Load(cfg.GatewayConfig)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	gatewayDir := ""
	if strings.TrimSpace(cfg.GatewayConfig) != "" {
		gatewayDir = filepath.Dir(cfg.GatewayConfig)
	}

	spec, err := loadGenesis(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	owner, err := crypto.ParseAccount(cfg.Owner)
	if err != nil {
		db.Close()
		return fmt.Errorf("parse owner: %w", err)
	}
	marketAddr := core.DefaultMarketAddress
	if strings.TrimSpace(cfg.MarketAddress) != "" {
		if marketAddr, err = crypto.ParseAccount(cfg.MarketAddress); err != nil {
			db.Close()
			return fmt.Errorf("parse market address: %w", err)
		}
	}

	store, err := indexer.Open(cfg.IndexerDSN)
	if err != nil {
		db.Close()
		return fmt.Errorf("open indexer: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger.With("component", "indexer"))

	hub := routes.NewHub(gwCfg.Events.StreamBuffer, gwCfg.CORS.AllowedOrigins, stdLogger)
	sinks := []events.Emitter{store, hub}

	if cfg.Webhook.Enabled() {
		dispatcher, err := newWebhookDispatcher(cfg, env, gwCfg.Security.AutoUpgradeHTTP, logger)
		if err != nil {
			db.Close()
			return err
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
	}

	node, err := core.NewNode(db, core.Options{
		MarketAddress:     marketAddr,
		Owner:             owner,
		RefundOverpayment: cfg.RefundOverpayment,
		Pauses:            common.StaticPauses(cfg.Pauses.PauseMap()),
		Genesis:           spec,
		Logger:            logger,
		Sinks:             sinks,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close()
	logger.Info("marketplace ready",
		slog.String("market", crypto.FormatAccount(node.MarketAddress())),
		slog.String("owner", crypto.FormatAccount(owner)))

	login, closeNonces, err := newLoginService(gwCfg, logger)
	if err != nil {
		return err
	}
	defer closeNonces()

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gwCfg.Observability.ServiceName,
		MetricsPrefix: gwCfg.Observability.MetricsPrefix,
		LogRequests:   gwCfg.Observability.LogRequests,
		Enabled:       gwCfg.Observability.Metrics || gwCfg.Observability.Tracing,
	}, stdLogger)

	authenticator := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    gwCfg.Auth.Enabled,
		HMACSecret: gwCfg.Auth.Secret(),
		Issuer:     gwCfg.Auth.Issuer,
		Audience:   gwCfg.Auth.Audience,
		ScopeClaim: gwCfg.Auth.ScopeClaim,
		ClockSkew:  gwCfg.Auth.ClockSkew,
	}, stdLogger)

	router, err := routes.New(routes.Config{
		Market:        node,
		History:       store,
		Stream:        hub,
		Login:         login,
		HistoryLimit:  gwCfg.Events.HistoryLimit,
		HealthHandler: healthHandler(node, hub),
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(buildRateLimits(gwCfg), stdLogger),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   gwCfg.CORS.AllowedOrigins,
			AllowCredentials: gwCfg.CORS.AllowCredentials,
		},
		Logger: stdLogger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	handler := http.Handler(router)
	if gwCfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "marketd")
	}

	tlsConfig, err := buildTLSConfig(gatewayDir, gwCfg.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		if !(gwCfg.Security.AllowInsecure || allowInsecure) {
			return errors.New("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(gwCfg.ListenAddress) {
			return errors.New("plaintext gateway mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:         gwCfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", gwCfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
		listener = tls.NewListener(listener, tlsConfig)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", scheme+"://"+listener.Addr().String()))
		serveErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

// loadGenesis resolves the genesis document from the flag, then the
// environment, then the config file. No path means the node starts from
// existing or empty state.
func loadGenesis(flagPath, configPath string, lookup func(string) (string, bool)) (*genesis.GenesisSpec, error) {
	path := strings.TrimSpace(flagPath)
	if path == "" && lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path == "" {
		path = strings.TrimSpace(configPath)
	}
	if path == "" {
		return nil, nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %s: %w", path, err)
	}
	return spec, nil
}

func newWebhookDispatcher(cfg *config.Config, env string, autoUpgrade bool, logger *slog.Logger) (*webhooks.Dispatcher, error) {
	endpoint, err := url.Parse(cfg.Webhook.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook endpoint: %w", err)
	}
	secured, upgraded, err := gatewaycfg.EnforceSecureScheme(env, endpoint, autoUpgrade)
	if err != nil {
		return nil, fmt.Errorf("webhook endpoint: %w", err)
	}
	if upgraded {
		logger.Warn("auto-upgraded webhook endpoint to HTTPS")
	}
	secret := strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
	if secret == "" {
		return nil, fmt.Errorf("webhook secret missing; set %s", cfg.Webhook.SecretEnv)
	}
	opts := []webhooks.Option{
		webhooks.WithLogger(logger.With("component", "webhooks")),
		webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts,
			time.Duration(cfg.Webhook.MinBackoffMs)*time.Millisecond,
			time.Duration(cfg.Webhook.MaxBackoffMs)*time.Millisecond),
	}
	logger.Info("webhook delivery enabled",
		slog.String("endpoint", secured.String()),
		logging.MaskField("secret", secret))
	if len(cfg.Webhook.EventPrefixes) > 0 {
		opts = append(opts, webhooks.WithEventPrefixes(cfg.Webhook.EventPrefixes...))
	}
	if cfg.Webhook.QueueSize > 0 {
		opts = append(opts, webhooks.WithQueueSize(cfg.Webhook.QueueSize))
	}
	return webhooks.NewDispatcher(secured.String(), []byte(secret), opts...)
}

// newLoginService returns a nil service when auth is disabled; the gateway
// then serves reads only.
func newLoginService(gwCfg gatewaycfg.Config, logger *slog.Logger) (routes.LoginService, func(), error) {
	noop := func() {}
	if !gwCfg.Auth.Enabled {
		logger.Warn("gateway auth disabled; mutating routes will reject every request")
		return nil, noop, nil
	}
	var persistence auth.NoncePersistence
	closeFn := noop
	if path := strings.TrimSpace(gwCfg.Auth.NonceStorePath); path != "" {
		store, err := auth.NewLevelDBNoncePersistence(path)
		if err != nil {
			return nil, noop, fmt.Errorf("open nonce store: %w", err)
		}
		persistence = store
		closeFn = func() { _ = store.Close() }
	}
	svc, err := auth.NewWalletAuthenticator(auth.TokenConfig{
		HMACSecret: gwCfg.Auth.Secret(),
		Issuer:     gwCfg.Auth.Issuer,
		Audience:   gwCfg.Auth.Audience,
		TTL:        gwCfg.Auth.TokenTTL,
	}, gwCfg.Auth.ClockSkew, 0, 0, nil, persistence)
	if err != nil {
		closeFn()
		return nil, noop, fmt.Errorf("configure login: %w", err)
	}
	if persistence != nil {
		if err := svc.HydrateNonces(context.Background(), time.Now().Add(-10*time.Minute)); err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("hydrate nonces: %w", err)
		}
	}
	logger.Info("wallet login enabled",
		slog.String("issuer", gwCfg.Auth.Issuer),
		logging.MaskField("hmacSecret", gwCfg.Auth.Secret()),
		slog.Bool("persistentNonces", persistence != nil))
	return svc, closeFn, nil
}

func buildRateLimits(cfg gatewaycfg.Config) map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		limits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
		}
	}
	return limits
}
