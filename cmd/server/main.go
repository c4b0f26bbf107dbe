// Server runs the e-learning marketplace HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"elearning-marketplace/backend/internal/audit"
	auditrepo "elearning-marketplace/backend/internal/audit/repository"
	"elearning-marketplace/backend/internal/config"
	"elearning-marketplace/backend/internal/db"
	"elearning-marketplace/backend/internal/db/memstore"
	"elearning-marketplace/backend/internal/db/uow"
	enrollmentservice "elearning-marketplace/backend/internal/enrollment/service"
	healthhandler "elearning-marketplace/backend/internal/health/handler"
	identityhandler "elearning-marketplace/backend/internal/identity/handler"
	identityservice "elearning-marketplace/backend/internal/identity/service"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/payment/gateway"
	"elearning-marketplace/backend/internal/payment/replay"
	paymentservice "elearning-marketplace/backend/internal/payment/service"
	"elearning-marketplace/backend/internal/payment/webhook"
	"elearning-marketplace/backend/internal/policy/engine"
	policyrepo "elearning-marketplace/backend/internal/policy/repository"
	"elearning-marketplace/backend/internal/security"
	"elearning-marketplace/backend/internal/server"
	"elearning-marketplace/backend/internal/server/middleware"
	sessionrepo "elearning-marketplace/backend/internal/session/repository"
	"elearning-marketplace/backend/internal/telemetry"
	otelsetup "elearning-marketplace/backend/internal/telemetry/otel"
	"elearning-marketplace/backend/internal/telemetry/producer"
	userrepo "elearning-marketplace/backend/internal/user/repository"
)

const serviceName = "elearning-marketplace"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("development").Error(ctx, "config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env)
	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logging.SlogLogger) error {
	if cfg.AWSSecretID != "" {
		sm, err := config.NewSecretFetcher(ctx)
		if err != nil {
			return err
		}
		n, err := cfg.ApplySecrets(ctx, sm)
		if err != nil {
			return err
		}
		log.Info(ctx, "config: secrets applied", "fields", n)
	}

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	metrics := otelsetup.NewMetrics(providers.MeterProvider.Meter(serviceName))

	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	var kafka *producer.KafkaProducer
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafka = producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		emitters = append(emitters, kafka)
		log.Info(ctx, "telemetry: shipping events to kafka", "topic", cfg.TelemetryKafkaTopic)
	}
	events := telemetry.Multi(emitters...)

	var (
		manager  uow.Manager
		users    userrepo.Repository
		sessions sessionrepo.Repository
		audits   auditrepo.Repository
		pinger   healthhandler.Pinger
		policies engine.PolicySource
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		manager = uow.NewPostgresManager(sqlDB)
		users = userrepo.NewPostgresRepository(sqlDB)
		sessions = sessionrepo.NewPostgresRepository(sqlDB)
		audits = auditrepo.NewPostgresRepository(sqlDB)
		pinger = sqlDB
		policies = policyrepo.NewPostgresRepository(sqlDB)
	} else {
		log.Warn(ctx, "DATABASE_URL is empty; using the in-memory store")
		store := memstore.New()
		manager, users, sessions, audits = store, store.Users(), store.Sessions(), store.Audit()
	}
	sink := audit.NewLogger(audits, middleware.ClientIPFrom, log)

	tokens, err := tokenProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	refreshHasher, err := security.NewRefreshHasher([]byte(cfg.RefreshHashKey))
	if err != nil {
		return err
	}
	sessionManager := identityservice.NewSessionManager(identityservice.Deps{
		Users:         users,
		Sessions:      sessions,
		Hasher:        security.NewHasher(cfg.Argon2MemoryKB, cfg.Argon2Iterations),
		Tokens:        tokens,
		RefreshHasher: refreshHasher,
		SessionTTL:    cfg.SessionTTL(),
		Audit:         sink,
		Events:        events,
		Log:           log,
		Metrics:       metrics,
	})

	var guard replay.Guard = replay.NewMemoryGuard()
	if cfg.RedisURL != "" {
		rg, err := replay.NewRedisGuard(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rg.Close()
		guard = rg
	}

	gw := gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		PublicKey:  cfg.GatewayPublicKey,
		PrivateKey: cfg.GatewayPrivateKey,
		Timeout:    cfg.GatewayTimeout(),
	}, cfg.GatewayTokenTTL(), log, metrics)

	enrollments := enrollmentservice.NewService(manager, sink, events, log)
	payments := paymentservice.NewService(paymentservice.Deps{
		UoW:         manager,
		Enrollments: enrollments,
		Gateway:     gw,
		Audit:       sink,
		Events:      events,
		Log:         log,
		Metrics:     metrics,
		GatewayName: cfg.GatewayName,
	})
	if cfg.GatewayWebhookKey == "" {
		log.Warn(ctx, "GATEWAY_WEBHOOK_KEY is empty; confirmation signatures are not verified")
	}
	webhooks := webhook.NewProcessor(payments, manager, guard, webhook.Config{
		CustomerID: cfg.GatewayCustomerID,
		Key:        cfg.GatewayWebhookKey,
	}, sink, events, log, metrics)

	var modules map[string]string
	if policies != nil {
		if modules, err = engine.LoadModules(ctx, policies); err != nil {
			return err
		}
		if modules != nil {
			log.Info(ctx, "policy: using stored policies", "modules", len(modules))
		}
	}
	authz, err := engine.NewOPAAuthorizer(ctx, modules)
	if err != nil {
		return err
	}
	checker := healthhandler.NewChecker(pinger, authz, log)

	handler := server.NewHTTPHandler(server.Deps{
		Sessions:    sessionManager,
		Payments:    payments,
		Webhooks:    webhooks,
		Enrollments: enrollments,
		Authorizer:  authz,
		Health:      checker,
		Cookies:     cookieConfig(cfg),
		Audit:       sink,
		Events:      events,
		Log:         log,
	})
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, handler)

	grpcHealth := checker.NewGRPCServer(ctx)
	grpcSrv := server.NewGRPCServer(grpcHealth, log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info(gctx, "gRPC health server listening", "addr", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		checker.Watch(gctx, grpcHealth, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		// Let in-flight async emits finish before the exporters close.
		time.Sleep(telemetry.ShutdownDrainDuration)
		if kafka != nil {
			if cerr := kafka.Close(); cerr != nil {
				log.Warn(shutdownCtx, "kafka producer close", "error", cerr)
			}
		}
		if perr := providers.Shutdown(shutdownCtx); perr != nil {
			log.Warn(shutdownCtx, "otel shutdown", "error", perr)
		}
		return err
	})
	return g.Wait()
}

// tokenProvider prefers a PEM key pair, then JWT_SECRET. Outside production a random HS256 key
// is generated so local runs work without configuration; tokens do not survive a restart.
func tokenProvider(ctx context.Context, cfg *config.Config, log logging.Logger) (*security.TokenProvider, error) {
	var (
		key security.SigningKey
		err error
	)
	switch {
	case cfg.JWTPrivateKey != "":
		key, err = security.NewAsymmetricKey(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	case cfg.JWTSecret != "":
		key, err = security.NewHMACKey([]byte(cfg.JWTSecret))
	default:
		log.Warn(ctx, "JWT_SECRET is empty; using an ephemeral signing key")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		key, err = security.NewHMACKey(secret)
	}
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(key, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}

func cookieConfig(cfg *config.Config) identityhandler.CookieConfig {
	return identityhandler.CookieConfig{
		Secure:   cfg.CookieSecure,
		Domain:   cfg.CookieDomain,
		SameSite: cfg.SameSite(),
		MaxAge:   cfg.SessionTTL(),
	}
}
