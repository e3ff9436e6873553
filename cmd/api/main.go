package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/commerce/internal/di"
	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/platform/secrets"
	platformstorage "github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/commerce/internal/repositories/firestore"
)

const (
	discountAttemptBurst  = 10
	discountAttemptWindow = 10 * time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	bootstrap, err := config.LoadBootstrap()
	if err != nil {
		logger.Fatal("failed to read bootstrap configuration", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, bootstrap)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(bootstrap)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := newBuildInfo(bootstrap)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	workTopic := pubsubClient.Topic(cfg.PubSub.WorkQueueTopic)
	dispatchTopic := pubsubClient.Topic(cfg.PubSub.DispatchTopic)
	defer func() {
		workTopic.Stop()
		dispatchTopic.Stop()
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	workQueue, err := jobs.NewPubSubWorkQueue(workTopic)
	if err != nil {
		logger.Fatal("failed to initialise work queue", zap.Error(err))
	}
	dispatcher, err := jobs.NewPubSubDispatcher(dispatchTopic)
	if err != nil {
		logger.Fatal("failed to initialise dispatcher", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	documentWriter, err := platformstorage.NewObjectWriter(storageClient, cfg.Storage.DocumentsBucket)
	if err != nil {
		logger.Fatal("failed to initialise document writer", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Dispatcher:     dispatcher,
		WorkQueue:      workQueue,
		DocumentWriter: documentWriter,
		Meter:          otel.GetMeterProvider().Meter("github.com/hanko-field/commerce"),
		Logger:         logger,
		Clock:          time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier,
		auth.WithProfileRecorder(svc.Profiles),
		auth.WithAuthenticatorLogger(observability.NewPrintfAdapter(logger)),
	)

	orderOpts := []handlers.OrderHandlerOption{
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
		handlers.WithDiscountRateLimit(discountAttemptBurst, discountAttemptWindow, time.Now),
	}
	if signer, err := newDownloadSigner(cfg, storageClient); err != nil {
		logger.Warn("document downloads disabled", zap.Error(err))
	} else {
		orderOpts = append(orderOpts, handlers.WithDocumentDownloads(registry.Documents(), signer, cfg.Storage.DocumentsBucket))
	}
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, orderOpts...)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Discounts)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders, svc.Payments, svc.Deliveries)

	hmacValidator, carrierSecrets := buildHMACValidator(logger.Named("auth"), cfg, container.Metrics.Verifications)
	webhookHandlers := handlers.NewWebhookHandlers(handlers.WebhookHandlersDeps{
		Orders:         svc.Orders,
		Payments:       svc.Payments,
		Deliveries:     svc.Deliveries,
		StripeSecret:   cfg.PSP.StripeWebhookSecret,
		HMAC:           hmacValidator,
		CarrierSecrets: carrierSecrets,
		Logger:         logger.Named("webhooks"),
	})

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if checks, err := newHealthRepository(firestoreClient, workTopic, fetcher); err != nil {
		logger.Warn("health: dependency checks disabled", zap.Error(err))
	} else {
		healthOpts = append(healthOpts, handlers.WithHealthChecks(checks))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(orderHandlers.CartRoutes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, container.Metrics.Verifications); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening",
			zap.String("version", buildInfo.Version),
			zap.Time("startedAt", startedAt),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newBuildInfo(b config.Bootstrap) handlers.BuildInfo {
	version := b.BuildVersion
	if version == "" {
		version = "dev"
	}
	commit := b.BuildCommit
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{Version: version, CommitSHA: commit}
}

func newDownloadSigner(cfg config.Config, client *cloudstorage.Client) (*platformstorage.Client, error) {
	key := strings.TrimSpace(cfg.Storage.SignerKey)
	if key == "" {
		return platformstorage.NewDetectedClient(client)
	}
	signer, err := platformstorage.NewKeySigner([]byte(key))
	if err != nil {
		return nil, err
	}
	return platformstorage.NewClient(signer)
}

func newHealthRepository(client *firestore.Client, topic *pubsub.Topic, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks, time.Now)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, verifications metric.Int64Counter) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter), auth.WithOIDCCounter(verifications))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildHMACValidator returns nil when no carrier secret is configured. Carriers are their own
// secret names.
func buildHMACValidator(logger *zap.Logger, cfg config.Config, verifications metric.Int64Counter) (*auth.HMACValidator, map[string]string) {
	values := make(map[string]string)
	names := make(map[string]string)
	for carrier, secret := range cfg.Security.HMAC.Secrets {
		carrier = strings.ToLower(strings.TrimSpace(carrier))
		if carrier == "" || strings.TrimSpace(secret) == "" {
			continue
		}
		values[carrier] = secret
		names[carrier] = carrier
	}
	if len(values) == 0 {
		return nil, nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if secret, ok := values[strings.ToLower(strings.TrimSpace(name))]; ok {
			return secret, nil
		}
		return "", errors.New("auth: secret not found")
	})
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
		auth.WithHMACCounter(verifications),
	)
	return validator, names
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, b config.Bootstrap) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithEnvironment(b.Environment),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(b.Secrets.FallbackFile),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/hanko-field/commerce/secrets")),
	}
	if len(b.Secrets.ProjectIDs) > 0 {
		opts = append(opts, secrets.WithProjectMap(b.Secrets.ProjectIDs))
	}
	if b.Secrets.DefaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(b.Secrets.DefaultProject))
	}
	if len(b.Secrets.VersionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(b.Secrets.VersionPins))
	}
	if b.CredentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(b.CredentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(b config.Bootstrap) []string {
	required := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	for _, carrier := range b.Carriers {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", carrier))
	}
	return required
}
