package main

import (
	"context"
	"net/http"
	"time"

	"github.com/localbiz/membership/libs/config"
	"github.com/localbiz/membership/libs/httpx"
	"github.com/localbiz/membership/libs/kafkax"
	otelx "github.com/localbiz/membership/libs/otel"
	"github.com/localbiz/membership/libs/runtime"
	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/handlers"
	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/metrics"
	"github.com/localbiz/membership/services/membership-service/internal/outbox"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/reconcile"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "membership-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	policy, err := membership.ParsePolicy(config.String("MEMBERSHIP_TRANSITION_POLICY", "permissive"))
	if err != nil {
		panic(err)
	}

	rec := metrics.NewPrometheus(prometheus.DefaultRegisterer, "localbiz")

	st, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store setup failed", "err", err)
		panic(err)
	}
	defer st.Close()

	svc := membership.NewService(st.store, plans.NewResolver(st.store), logger, rec, membership.Config{
		Policy:       policy,
		StoreTimeout: config.Seconds("MEMBERSHIP_STORE_TIMEOUT_SECONDS", membership.DefaultStoreTimeout),
	})
	logger.Info("membership transition policy", "policy", policy.String(), "store_driver", st.driver)

	checks := st.checks
	brokers := config.String("KAFKA_BROKERS", "")
	if st.pool != nil && brokers != "" {
		outboxPublisher := outbox.NewPublisher(st.pool, outbox.NewRepository(st.pool), logger, rec, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go outboxPublisher.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	limiter := httpx.Limiter(httpx.NewRateLimiter(
		config.Int("WEBHOOK_RATE_LIMIT", 300),
		config.Seconds("WEBHOOK_RATE_WINDOW_SECONDS", time.Minute),
	))
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, logger, httpx.RedisRateLimiterConfig{
			Limit:    config.Int("WEBHOOK_RATE_LIMIT", 300),
			Window:   config.Seconds("WEBHOOK_RATE_WINDOW_SECONDS", time.Minute),
			Prefix:   service + ":webhook",
			FailOpen: true,
		})
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())

	h := handlers.New(gateway.NewDecoder(config.String("GATEWAY_EVENTS_SECRET", "")), svc, logger, rec)
	h.Register(mux, limiter.Middleware())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	handler = otelhttp.NewHandler(handler, "membership")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stopped := runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)

	// Activation reconcile: re-apply plans for completed requests whose
	// business write was lost.
	if config.Bool("MEMBERSHIP_RECONCILE_ENABLED", false) {
		var locker reconcile.Locker
		if st.pool != nil {
			locker = storage.NewAdvisoryLock(st.pool, config.Int64("MEMBERSHIP_RECONCILE_LOCK_KEY", 4242101))
		}
		r := reconcile.New(st.store, svc, locker, logger, rec, reconcile.Config{
			Interval:  config.Seconds("MEMBERSHIP_RECONCILE_INTERVAL_SECONDS", 5*time.Minute),
			BatchSize: config.Int("MEMBERSHIP_RECONCILE_BATCH_SIZE", 50),
		})
		go r.Run(ctx)
	}

	if err := startGrpcServer(ctx, logger, service, checks); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	<-stopped
}
