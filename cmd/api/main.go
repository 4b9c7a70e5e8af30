package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/marketplace-payments/internal/auth"
	"github.com/joao-fontenele/marketplace-payments/internal/cart"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
	"github.com/joao-fontenele/marketplace-payments/internal/messaging"
	"github.com/joao-fontenele/marketplace-payments/internal/orders"
	"github.com/joao-fontenele/marketplace-payments/internal/payment"
	"github.com/joao-fontenele/marketplace-payments/internal/stripegw"
	"github.com/joao-fontenele/marketplace-payments/internal/telemetry"
)

const (
	serviceName    = "payments-api"
	serviceVersion = "0.1.0"

	stripeTimeout           = 20 * time.Second
	stripeMaxNetworkRetries = 2
)

// cartLockTTL outlives a checkout whose Stripe call exhausts every retry.
func cartLockTTL() time.Duration {
	return stripeTimeout*time.Duration(stripeMaxNetworkRetries+1) + 30*time.Second
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	postgresURL := requireEnv(logger, "POSTGRES_URL")
	stripeSecretKey := requireEnv(logger, "STRIPE_SECRET_KEY")
	stripeWebhookSecret := requireEnv(logger, "STRIPE_WEBHOOK_SECRET")
	jwtSecret := requireEnv(logger, "JWT_SECRET")

	currency := strings.ToLower(os.Getenv("PAYMENT_CURRENCY"))
	if currency == "" {
		currency = "usd"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	locker := newLocker(ctx, logger, db)

	var publisher payment.EventPublisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), payment.TopicPaymentSucceeded)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, payment events will not be published")
	}

	gateway := stripegw.New(stripegw.Config{
		SecretKey:     stripeSecretKey,
		WebhookSecret: stripeWebhookSecret,
		HTTPClient: &http.Client{
			Timeout:   stripeTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		MaxNetworkRetries: stripeMaxNetworkRetries,
	}, logger)

	paymentRepo := payment.NewRepository(db)
	cartRepo := cart.NewRepository(db)
	orderRepo := orders.NewOrderRepository(db)

	checkout := payment.NewCheckoutService(paymentRepo, cartRepo, gateway, locker, currency, logger)
	reconciler := payment.NewReconciler(paymentRepo, gateway, publisher, logger)

	authn := auth.NewAuthenticator([]byte(jwtSecret), logger)
	paymentHandler := payment.NewHandler(checkout, reconciler, logger)
	cartHandler := cart.NewHandler(cart.NewService(cartRepo, locker, logger), logger)
	ordersHandler := orders.NewHandler(orderRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payment/pay", telemetry.WithHTTPRoute(authn.Require(paymentHandler.HandlePay)))
	mux.HandleFunc("POST /payment/webhook", telemetry.WithHTTPRoute(paymentHandler.HandleWebhook))
	mux.HandleFunc("POST /cart", telemetry.WithHTTPRoute(authn.Require(cartHandler.HandleAdd)))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(authn.Require(cartHandler.HandleList)))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(authn.Require(ordersHandler.HandleList)))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(authn.Require(ordersHandler.HandleGet)))
	mux.HandleFunc("GET /healthz", healthz(db))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.NewHTTPHandler(mux, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	go func() {
		logger.Info("starting payments api", "port", port, "currency", currency)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func requireEnv(logger *slog.Logger, key string) string {
	value := os.Getenv(key)
	if value == "" {
		logger.Error(key + " environment variable is required")
		os.Exit(1)
	}
	return value
}

// newLocker prefers Redis when REDIS_URL is set and falls back to Postgres advisory locks.
func newLocker(ctx context.Context, logger *slog.Logger, db *sql.DB) lock.Locker {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Info("using postgres advisory locks for carts")
		return lock.NewPostgresLocker(db, 5*time.Second)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	logger.Info("using redis locks for carts", "ttl", cartLockTTL().String())
	return lock.NewRedisLocker(client, lock.WithTTL(cartLockTTL()))
}

func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
