package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookwell/schedcore/libs/config"
	"github.com/bookwell/schedcore/libs/db"
	"github.com/bookwell/schedcore/libs/httpx"
	"github.com/bookwell/schedcore/libs/kafkax"
	otelx "github.com/bookwell/schedcore/libs/otel"
	"github.com/bookwell/schedcore/libs/runtime"
	"github.com/bookwell/schedcore/services/availability-service/internal/booking"
	"github.com/bookwell/schedcore/services/availability-service/internal/handlers"
	"github.com/bookwell/schedcore/services/availability-service/internal/outbox"
	"github.com/bookwell/schedcore/services/availability-service/internal/service"
	"github.com/bookwell/schedcore/services/availability-service/internal/storage"
)

func main() {
	_ = godotenv.Load()

	serviceName := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	var bookings booking.Provider
	if bookingURL := config.String("BOOKING_SERVICE_URL", ""); bookingURL != "" {
		if c := booking.NewClient(bookingURL, config.Seconds("BOOKING_TIMEOUT_SECONDS", 3*time.Second)); c != nil {
			bookings = c
		}
	}
	if bookings == nil {
		logger.Warn("no booking service configured, vacation and availability checks skip booking conflicts")
	}

	repo := storage.NewRepository(pool)
	svc := service.New(repo, bookings, outboxRepo, logger)
	httpHandler := handlers.New(svc)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	mux.HandleFunc("/api/v1/availability/weekly", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			httpHandler.SaveWeekly(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.GetWeekly(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/availability/weekly/apply", httpHandler.ApplyWeekly)
	mux.HandleFunc("/api/v1/availability/vacations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CreateVacation(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.ListVacations(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			httpHandler.DeleteVacation(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/availability/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			httpHandler.SaveSchedule(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.GetSchedule(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/availability/check", httpHandler.CheckAvailability)

	limit := config.Int("RATE_LIMIT", 120)
	window := config.Seconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute)
	var limiter httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, limit, window, serviceName).
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	} else {
		limiter = httpx.NewRateLimiter(limit, window).Middleware()
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Provider-Id,X-Request-Id")),
			MaxAge:         10 * time.Minute,
		}),
		limiter,
	)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
