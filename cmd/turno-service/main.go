package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/turno-service/internal/broadcast"
	"qms/turno-service/internal/config"
	"qms/turno-service/internal/httpapi"
	"qms/turno-service/internal/hub"
	"qms/turno-service/internal/queue"
	"qms/turno-service/internal/realtime"
	"qms/turno-service/internal/redisx"
	"qms/turno-service/internal/store"
	"qms/turno-service/internal/store/postgres"
	"qms/turno-service/internal/store/sqlite"
	"qms/turno-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "turno-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticketStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	h := hub.New(cfg.SubscriberBuffer)
	coordinator := broadcast.NewCoordinator(ticketStore, h, broadcast.Options{Location: cfg.Location})

	listeners := []queue.MutationListener{coordinator}
	var locker queue.Locker = queue.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, redisx.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()

		instance := uuid.NewString()
		relay := redisx.NewMutationRelay(rdb, instance)
		listeners = append(listeners, relay)
		locker = redisx.NewDayLock(rdb, cfg.DayLockTTL)
		go func() {
			if err := relay.Subscribe(ctx, coordinator.OnMutation); err != nil && ctx.Err() == nil {
				log.Printf("relay subscribe error: %v", err)
			}
		}()
		log.Printf("redis relay enabled addr=%s instance=%s", cfg.RedisAddr, instance)
	}

	service := queue.NewService(ticketStore, queue.Options{
		Locker:      locker,
		Listeners:   listeners,
		Location:    cfg.Location,
		MaxAttempts: cfg.NumberingMaxAttempts,
	})
	handler := httpapi.NewHandler(service, httpapi.Options{
		Stream: realtime.NewSSEHandler(h, coordinator),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", realtime.NewSockJSHandler("/realtime", h, coordinator))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), serviceName)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s store=%s tz=%s", serviceName, server.Addr, cfg.StoreDriver, cfg.Location)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.TicketStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	}
}
