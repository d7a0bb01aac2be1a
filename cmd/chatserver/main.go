package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/httpapi"
	"github.com/whisper/roomchat/internal/hub"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/registry"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/ws"
)

// maxFrameBytes leaves room for JSON escaping and the event envelope around
// a body of chat.MaxMessageBytes.
const maxFrameBytes = 4 * chat.MaxMessageBytes

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	reg := registry.New()
	rooms := room.NewStore()

	dispatcher := ws.NewMessageDispatcher(logger)
	server := ws.NewServer(ws.ServerConfig{
		WorkerPoolSize:  cfg.WorkerPoolSize,
		MaxConnections:  cfg.MaxConnections,
		MaxMessageBytes: maxFrameBytes,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		SendQueueSize:   cfg.SendQueueSize,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}, logger, dispatcher.Dispatch)

	// --- NATS moderation feed (optional) ---
	var hubOpts []hub.Option
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "roomchat-server"

		natsClient, err = messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		hubOpts = append(hubOpts, hub.WithMirror(messaging.NewRoomFeed(natsClient, logger)))

		if err := natsClient.SubscribeFlags(flagLogger(logger)); err != nil {
			logger.Fatal("failed to subscribe to moderation flags", zap.Error(err))
		}
	}

	h := hub.New(reg, rooms, server.Groups(), logger, hubOpts...)
	server.SetOnDisconnect(h.Disconnect)

	// --- Redis rate limiting (optional) ---
	var limiter rateLimiter
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatal("failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb, logger)
	}

	(&handlers{
		hub:         h,
		limiter:     limiter,
		messageRule: ratelimit.MessageRule(cfg.RateLimitMessages, cfg.RateLimitWindow),
		privateRule: ratelimit.PrivateRule(cfg.RateLimitMessages, cfg.RateLimitWindow),
		logger:      logger,
	}).register(dispatcher)

	// --- HTTP ---
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.ClientURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	router.Get("/health", server.HandleHealth)
	router.Handle("/metrics", metrics.Handler())
	router.With(connectLimit(limiter, logger)).Get("/ws", server.HandleUpgrade)
	router.Route("/api", func(api chi.Router) {
		httpapi.New(rooms, reg, logger).RegisterRoutes(api)
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.Start(); err != nil {
		logger.Fatal("failed to start websocket server", zap.Error(err))
	}

	go func() {
		logger.Info("chat server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("client_url", cfg.ClientURL),
			zap.Bool("rate_limit", limiter != nil),
			zap.Bool("moderation_feed", natsClient != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	_ = server.Shutdown()

	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// connectLimit throttles WebSocket upgrades per remote address.
func connectLimit(limiter rateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}

			ok, err := limiter.Allow(r.Context(), ip, ratelimit.RuleConnect)
			if err == nil && !ok {
				metrics.RateLimited.Inc()
				logger.Debug("chatserver: connection rate limited", zap.String("ip", ip))
				http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// flagLogger logs and counts moderation flags published by the moderator.
func flagLogger(logger *zap.Logger) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		var f moderation.Flag
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Warn("moderation: bad flag payload", zap.String("subject", subject), zap.Error(err))
			return
		}
		metrics.ModerationFlags.WithLabelValues(f.Reason).Inc()
		logger.Warn("moderation: message flagged",
			zap.Int64("message", f.MessageID),
			zap.String("room", f.Room),
			zap.String("sender", f.Sender),
			zap.String("reason", f.Reason),
			zap.String("term", f.Term),
		)
	}
}
