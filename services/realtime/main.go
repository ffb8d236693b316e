package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkora/realtime/internal/ai"
	"github.com/linkora/realtime/internal/config"
	"github.com/linkora/realtime/internal/fanout"
	"github.com/linkora/realtime/internal/handler"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/push"
	"github.com/linkora/realtime/internal/registry"
	"github.com/linkora/realtime/internal/repository"
	"github.com/linkora/realtime/internal/sse"
	"github.com/linkora/realtime/internal/startup"
	"github.com/linkora/realtime/internal/ws"
)

func main() {
	logger.SetPrefix("realtime")
	migrate := flag.Bool("migrate", false, "run database migrations")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting realtime service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// Процесс только поднялся: живых стримов нет, состояние в БД обнуляется.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	sessions := startup.ConnectSessionStore(cfg.Redis.URL, 30*time.Second)
	defer sessions.Close()

	userRepo := repository.NewUserRepository(pool)
	groupRepo := repository.NewGroupRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)

	pushClient := push.NewClient(cfg.PushServiceURL)
	aiClient := ai.NewClient(cfg.AIServiceURL)

	reg := registry.New()
	sseServer := sse.NewServer(reg, userRepo, cfg.SSEHeartbeat)

	engine := fanout.New(groupRepo)
	engine.AddSink(reg)
	engine.SetDeliveryMarker(msgRepo)
	if pushClient.Enabled() {
		engine.SetNotifier(pushClient)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubAI ws.AIClient
	if aiClient.Enabled() {
		hubAI = aiClient
	}
	hub := ws.NewHub(msgRepo, groupRepo, userRepo, reactRepo, engine, hubAI, cfg.MaxWSConnections)
	engine.AddSink(hub)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	msgH := handler.NewMessageHandler(msgRepo, groupRepo, userRepo, reactRepo, engine)
	groupH := handler.NewGroupHandler(groupRepo)
	userH := handler.NewUserHandler(userRepo, reg)
	streamH := handler.NewStreamHandler(sseServer)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket (иначе ResponseWriter теряет http.Hijacker) и SSE
	// (буферизация ломает доставку фреймов).
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") || strings.HasPrefix(req.URL.Path, "/stream/") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Get("/stream/{userId}", streamH.Stream)
		r.Get("/ws", wsH.ServeWS)

		r.Get("/api/users/{userId}", userH.GetUser)

		r.Post("/api/messages", msgH.SendMessage)
		r.Get("/api/messages/conversation/{peerId}", msgH.GetConversation)
		r.Get("/api/messages/group/{groupId}", msgH.GetGroupMessages)
		r.Post("/api/messages/read", msgH.MarkAsRead)
		r.Put("/api/messages/{messageId}", msgH.EditMessage)
		r.Delete("/api/messages/{messageId}", msgH.DeleteMessage)
		r.Get("/api/messages/{messageId}/reactions", msgH.GetReactions)
		r.Post("/api/messages/{messageId}/reactions", msgH.AddReaction)
		r.Delete("/api/messages/{messageId}/reactions", msgH.RemoveReaction)

		r.Post("/api/groups", groupH.CreateGroup)
		r.Get("/api/groups/{groupId}", groupH.GetGroup)
		r.Get("/api/groups/{groupId}/members", groupH.GetMembers)
		r.Post("/api/groups/{groupId}/members", groupH.AddMember)
		r.Delete("/api/groups/{groupId}/members/{userId}", groupH.RemoveMember)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	// Порядок остановки: сначала закрываются SSE-стримы (иначе Shutdown висит
	// на живых соединениях), затем HTTP-сервер, затем хаб.
	reg.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files := []string{
		"migrations/001_init.sql",
		"migrations/002_reactions_receipts.sql",
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "realtime"
		password = "realtime_secret"
		database = "realtime"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
