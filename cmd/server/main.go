package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bubblekit/backend/api/handlers"
	"github.com/bubblekit/backend/internal/chat"
	"github.com/bubblekit/backend/internal/config"
	"github.com/bubblekit/backend/internal/conversation"
	"github.com/bubblekit/backend/internal/db"
	"github.com/bubblekit/backend/internal/hooks"
	"github.com/bubblekit/backend/internal/logger"
	"github.com/bubblekit/backend/internal/repository"
	"github.com/bubblekit/backend/internal/ws"
)

const (
	demoChunkDelay  = time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "bubblekit-server",
		Short:         "Serve chat conversations as NDJSON and WebSocket streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("server failed")
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 8000, "listen port")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format (console or json)")
	flags.Bool("demo", true, "register the demo echo handlers")
	if err := bindFlags(v, cmd); err != nil {
		panic(err)
	}

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, flag := range map[string]string{
		"server.host": "host",
		"server.port": "port",
		"log.level":   "log-level",
		"log.format":  "log-format",
		"demo":        "demo",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return errors.Wrapf(err, "bind flag --%s", flag)
		}
	}
	return nil
}

// run serves until ctx is cancelled, then shuts down.
func run(ctx context.Context, cfg config.Config) error {
	conversations, closeStore, err := openConversationStore(cfg.Conversations)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := hooks.NewRegistry()
	if cfg.Demo {
		newDemo(demoChunkDelay).register(registry)
		log.Info().Msg("demo handlers registered")
	}

	chatService := chat.NewService(registry, conversations, cfg.Stream)

	ws.SetCheckOrigin(originChecker(cfg.CORS.AllowOrigins))
	wsService := ws.NewService(chatService)
	defer wsService.Close()

	router := newRouter(cfg, chatService, wsService)

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("conversations", cfg.Conversations.Backend).Msg("starting server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	wsService.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func openConversationStore(cfg config.ConversationsConfig) (conversation.Store, func(), error) {
	if cfg.Backend != config.BackendSQLite {
		return conversation.NewMemoryStore(), func() {}, nil
	}

	database, err := db.InitDB(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.CloseDB(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}
	return repository.NewConversationRepository(database), closeFn, nil
}

func newRouter(cfg config.Config, chatService *chat.Service, wsService *ws.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(), corsMiddleware(cfg.CORS.AllowOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	{
		handlers.NewConversationHandler(chatService).RegisterRoutes(api)
		handlers.NewWebSocketHandler(wsService.Handler()).RegisterRoutes(api)
	}

	return r
}

func allowedOrigin(allowed []string, origin string) (string, bool) {
	for _, o := range allowed {
		if o == "*" {
			if origin == "" {
				return "*", true
			}
			return origin, true
		}
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowedOrigin(allowed, origin)
		return ok
	}
}

// corsMiddleware allows the configured origins.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin, ok := allowedOrigin(allowed, c.GetHeader("Origin")); ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, User-Id")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
