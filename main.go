package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"battletrails/config"
	"battletrails/database"
	"battletrails/events"
	"battletrails/feed"
	"battletrails/handlers"
	"battletrails/logging"
	"battletrails/maps"
	"battletrails/middleware"
	"battletrails/push"
	"battletrails/routes"
	"battletrails/storage"
	"battletrails/websocket"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Msg("starting Battle Trails server")

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx, cfg.Mongo)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to create indexes")
	}

	images, err := storage.NewCloudinary(cfg.Cloudinary.URL, cfg.Cloudinary.Folder)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid Cloudinary configuration")
	}

	places, err := maps.New(maps.Options{
		APIKey:        cfg.Maps.APIKey,
		Language:      cfg.Maps.Language,
		Region:        cfg.Maps.Region,
		MemcachedAddr: cfg.Memcached.Addr,
		CacheTTL:      cfg.Memcached.TTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid maps configuration")
	}

	publisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer publisher.Close()

	notifier, err := push.NewNotifier(store, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up web push")
	}

	hub := websocket.NewManager(cfg.Auth.JWTSecret, cfg.Server.CORSOrigins)
	go hub.Start(ctx)

	h := handlers.New(handlers.Handler{
		Posts:          store,
		Users:          store,
		Subs:           store,
		Images:         images,
		Places:         places,
		Feed:           feed.NewEngine(store, cfg.Feed.LookupWorkers, cfg.Feed.LookupTimeout),
		Events:         publisher,
		Hub:            hub,
		Push:           notifier,
		JWTSecret:      cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		ResetTokenTTL:  cfg.Auth.ResetTokenTTL,
		ResetURL:       cfg.Auth.ResetURL,
		GoogleOAuth:    handlers.GoogleOAuthConfig(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.GoogleRedirectURL),
		GoogleClientID: cfg.Auth.GoogleClientID,
	})

	router := routes.SetupRouter(h, routes.Options{
		JWTSecret:   cfg.Auth.JWTSecret,
		CORSOrigins: cfg.Server.CORSOrigins,
		AuthLimiter: middleware.NewIPRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst),
		WebSocket:   hub.Handler(),
		Ping:        store.Ping,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logging.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("forced shutdown")
	}
	if err := store.Disconnect(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("failed to disconnect from MongoDB")
	}

	logging.Info().Msg("server stopped")
}
