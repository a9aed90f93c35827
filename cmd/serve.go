package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/database"
	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/gemini"
	"brand-camera-server/modules/common/hub"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/redis"
	"brand-camera-server/modules/common/slot"
	"brand-camera-server/modules/common/storage"
	"brand-camera-server/modules/history"
	"brand-camera-server/modules/lifestyle"
	"brand-camera-server/modules/prostudio"
	"brand-camera-server/modules/quota"
	"brand-camera-server/modules/single"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the generation API",
		Long: `Starts the HTTP API serving the lifestyle, pro-studio and single
generation routes, the credit quota routes and the task event stream.`,
		Example: `  # Start on PORT from the environment (default 8080)
  brand-camera serve

  # Start on a custom port
  brand-camera serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")

	return cmd
}

// serve - 의존성 생성 후 서버 실행, ctx 가 끝나면 graceful shutdown
func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	genClient, err := gemini.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	uploader, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}
	records, err := database.New(ctx, cfg)
	if err != nil {
		return err
	}
	if pg, ok := records.(*database.PostgresStore); ok {
		defer pg.Close()
	}
	ledger, err := credit.NewClient(cfg)
	if err != nil {
		return err
	}
	verifier, err := auth.NewSupabaseVerifier(cfg)
	if err != nil {
		return err
	}
	rdb, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	wsHub := hub.New(cfg.AllowedOrigins...)
	wsHub.StartCleanupRoutine(ctx)

	// typed nil 이 Sink 로 들어가지 않도록 실제 값만 추가
	sinks := []events.Sink{wsHub}
	var replay *events.RedisSink
	if rdb != nil {
		replay = events.NewRedisSink(rdb, cfg.EventReplayTTL)
		sinks = append(sinks, replay)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	bus := events.NewBus(sinks...)

	catalog, err := lifestyle.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("failed to load lifestyle catalog: %w", err)
	}

	var reservations quota.Store = quota.NewMemoryStore()
	if rdb != nil {
		reservations = quota.NewRedisStore(rdb, cfg.RequestTimeout*2)
	}

	gate := quota.NewGate(reservations)

	resolver := material.NewResolverFromConfig(cfg)
	slots := slot.Deps{Images: genClient, Uploader: uploader, Records: records}

	router := newRouter(routes{
		verifier:  verifier,
		hub:       wsHub,
		replay:    replay,
		lifestyle: lifestyle.NewHandler(lifestyle.NewService(genClient, resolver, slots, catalog, cfg.LifestyleNumImages), resolver, ledger, bus, cfg.RequestTimeout),
		proStudio: prostudio.NewHandler(prostudio.NewService(genClient, resolver, slots), gate, bus, cfg.RequestTimeout),
		single:    single.NewHandler(single.NewService(genClient, resolver, slots), gate, bus, cfg.RequestTimeout),
		history:   history.NewHandler(records),
		quota:     quota.NewHandler(ledger, reservations, records),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 Brand Camera server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("🛑 Shutting down server...")
		// 진행 중인 SSE 스트림이 끝날 시간
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("❌ Server shutdown failed")
			return err
		}
		log.Info().Msg("✅ Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}
