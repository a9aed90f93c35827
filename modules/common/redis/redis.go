package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/config"
)

// Connect - Redis 연결 생성. REDIS_HOST 가 비어 있으면 (nil, nil)
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisHost == "" {
		log.Info().Msg("ℹ️  [Redis] REDIS_HOST not set, event replay disabled")
		return nil, nil
	}
	log.Info().Msgf("🔌 [Redis] Connecting to %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // managed Redis 인증서
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Msg("✅ [Redis] Connected")
	return rdb, nil
}
