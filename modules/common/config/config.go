package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port           string
	AppEnv         string
	LogLevel       string
	RequestTimeout time.Duration
	// AllowedOrigins - WebSocket 업그레이드를 허용할 브라우저 Origin ("*" 는 전체)
	AllowedOrigins []string

	// Redis (event replay)
	RedisHost      string
	RedisPort      string
	RedisUsername  string
	RedisPassword  string
	RedisUseTLS    bool
	EventReplayTTL time.Duration

	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBucket  string
	SupabaseStorageBaseURL string
	PresetBaseURL          string

	// Postgres (direct record writes, optional)
	DatabaseURL string

	// Storage backend
	StorageBackend string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	// Kafka (event export, optional)
	KafkaBrokers []string
	KafkaTopic   string

	// GenAI
	GenAIBackend        string
	GeminiAPIKey        string
	VertexProject       string
	VertexLocation      string
	PrimaryImageModel   string
	FallbackImageModel  string
	VisionModel         string
	PrimaryModelRetries int

	// Generation
	LifestyleNumImages   int
	MaterialFetchTimeout time.Duration
	RandomPresetAttempts int
	PresetCounts         map[string]int

	// Credit
	ImagePerPrice int
}

const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"

	StorageSupabase = "supabase"
	StorageMinio    = "minio"
)

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Msgf("   Supabase: %s (bucket: %s)", cfg.SupabaseURL, cfg.SupabaseStorageBucket)
	log.Info().Msgf("   GenAI: %s primary=%s fallback=%s vision=%s",
		cfg.GenAIBackend, cfg.PrimaryImageModel, cfg.FallbackImageModel, cfg.VisionModel)
	log.Info().Msgf("   Storage: %s, Redis: %s, Postgres: %v, Kafka: %d brokers",
		cfg.StorageBackend, cfg.RedisAddrOrNone(), cfg.DatabaseURL != "", len(cfg.KafkaBrokers))
	log.Info().Msgf("   Credit: %d per image", cfg.ImagePerPrice)

	return cfg, nil
}

// FromEnv - 현재 환경변수로 Config 생성 (검증 없음)
func FromEnv() *Config {
	supabaseURL := strings.TrimRight(getEnv("SUPABASE_URL", ""), "/")
	bucket := getEnv("SUPABASE_STORAGE_BUCKET", "generations")

	storageBase := getEnv("SUPABASE_STORAGE_BASE_URL", "")
	if storageBase == "" && supabaseURL != "" {
		storageBase = fmt.Sprintf("%s/storage/v1/object/public/%s/", supabaseURL, bucket)
	}

	presetBase := getEnv("PRESET_BASE_URL", "")
	if presetBase == "" && supabaseURL != "" {
		presetBase = fmt.Sprintf("%s/storage/v1/object/public/presets/", supabaseURL)
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 300*time.Second),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),

		RedisHost:      getEnv("REDIS_HOST", ""),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisUsername:  getEnv("REDIS_USERNAME", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:    getBool("REDIS_USE_TLS", false),
		EventReplayTTL: getDuration("EVENT_REPLAY_TTL", time.Hour),

		SupabaseURL:            supabaseURL,
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:  bucket,
		SupabaseStorageBaseURL: ensureSlash(storageBase),
		PresetBaseURL:          ensureSlash(presetBase),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		StorageBackend: getEnv("STORAGE_BACKEND", StorageSupabase),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "generations"),
		MinioUseSSL:    getBool("MINIO_USE_SSL", true),
		MinioPublicURL: getEnv("MINIO_PUBLIC_URL", ""),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "generation-events"),

		GenAIBackend:        getEnv("GENAI_BACKEND", BackendGemini),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		VertexProject:       getEnv("VERTEXAI_PROJECT", ""),
		VertexLocation:      getEnv("VERTEXAI_LOCATION", "us-central1"),
		PrimaryImageModel:   getEnv("PRIMARY_IMAGE_MODEL", "gemini-3-pro-image-preview"),
		FallbackImageModel:  getEnv("FALLBACK_IMAGE_MODEL", "gemini-2.5-flash-image"),
		VisionModel:         getEnv("VISION_MODEL", "gemini-2.5-flash"),
		PrimaryModelRetries: getInt("PRIMARY_MODEL_RETRIES", 0),

		LifestyleNumImages:   getInt("LIFESTYLE_NUM_IMAGES", 4),
		MaterialFetchTimeout: getDuration("MATERIAL_FETCH_TIMEOUT", 30*time.Second),
		RandomPresetAttempts: getInt("RANDOM_PRESET_ATTEMPTS", 5),
		PresetCounts:         ParsePresetCounts(getEnv("PRESET_COUNTS", "studio-models=40,backgrounds=30")),

		ImagePerPrice: getInt("IMAGE_PER_PRICE", 1),
	}
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal().Msg("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// Validate - 필수 환경변수 검증
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	switch c.GenAIBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case BackendVertex:
		if c.VertexProject == "" {
			return fmt.Errorf("VERTEXAI_PROJECT is required when GENAI_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("unknown GENAI_BACKEND: %s", c.GenAIBackend)
	}
	switch c.StorageBackend {
	case StorageSupabase:
	case StorageMinio:
		if c.MinioEndpoint == "" || c.MinioPublicURL == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_PUBLIC_URL are required when STORAGE_BACKEND=minio")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %s", c.StorageBackend)
	}
	if c.LifestyleNumImages <= 0 {
		return fmt.Errorf("LIFESTYLE_NUM_IMAGES must be positive")
	}
	if c.RandomPresetAttempts <= 0 {
		return fmt.Errorf("RANDOM_PRESET_ATTEMPTS must be positive")
	}
	if c.PrimaryModelRetries < 0 {
		return fmt.Errorf("PRIMARY_MODEL_RETRIES must not be negative")
	}
	return nil
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// RedisAddrOrNone - 로그용
func (c *Config) RedisAddrOrNone() string {
	if c.RedisHost == "" {
		return "disabled"
	}
	return c.GetRedisAddr()
}

// ParsePresetCounts parses "category=count,category=count".
func ParsePresetCounts(raw string) map[string]int {
	counts := map[string]int{}
	for _, entry := range splitList(raw) {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		counts[strings.TrimSpace(name)] = n
	}
	return counts
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
		log.Warn().Msgf("⚠️  Invalid %s=%q, using default %d", key, raw, defaultValue)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
		log.Warn().Msgf("⚠️  Invalid %s=%q, using default %s", key, raw, defaultValue)
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ensureSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
