package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string `validate:"required"`
	JWTKey  []byte `validate:"required"`
	JWTExp  time.Duration

	DBHost        string `validate:"required"`
	DBPort        string `validate:"required"`
	DBUser        string `validate:"required"`
	DBPassword    string
	DBName        string `validate:"required"`
	DBSslMode     string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	DBConnStr     string
	MigrationsDir string

	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	// Judge queues are polled in order, the first one has the highest priority.
	JudgeQueueHigh       string `validate:"required"`
	JudgeQueueLow        string `validate:"required,nefield=JudgeQueueHigh"`
	JudgeLockTTLSeconds  int    `validate:"gt=0"`
	AbortTTLSeconds      int    `validate:"gt=0"`
	JudgeFleetURL        string `validate:"required,url"`
	CallbackBaseURL      string `validate:"required,url"`
	JudgeRequestTimeoutS int    `validate:"gt=0"`

	AlertThrottleCount   int `validate:"gt=0"`
	AlertThrottleWindowS int `validate:"gt=0"`

	RankingCacheTTLSeconds int `validate:"gte=0"`
	RecomputeParallelism   int `validate:"gt=0"`

	CORSOrigins []string

	LogDir string
}

// Load reads the environment (and an optional .env file) into a validated Config.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:       getEnv("API_PORT", "8080"),
		JWTKey:        []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:        time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "user"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "tle_zone_judge"),
		DBSslMode:     getEnv("DB_SSLMODE", "disable"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JudgeQueueHigh:       getEnv("JUDGE_QUEUE_HIGH", "judge_jobs:high"),
		JudgeQueueLow:        getEnv("JUDGE_QUEUE_LOW", "judge_jobs:low"),
		JudgeLockTTLSeconds:  getEnvAsInt("JUDGE_LOCK_TTL_SECONDS", 300),
		AbortTTLSeconds:      getEnvAsInt("ABORT_TTL_SECONDS", 3600),
		JudgeFleetURL:        getEnv("JUDGE_FLEET_URL", "http://localhost:9090/grade"),
		CallbackBaseURL:      getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		JudgeRequestTimeoutS: getEnvAsInt("JUDGE_REQUEST_TIMEOUT_SECONDS", 10),

		AlertThrottleCount:   getEnvAsInt("ALERT_THROTTLE_COUNT", 10),
		AlertThrottleWindowS: getEnvAsInt("ALERT_THROTTLE_WINDOW_SECONDS", 60),

		RankingCacheTTLSeconds: getEnvAsInt("RANKING_CACHE_TTL_SECONDS", 5),
		RecomputeParallelism:   getEnvAsInt("RECOMPUTE_PARALLELISM", 4),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		LogDir: getEnv("LOG_DIR", "logs"),
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) JudgeLockTTL() time.Duration {
	return time.Duration(c.JudgeLockTTLSeconds) * time.Second
}

func (c *Config) AbortTTL() time.Duration {
	return time.Duration(c.AbortTTLSeconds) * time.Second
}

func (c *Config) JudgeRequestTimeout() time.Duration {
	return time.Duration(c.JudgeRequestTimeoutS) * time.Second
}

func (c *Config) AlertThrottleWindow() time.Duration {
	return time.Duration(c.AlertThrottleWindowS) * time.Second
}

func (c *Config) RankingCacheTTL() time.Duration {
	return time.Duration(c.RankingCacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
