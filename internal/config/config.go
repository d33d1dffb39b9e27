package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)


type Config struct {
	Env string
	Port int
	DBURL string

	WorkerConcurrency   int
	WorkerPollInterval  time.Duration
	WorkerShutdownGrace time.Duration
	WorkerLockTTL       time.Duration

	PublishMaxRetries    int
	PublishRetryBaseDelay time.Duration
	// PublishSchedules maps entityType -> cron expression, parsed from
	// PUBLISH_SCHEDULES as "type=expr;type=expr". Types absent here fall
	// back to the scheduler's immediate schedule.
	PublishSchedules map[string]string

	// Admin HTTP surface auth. Tokens are issued by an external identity
	// service (out of scope here) and only verified at this boundary.
	JWTSecret           string
	JWTAccessTTLMinutes int
	JWTRefreshTTLDays   int

	// Redis backs the optional cross-process pubsub bridge, off by default.
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisBridgeEnabled  bool
	RedisBridgeChannel  string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT",8080)
	dbURL := buildDBURL()

	return Config{
		Env: env,
		Port: port,
		DBURL: dbURL,

		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL_MS", 100*time.Millisecond),
		WorkerShutdownGrace: getEnvDuration("WORKER_SHUTDOWN_GRACE_MS", 10*time.Second),
		WorkerLockTTL:       getEnvDuration("WORKER_LOCK_TTL_MS", 30*time.Second),

		PublishMaxRetries:     getEnvInt("PUBLISH_MAX_RETRIES", 3),
		PublishRetryBaseDelay: getEnvDuration("PUBLISH_RETRY_BASE_DELAY_MS", 5*time.Second),
		PublishSchedules:      parseSchedules(getEnv("PUBLISH_SCHEDULES", "")),

		JWTSecret:           getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 60),
		JWTRefreshTTLDays:   getEnvInt("JWT_REFRESH_TTL_DAYS", 30),

		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisBridgeEnabled: getEnv("REDIS_BRIDGE_ENABLED", "false") == "true",
		RedisBridgeChannel: getEnv("REDIS_BRIDGE_CHANNEL", "workcore:bus"),
	}
}

// parseSchedules reads "type=expr;type=expr" pairs, matching the teacher's
// flat-string env var convention (buildDBURL's own string assembly) rather
// than introducing a JSON or YAML config layer for one map.
func parseSchedules(raw string) map[string]string {
	schedules := make(map[string]string)
	if raw == "" {
		return schedules
	}

	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		schedules[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return schedules
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	ms, err := strconv.Atoi(v)
	if err != nil {
		fmt.Println(err)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func buildDBURL() string {
	host := getEnv("DB_HOST","127.0.0.1")
	port := getEnv("DB_PORT","5432")
	user := getEnv("DB_USER","eventhub")
	pass := getEnv("DB_PASSWORD","eventhub")
	name := getEnv("DB_NAME", "eventhub")
	ssl := getEnv("DB_SSLMODE", "disable")


	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration)(context.Context, context.CancelFunc){
	return context.WithTimeout(context.Background(),duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
		}

		return num
	}
	return fallback
}