package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration for corebroker, loaded once
// from the environment at startup and passed explicitly to every
// component constructor.
type Config struct {
	HTTPAddr string

	DB DBConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MQTTBrokerURL string

	JWTPublicKeyPath string

	CommandDeadline time.Duration

	DeviceOfflineAfter time.Duration
	HubOfflineAfter    time.Duration

	RolloutMaxAttempts   int
	RolloutBackoffMin    time.Duration
	RolloutBackoffMax    time.Duration
	AutomationBackoffMin time.Duration
	AutomationBackoffMax time.Duration

	FanoutRingSize    int
	FanoutKeepAlive   time.Duration
	PairingSessionTTL time.Duration
	JaegerEndpoint    string

	MQTTInsecureSkipVerify bool
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func Load() *Config {
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "corebroker"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "corebroker"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              parseInt(getEnv("REDIS_DB", "0"), 0),
		MQTTBrokerURL:        getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", "/etc/corebroker/jwt_public.pem"),
		CommandDeadline:      parseDuration(getEnv("COMMAND_DEADLINE", "8s"), 8*time.Second),
		DeviceOfflineAfter:   parseDuration(getEnv("DEVICE_OFFLINE_AFTER", "90s"), 90*time.Second),
		HubOfflineAfter:      parseDuration(getEnv("HUB_OFFLINE_AFTER", "120s"), 120*time.Second),
		RolloutMaxAttempts:   parseInt(getEnv("ROLLOUT_MAX_ATTEMPTS", "3"), 3),
		RolloutBackoffMin:    parseDuration(getEnv("ROLLOUT_BACKOFF_MIN", "1s"), time.Second),
		RolloutBackoffMax:    parseDuration(getEnv("ROLLOUT_BACKOFF_MAX", "30s"), 30*time.Second),
		AutomationBackoffMin: parseDuration(getEnv("AUTOMATION_BACKOFF_MIN", "1s"), time.Second),
		AutomationBackoffMax: parseDuration(getEnv("AUTOMATION_BACKOFF_MAX", "30s"), 30*time.Second),
		FanoutRingSize:       parseInt(getEnv("FANOUT_RING_SIZE", "500"), 500),
		FanoutKeepAlive:      parseDuration(getEnv("FANOUT_KEEPALIVE", "25s"), 25*time.Second),
		PairingSessionTTL:    parseDuration(getEnv("PAIRING_SESSION_TTL", "60s"), 60*time.Second),
		JaegerEndpoint:       getEnv("JAEGER_ENDPOINT", ""),

		MQTTInsecureSkipVerify: parseBool(getEnv("MQTT_INSECURE_SKIP_VERIFY", "false"), false),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"db_host", cfg.DB.Host,
		"db_name", cfg.DB.Name,
		"redis_addr", cfg.RedisAddr,
		"mqtt_broker_url", cfg.MQTTBrokerURL,
		"command_deadline", cfg.CommandDeadline,
	)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(val string, def bool) bool {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseDuration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
