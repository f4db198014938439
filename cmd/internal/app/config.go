package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Token verification. The relay never issues tokens; it only verifies
	// the access tokens the external identity system signs with this key.
	JWTSecret string
	// If true, the secret must be at least 32 bytes.
	RequireStrongJWTSecret bool

	// Websocket policy.
	WSOriginRequired bool
	WSAllowedOrigins []string
	WSDevInsecure    bool
	WSSendQueueSize  int
	WSWriteTimeout   time.Duration
	WSReadIdle       time.Duration
	WSHeartbeatEvery time.Duration
	WSHeartbeatWait  time.Duration
	WSRateEvents     int
	WSRateWindow     time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BONDY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BONDY_LOG_LEVEL", "info"),
		LogFormat: EnvString("BONDY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BONDY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BONDY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BONDY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BONDY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BONDY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BONDY_DATABASE_URL", ""),
		DBSchema:    EnvString("BONDY_DB_SCHEMA", "bondy"),
		DBMaxConns:  EnvInt32("BONDY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BONDY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BONDY_READINESS_REQUIRE_DB", false),

		JWTSecret:              EnvString("BONDY_JWT_SECRET", ""),
		RequireStrongJWTSecret: EnvBool("BONDY_REQUIRE_STRONG_JWT_SECRET", false),

		WSOriginRequired: EnvBool("BONDY_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins: envCSV("BONDY_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSDevInsecure:    EnvBool("BONDY_WS_DEV_INSECURE", false),
		WSSendQueueSize:  EnvInt("BONDY_WS_SEND_QUEUE", 256),
		WSWriteTimeout:   EnvDuration("BONDY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdle:       EnvDuration("BONDY_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeatEvery: EnvDuration("BONDY_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatWait:  EnvDuration("BONDY_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:     EnvInt("BONDY_WS_RATE_EVENTS", 120),
		WSRateWindow:     EnvDuration("BONDY_WS_RATE_WINDOW", 10*time.Second),

		CORSAllowedOrigins:   envCSV("BONDY_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("BONDY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BONDY_CORS_MAX_AGE_SECONDS", 600),
	}
}

func envCSV(key, def string) []string {
	raw := strings.TrimSpace(EnvString(key, def))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
