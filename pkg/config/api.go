package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	JWTSecret           string
	LogLevel            string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	JoinLockName        string
	LockTTL             time.Duration
	MaxOwnedTeams       int
	MaxJoinedTeams      int
	SerializeMembership bool
	RateLimitJoin       int
	RateLimitWindow     time.Duration
	StatsInterval       time.Duration
	ShutdownTimeout     time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":8080"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://partnermatch:partnermatch@db:5432/partnermatch?sslmode=disable"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		RedisAddr:           GetString("REDIS_ADDR", ""),
		RedisPassword:       GetString("REDIS_PASSWORD", ""),
		RedisDB:             GetInt("REDIS_DB", 0),
		JoinLockName:        GetString("JOIN_LOCK_NAME", "partnermatch:join_team:lock"),
		LockTTL:             GetDuration("LOCK_TTL", 30*time.Second),
		MaxOwnedTeams:       GetInt("TEAM_MAX_OWNED", 5),
		MaxJoinedTeams:      GetInt("TEAM_MAX_JOINED", 5),
		SerializeMembership: GetBool("TEAM_SERIALIZE_MEMBERSHIP", false),
		RateLimitJoin:       GetInt("RATE_LIMIT_JOIN_PER_MIN", 30),
		RateLimitWindow:     time.Minute,
		StatsInterval:       GetDuration("STATS_INTERVAL", time.Minute),
		ShutdownTimeout:     time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// MigrateConfig holds configuration for the migration command.
type MigrateConfig struct {
	DatabaseURL string
	Timeout     time.Duration
}

// LoadMigrateConfig constructs a MigrateConfig from environment variables.
func LoadMigrateConfig() MigrateConfig {
	return MigrateConfig{
		DatabaseURL: GetString("DATABASE_URL", "postgres://partnermatch:partnermatch@db:5432/partnermatch?sslmode=disable"),
		Timeout:     GetDuration("MIGRATE_TIMEOUT", 2*time.Minute),
	}
}
