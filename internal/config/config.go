package config

import (
	"os"
	"strconv"
	"time"

	"cyphr/internal/utils/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the settings shared by the relay and the client.
type Config struct {
	// RelayURL is the websocket endpoint the client syncs with.
	RelayURL string
	// ListenAddr is where the relay serves HTTP.
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI string
	MongoDB  string

	// DataDir holds the client's local bolt database.
	DataDir string

	// ExpiryAge is how old a message must be before it may be expired.
	ExpiryAge time.Duration
	// ExpirySweep is how often the client runs the expiry sweep.
	ExpirySweep time.Duration

	// RequireKnownMembers drops group invites where no member is a contact.
	RequireKnownMembers bool

	LogLevel string
	Dev      bool
}

// Load reads a .env file when present, then the environment, falling back to
// defaults for anything unset.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	cfg := &Config{
		RelayURL:            getEnv("CYPHR_RELAY_URL", "ws://localhost:9090/sync"),
		ListenAddr:          getEnv("CYPHR_LISTEN_ADDR", "localhost:9090"),
		RedisAddr:           getEnv("CYPHR_REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("CYPHR_REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("CYPHR_REDIS_DB", 0),
		MongoURI:            getEnv("CYPHR_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:             getEnv("CYPHR_MONGO_DB", "cyphr"),
		DataDir:             getEnv("CYPHR_DATA_DIR", "./data"),
		ExpiryAge:           time.Duration(getEnvInt("CYPHR_EXPIRY_DAYS", 90)) * 24 * time.Hour,
		ExpirySweep:         getEnvDuration("CYPHR_EXPIRY_SWEEP", time.Hour),
		RequireKnownMembers: getEnvBool("CYPHR_REQUIRE_KNOWN_MEMBERS", false),
		LogLevel:            getEnv("CYPHR_LOG_LEVEL", "info"),
		Dev:                 getEnvBool("CYPHR_DEV", false),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn("invalid integer in environment", zap.String("key", key), zap.Error(err))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn("invalid boolean in environment", zap.String("key", key), zap.Error(err))
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn("invalid duration in environment", zap.String("key", key), zap.Error(err))
		return defaultValue
	}
	return d
}
