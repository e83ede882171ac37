package config

import (
	"crypto/rand"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Durable store: memory, badger or postgres
	StoreDriver string
	BadgerPath  string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// internal secret used for communication between servers
	InternalSecret string

	// External collaborators
	NotifyURL    string
	PublishURL   string
	MediaDir     string
	MediaBaseURL string

	// Recovery policy
	SnapshotEveryEdits int
	SnapshotInterval   time.Duration
	InactivityTimeout  time.Duration

	// Versions replace records are kept for before lagging replaces go stale
	RebaseWindow int64

	StorageRetryAttempts int
	StorageRetryInitial  time.Duration

	NotifyWorkers int

	FrontendAddress string
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Println("Generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:           getEnv("PORT", "8080"),
		Environment:          getEnv("ENV", "development"),
		StoreDriver:          getEnv("STORE_DRIVER", "memory"),
		BadgerPath:           getEnv("BADGER_PATH", "./data/badger"),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "postgres"),
		DBPassword:           getEnv("DB_PASSWORD", "postgres"),
		DBName:               getEnv("DB_NAME", "draft_editor"),
		RedisAddress:         getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:            jwtSecret,
		InternalSecret:       getEnv("INTERNAL_SECRET", "collab-internal-secret"),
		NotifyURL:            getEnv("NOTIFY_URL", ""),
		PublishURL:           getEnv("PUBLISH_URL", "http://localhost:8787"),
		MediaDir:             getEnv("MEDIA_DIR", "./data/media"),
		MediaBaseURL:         getEnv("MEDIA_BASE_URL", "/media"),
		SnapshotEveryEdits:   getEnvInt("SNAPSHOT_EVERY_EDITS", 50),
		SnapshotInterval:     getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),
		InactivityTimeout:    getEnvDuration("INACTIVITY_TIMEOUT", 24*time.Hour),
		RebaseWindow:         int64(getEnvInt("REBASE_WINDOW", 1000)),
		StorageRetryAttempts: getEnvInt("STORAGE_RETRY_ATTEMPTS", 4),
		StorageRetryInitial:  getEnvDuration("STORAGE_RETRY_INITIAL", 50*time.Millisecond),
		NotifyWorkers:        getEnvInt("NOTIFY_WORKERS", 4),
		FrontendAddress:      getEnv("FRONTEND_ADDRESS", "http://localhost:5173"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: %s=%q is not a duration, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate secret: %v", err)
	}
	secret := make([]byte, length)
	for i := range secret {
		secret[i] = charset[int(buf[i])%len(charset)]
	}
	return string(secret)
}
