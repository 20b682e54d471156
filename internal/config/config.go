package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	// token signing
	JWTSecret           string
	JWTAccessTTLMinutes int

	// credential hashing
	BcryptCost int

	// optional failed-login throttle (disabled when RedisAddr is empty)
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LoginMaxFailures   int
	LoginWindowSeconds int

	CORSAllowedOrigins []string
	OTELEndpoint       string
}

func Load() (Config, error) {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	cfg := Config{
		Env:                 getEnv("APP_ENV", "dev"),
		Port:                getEnvInt("PORT", 4100),
		DBURL:               buildDBURL(),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
		BcryptCost:          getEnvInt("BCRYPT_COST", 10),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		LoginMaxFailures:    getEnvInt("LOGIN_MAX_FAILURES", 10),
		LoginWindowSeconds:  getEnvInt("LOGIN_WINDOW_SECONDS", 300),
		OTELEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	if cfg.JWTSecret == "" {
		if cfg.Env != "dev" {
			return Config{}, errors.New("JWT_SECRET must be set outside dev")
		}
		// dev convenience only, never used in prod
		cfg.JWTSecret = "dev-insecure-secret"
	}

	return cfg, nil
}

func buildDBURL() string {
	// an explicit URL wins over the individual parts
	if url := getEnv("DATABASE_URL", ""); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "userdir")
	pass := getEnv("DB_PASSWORD", "userdir")
	name := getEnv("DB_NAME", "userdir")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowSeconds) * time.Second
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
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
			return fallback
		}

		return num
	}
	return fallback
}
