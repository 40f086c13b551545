package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/syncfm/resolver/internal/domain"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port     string
	LogLevel string

	// RootDomain is the bare local root used for subdomain derivation,
	// including the port when one is used locally (e.g. "localhost:3000").
	RootDomain string

	// DefaultConversionService is the provider the identity alias converts
	// to when no concrete provider was requested.
	DefaultConversionService domain.Service

	CatalogBaseURL  string
	CatalogAPIToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabasePath string

	ConvertWorkers int

	RateLimitWindow time.Duration
	TierLimits      map[domain.Tier]int
}

// SubdomainAliases maps a host subdomain label onto the provider its links
// resolve to. The identity alias is represented by the empty service and
// handled by Config.IsIdentityAlias.
var SubdomainAliases = map[string]domain.Service{
	"a":          domain.ServiceAppleMusic,
	"am":         domain.ServiceAppleMusic,
	"applemusic": domain.ServiceAppleMusic,
	"s":          domain.ServiceSpotify,
	"spotify":    domain.ServiceSpotify,
	"y":          domain.ServiceYTMusic,
	"yt":         domain.ServiceYTMusic,
	"ytm":        domain.ServiceYTMusic,
	"youtube":    domain.ServiceYTMusic,
}

// IdentityAlias is the reserved subdomain that returns converted data as
// JSON instead of redirecting.
const IdentityAlias = "syncfm"

// Load reads configuration from .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	workers, err := strconv.Atoi(getEnv("CONVERT_WORKERS", "5"))
	if err != nil || workers < 1 {
		workers = 5
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	windowSec, err := strconv.Atoi(getEnv("RATE_LIMIT_WINDOW_SECONDS", "3600"))
	if err != nil || windowSec < 1 {
		windowSec = 3600
	}

	defaultService, ok := domain.ParseService(getEnv("DEFAULT_CONVERSION_SERVICE", string(domain.ServiceSpotify)))
	if !ok {
		return nil, fmt.Errorf("config: DEFAULT_CONVERSION_SERVICE %q is not a known service", os.Getenv("DEFAULT_CONVERSION_SERVICE"))
	}

	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		RootDomain:               getEnv("ROOT_DOMAIN", "localhost:3000"),
		DefaultConversionService: defaultService,
		CatalogBaseURL:           getEnv("CATALOG_BASE_URL", "http://localhost:9090"),
		CatalogAPIToken:          getEnv("CATALOG_API_TOKEN", ""),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RedisDB:                  redisDB,
		DatabasePath:             getEnv("DATABASE_PATH", "resolver.db"),
		ConvertWorkers:           workers,
		RateLimitWindow:          time.Duration(windowSec) * time.Second,
		TierLimits: map[domain.Tier]int{
			domain.TierFree:       envInt("RATE_LIMIT_FREE", 100),
			domain.TierPro:        envInt("RATE_LIMIT_PRO", 1000),
			domain.TierEnterprise: envInt("RATE_LIMIT_ENTERPRISE", 10000),
		},
	}

	if err := validateAliases(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LimitForTier resolves a tier to its request limit. Unknown tiers get the
// free tier's limit.
func (c *Config) LimitForTier(tier domain.Tier) int {
	if limit, ok := c.TierLimits[tier]; ok {
		return limit
	}
	return c.TierLimits[domain.TierFree]
}

// validateAliases rejects alias tables that point at unknown services, so a
// bad entry fails startup instead of falling through at request time.
func validateAliases() error {
	for alias, svc := range SubdomainAliases {
		if _, ok := domain.ParseService(string(svc)); !ok {
			return fmt.Errorf("config: subdomain alias %q maps to unknown service %q", alias, svc)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
