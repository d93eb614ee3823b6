package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers understood by the server.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
	DriverS3       = "s3"
	DriverMemory   = "memory"
)

// Config holds server configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		TrustedProxies []string
	}
	Storage struct {
		Driver    string
		Dir       string
		Path      string
		DSN       string
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
	Auth struct {
		Iterations int
	}
	Janitor struct {
		Interval time.Duration
	}
	RateLimit struct {
		RPS   float64
		Burst int
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables (PASSE_*), an optional
// .env file and an optional config file in the working directory.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("PASSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8000")
	v.SetDefault("server.trustedproxies", []string{})
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.dir", defaultDataDir())
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "passe")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "passe:")
	v.SetDefault("auth.iterations", 10)
	v.SetDefault("janitor.interval", time.Hour)
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(cfg.Storage.Dir, "passe."+cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks trusted proxy addresses and the settings each storage
// driver requires.
func (c Config) Validate() error {
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite, DriverBolt:
		if c.Storage.Dir == "" && c.Storage.Path == "" {
			return fmt.Errorf("storage driver %s requires a directory", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage driver postgres requires storage.dsn")
		}
	case DriverS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage driver s3 requires storage.bucket")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("storage driver redis requires redis.addr")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".config", "passe-server")
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
