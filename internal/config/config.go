package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"` // memory|sqlite|postgres
	DBDSN    string `yaml:"db_dsn"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	AuthSecret      string        `yaml:"auth_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	EnableLocalAuth bool          `yaml:"enable_local_auth"`

	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"admin_pass_hash"` // bcrypt

	CORSOrigins []string `yaml:"cors_origins"`

	Exams ExamConfig `yaml:"exams"`
}

// ExamConfig carries the attempt lifecycle constants. Rating thresholds are
// fixed in the grading package.
type ExamConfig struct {
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	MaxRecordRetries   int           `yaml:"max_record_retries"`
	ReadRetries        int           `yaml:"read_retries"`
	ReadBackoff        time.Duration `yaml:"read_backoff"`
}

func Defaults() Config {
	return Config{
		Mode:            ModeOffline,
		HTTPAddr:        ":8080",
		DBDriver:        "sqlite",
		LogLevel:        "info",
		AuthSecret:      "supersecret-dev-key",
		TokenTTL:        8 * time.Hour,
		EnableLocalAuth: true,
		AdminUser:       "admin",
		AdminPassHash:   "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji",
		CORSOrigins:     []string{"http://localhost:3000"},
		Exams: ExamConfig{
			DefaultMaxAttempts: 5,
			MaxRecordRetries:   3,
			ReadRetries:        3,
			ReadBackoff:        50 * time.Millisecond,
		},
	}
}

// Load layers defaults, the YAML file at path (if any), a .env file in the
// working directory (if present) and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a file: defaults overlaid with the environment.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("db_driver %q: want memory, sqlite or postgres", c.DBDriver)
	}
	if c.AuthSecret == "" {
		return errors.New("auth_secret must not be empty")
	}
	e := c.Exams
	if e.DefaultMaxAttempts <= 0 || e.MaxRecordRetries <= 0 {
		return errors.New("exams: default_max_attempts and max_record_retries must be positive")
	}
	return nil
}

func applyEnv(c *Config) {
	c.Mode = Mode(envOr("MODE", string(c.Mode)))
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogPretty = envBool("LOG_PRETTY", c.LogPretty)
	c.AuthSecret = envOr("AUTH_HMAC_SECRET", c.AuthSecret)
	c.TokenTTL = envDuration("TOKEN_TTL", c.TokenTTL)
	c.EnableLocalAuth = envBool("ENABLE_LOCAL_AUTH", c.EnableLocalAuth)
	c.AdminUser = envOr("ADMIN_USER", c.AdminUser)
	c.AdminPassHash = envOr("ADMIN_PASS_HASH", c.AdminPassHash)
	c.CORSOrigins = csvOr("CORS_ORIGINS", c.CORSOrigins)

	c.Exams.DefaultMaxAttempts = envInt("EXAM_DEFAULT_MAX_ATTEMPTS", c.Exams.DefaultMaxAttempts)
	c.Exams.MaxRecordRetries = envInt("EXAM_MAX_RECORD_RETRIES", c.Exams.MaxRecordRetries)
	c.Exams.ReadRetries = envInt("EXAM_READ_RETRIES", c.Exams.ReadRetries)
	c.Exams.ReadBackoff = envDuration("EXAM_READ_BACKOFF", c.Exams.ReadBackoff)
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}
func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}
func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
