package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type App struct {
	Env             string        `yaml:"env"`
	HTTPPort        string        `yaml:"http_port" validate:"required,numeric"`
	CodeValidity    time.Duration `yaml:"code_validity" validate:"gt=0"`
	CodeLength      int           `yaml:"code_length" validate:"min=4,max=64"`
	QRSize          int           `yaml:"qr_size" validate:"min=64,max=2048"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisAddr       string        `yaml:"redis_addr" validate:"required_if=QueueBackend redis"`
	QueueBackend    string        `yaml:"queue_backend" validate:"oneof=memory redis"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" validate:"gte=0"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TLSCertFile     string        `yaml:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile      string        `yaml:"tls_key_file" validate:"required_with=TLSCertFile"`
	ExportDir       string        `yaml:"export_dir"`
	ExportCron      string        `yaml:"export_cron"`
	RosterPath      string        `yaml:"roster_path"`
	RosterIDHeaders []string      `yaml:"roster_id_headers"`
	LogLevel        string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `yaml:"log_format" validate:"oneof=text json"`

	CloudinaryCloudName string `yaml:"cloudinary_cloud_name"`
	CloudinaryAPIKey    string `yaml:"cloudinary_api_key"`
	CloudinaryAPISecret string `yaml:"cloudinary_api_secret"`
	CloudinaryFolder    string `yaml:"cloudinary_folder"`
}

// Defaults returns the built-in configuration.
func Defaults() App {
	return App{
		Env:             "dev",
		HTTPPort:        "5000",
		CodeValidity:    30 * time.Second,
		CodeLength:      10,
		QRSize:          256,
		RedisAddr:       "localhost:6379",
		QueueBackend:    "memory",
		RateLimitPerMin: 120,
		ExportDir:       "exports",
		LogLevel:        "info",
		LogFormat:       "text",

		CloudinaryFolder: "attendance-reports",
	}
}

// Load returns the defaults overridden by environment variables.
func Load() App {
	return fromEnv(Defaults())
}

// LoadFile reads a YAML file over the defaults, then applies environment
// variables. An empty path behaves like Load.
func LoadFile(path string) (App, error) {
	base := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &base); err != nil {
			return App{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return fromEnv(base), nil
}

var validate = validator.New()

// Validate checks field constraints.
func (a App) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Production reports whether the app runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// TLSEnabled reports whether both TLS files are configured.
func (a App) TLSEnabled() bool {
	return a.TLSCertFile != "" && a.TLSKeyFile != ""
}

// CloudinaryEnabled reports whether report uploads are configured.
func (a App) CloudinaryEnabled() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

func fromEnv(base App) App {
	return App{
		Env:             getEnv("APP_ENV", base.Env),
		HTTPPort:        getEnv("HTTP_PORT", base.HTTPPort),
		CodeValidity:    durationEnv("CODE_VALIDITY", base.CodeValidity),
		CodeLength:      intEnv("CODE_LENGTH", base.CodeLength),
		QRSize:          intEnv("QR_SIZE", base.QRSize),
		DatabaseURL:     getEnv("DATABASE_URL", base.DatabaseURL),
		RedisAddr:       getEnv("REDIS_ADDR", base.RedisAddr),
		QueueBackend:    getEnv("QUEUE_BACKEND", base.QueueBackend),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", base.RateLimitPerMin),
		CORSOrigins:     listEnv("CORS_ORIGINS", base.CORSOrigins),
		TLSCertFile:     getEnv("TLS_CERT_FILE", base.TLSCertFile),
		TLSKeyFile:      getEnv("TLS_KEY_FILE", base.TLSKeyFile),
		ExportDir:       getEnv("EXPORT_DIR", base.ExportDir),
		ExportCron:      getEnv("EXPORT_CRON", base.ExportCron),
		RosterPath:      getEnv("ROSTER_PATH", base.RosterPath),
		RosterIDHeaders: listEnv("ROSTER_ID_HEADERS", base.RosterIDHeaders),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", base.LogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", base.LogFormat)),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", base.CloudinaryCloudName),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", base.CloudinaryAPIKey),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", base.CloudinaryAPISecret),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", base.CloudinaryFolder),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

// listEnv splits a comma separated value, dropping empty items.
func listEnv(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
