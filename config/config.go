// config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

type DBConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	User         string        `mapstructure:"user" validate:"required"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname" validate:"required"`
	SSLMode      string        `mapstructure:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// DSN returns the pool connection string: URL() plus pool sizing. The URL form
// keeps empty or spaced passwords intact.
func (c DBConfig) DSN() string {
	u := c.url()
	q := u.Query()
	q.Set("pool_max_conns", strconv.Itoa(c.MaxOpenConns))
	u.RawQuery = q.Encode()
	return u.String()
}

// URL returns the postgres:// form used by the migration runner.
func (c DBConfig) URL() string {
	u := c.url()
	return u.String()
}

func (c DBConfig) url() url.URL {
	return url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
}

type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key" validate:"required"`
	PublishableKey string `mapstructure:"publishable_key" validate:"required"`
	WebhookSecret  string `mapstructure:"webhook_secret" validate:"required"`
	Currency       string `mapstructure:"currency" validate:"required,len=3"`
}

type GPTConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type CRMConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port" validate:"required,numeric"`
	FrontendURL string `mapstructure:"frontend_url" validate:"required,url"`
}

type Config struct {
	Telegram        TelegramConfig `mapstructure:"telegram"`
	DB              DBConfig       `mapstructure:"db"`
	Stripe          StripeConfig   `mapstructure:"stripe"`
	GPT             GPTConfig      `mapstructure:"gpt"`
	CRM             CRMConfig      `mapstructure:"crm"`
	Server          ServerConfig   `mapstructure:"server"`
	Environment     string         `mapstructure:"environment" validate:"oneof=development production"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"telegram.token":         "TELEGRAM_BOT_TOKEN",
	"db.host":                "DB_HOST",
	"db.port":                "DB_PORT",
	"db.user":                "DB_USER",
	"db.password":            "DB_PASSWORD",
	"db.dbname":              "DB_NAME",
	"db.sslmode":             "DB_SSL_MODE",
	"db.max_open_conns":      "DB_MAX_OPEN_CONNS",
	"db.max_idle_conns":      "DB_MAX_IDLE_CONNS",
	"db.conn_lifetime":       "DB_CONN_LIFETIME",
	"stripe.secret_key":      "STRIPE_SECRET_KEY",
	"stripe.publishable_key": "STRIPE_PUBLISHABLE_KEY",
	"stripe.webhook_secret":  "STRIPE_WEBHOOK_SECRET",
	"stripe.currency":        "STRIPE_CURRENCY",
	"gpt.api_key":            "GPT_API_KEY",
	"gpt.model":              "GPT_MODEL",
	"crm.username":           "CRM_USERNAME",
	"crm.password":           "CRM_PASSWORD",
	"server.port":            "PORT",
	"server.frontend_url":    "FRONTEND_URL",
	"environment":            "APP_ENV",
	"shutdown_timeout":       "SHUTDOWN_TIMEOUT",
}

// Load loads the configuration from .env, an optional config file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.techlab-bot")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file: defaults and environment variables only.
	} else {
		expandPlaceholders(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("environment", EnvProduction)
	v.SetDefault("gpt.model", "gpt-4o-mini")
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("stripe.currency", "kzt")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.dbname", "techlab")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_lifetime", 5*time.Minute)
}

// expandPlaceholders replaces ${ENV_VAR} values from the config file.
func expandPlaceholders(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			v.Set(key, os.Getenv(envVar))
		}
	}
}

// Validate checks that every required option is present and well formed.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ConsultantEnabled reports whether the AI consultant has credentials.
func (c *Config) ConsultantEnabled() bool {
	return c.GPT.APIKey != ""
}

// CRMAuthEnabled reports whether the dashboard is behind basic auth.
func (c *Config) CRMAuthEnabled() bool {
	return c.CRM.Username != ""
}
