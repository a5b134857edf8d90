package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lexflow/backend/pkg/encrypt"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Feishu      FeishuConfig      `mapstructure:"feishu"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Encrypt     EncryptConfig     `mapstructure:"encrypt"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	Charset      string `mapstructure:"charset"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN builds the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.Charset)
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	EventTTLHours int    `mapstructure:"event_ttl_hours"`
}

type FeishuConfig struct {
	AppID     string    `mapstructure:"app_id"`
	AppSecret string    `mapstructure:"app_secret"`
	Bot       BotConfig `mapstructure:"bot"`
}

type BotConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	EncryptKey        string `mapstructure:"encrypt_key"`
	VerificationToken string `mapstructure:"verification_token"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EncryptConfig struct {
	AESKey string `mapstructure:"aes_key"`
}

// PermissionsConfig lists the roles known to the permission cascade.
// Elevated roles get blanket view and use on every document.
type PermissionsConfig struct {
	Roles         []string `mapstructure:"roles"`
	ElevatedRoles []string `mapstructure:"elevated_roles"`
}

type NotifyConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

var Global *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.dbname", "lexflow")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.event_ttl_hours", 72)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("encrypt.aes_key", "")

	v.SetDefault("feishu.app_id", "")
	v.SetDefault("feishu.app_secret", "")
	v.SetDefault("feishu.bot.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("permissions.roles", []string{"client", "lawyer", "reviewer"})
	v.SetDefault("permissions.elevated_roles", []string{"reviewer"})

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
}

// Load reads the YAML file at path. Values from a .env file next to the
// process and LEXFLOW_* environment variables override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LEXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	Global = &cfg
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Encrypt.AESKey != "" && !encrypt.ValidKey(c.Encrypt.AESKey) {
		return fmt.Errorf("config: encrypt.aes_key: %w, got %d", encrypt.ErrKeySize, len(c.Encrypt.AESKey))
	}
	known := make(map[string]bool, len(c.Permissions.Roles))
	for _, r := range c.Permissions.Roles {
		known[r] = true
	}
	for _, r := range c.Permissions.ElevatedRoles {
		if !known[r] {
			return fmt.Errorf("config: elevated role %q is not in permissions.roles", r)
		}
	}
	if c.Notify.Workers < 1 {
		c.Notify.Workers = 1
	}
	return nil
}
